/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:generate mockgen -destination=mock_ota.go -package=ota github.com/carverauto/novacomm/pkg/ota TaskStore,Deployer,Publisher

// Package ota tracks firmware rollouts through their state machine.
package ota

import (
	"context"
	"errors"

	"github.com/carverauto/novacomm/pkg/models"
)

var (
	// ErrInvalidTransition is returned for an update that the task's current
	// state does not allow. The task is left unchanged.
	ErrInvalidTransition = errors.New("invalid ota transition")
	// ErrProgressRegression is returned when a report lowers the progress of
	// a task that has left pending.
	ErrProgressRegression = errors.New("ota progress regression")
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("ota task not found")
	// ErrInvalidRequest is returned by Start when node or version is empty.
	ErrInvalidRequest = errors.New("invalid ota request")
	// ErrRepository wraps every failure reported by the task store.
	ErrRepository = errors.New("ota repository failure")
)

// TaskStore persists rollout tasks. Get returns (nil, nil) for an unknown id.
type TaskStore interface {
	Create(ctx context.Context, task *models.OTATask) (*models.OTATask, error)
	Update(ctx context.Context, task *models.OTATask) error
	Get(ctx context.Context, id string) (*models.OTATask, error)
}

// Deployer asks a node to begin installing a firmware version and reports
// whether the node accepted.
type Deployer interface {
	AttemptDeploy(ctx context.Context, nodeID, version string) (bool, error)
}

// Publisher receives task events. It must not block.
type Publisher interface {
	Publish(event models.Event)
}

type taskIDKey struct{}

// WithTaskID attaches the task being deployed to the context handed to a
// Deployer, so the deploy request can name the task the node reports against.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFromContext returns the task id set by WithTaskID, if any.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)

	return id, ok && id != ""
}

// Update is a progress report for one task. A nil Progress keeps the stored
// value; a nil Status lets the tracker derive it from progress. NodeID, when
// set, must match the task's node.
type Update struct {
	NodeID   string
	Progress *float64
	Status   *models.OTAStatus
}
