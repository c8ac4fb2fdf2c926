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

package ota

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/novacomm/pkg/keylock"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
)

const (
	// InitialProgress is stamped on a task when the node accepts the deploy.
	InitialProgress = 10.0
	maxProgress     = 100.0

	defaultRepositoryTimeout = 5 * time.Second
	defaultDeployTimeout     = 30 * time.Second
)

// Tracker owns the rollout state machine. Mutations of one task are
// serialized; different tasks proceed in parallel.
type Tracker struct {
	store     TaskStore
	deployer  Deployer
	publisher Publisher
	locks     *keylock.Map
	timeout   time.Duration
	deployTTL time.Duration
	now       func() time.Time
	logger    logger.Logger
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithTimeout bounds each task store round trip.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithDeployTimeout bounds a single deploy attempt.
func WithDeployTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.deployTTL = d
		}
	}
}

// WithClock overrides the time source used for start and end stamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker builds a tracker.
func NewTracker(store TaskStore, deployer Deployer, publisher Publisher, log logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		deployer:  deployer,
		publisher: publisher,
		locks:     keylock.New(),
		timeout:   defaultRepositoryTimeout,
		deployTTL: defaultDeployTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start creates a pending task and issues the deploy attempt. An accepted
// attempt moves the task to in_progress at InitialProgress; a rejected or
// failed attempt ends it as failed with progress 0. The deploy outcome is
// reported through the returned task, not the error.
func (t *Tracker) Start(ctx context.Context, nodeID, version string) (*models.OTATask, error) {
	if nodeID == "" || version == "" {
		return nil, fmt.Errorf("%w: node and firmware version are required", ErrInvalidRequest)
	}

	task := &models.OTATask{
		ID:              uuid.NewString(),
		NodeID:          nodeID,
		FirmwareVersion: version,
		Status:          models.OTAStatusPending,
		FileURL:         models.FirmwareURL(version),
		StartTime:       t.now(),
	}

	unlock, err := t.locks.Lock(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("lock task %s: %w", task.ID, err)
	}
	defer unlock()

	created, err := t.create(ctx, task)
	if err != nil {
		return nil, err
	}

	t.publish(models.EventOTATaskCreated, created)

	// Once the task exists it must leave pending, even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	accepted, err := t.deploy(ctx, created)
	if err != nil {
		t.logger.Warn().Err(err).
			Str("task_id", created.ID).
			Str("node_id", nodeID).
			Msg("Deploy attempt failed")
	}

	next := created.Clone()

	if err == nil && accepted {
		next.Status = models.OTAStatusInProgress
		next.Progress = InitialProgress
	} else {
		t.finish(next, models.OTAStatusFailed)
		next.Progress = 0
	}

	if err := t.update(ctx, next); err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("task_id", next.ID).
		Str("node_id", nodeID).
		Str("version", version).
		Str("status", string(next.Status)).
		Msg("OTA task started")

	t.publish(models.EventOTATaskUpdated, next)

	return next.Clone(), nil
}

// UpdateProgress applies a progress report. Progress is clamped to [0,100].
// Terminal tasks reject every report with ErrInvalidTransition. Once a task
// has left pending, lowering its progress yields ErrProgressRegression.
// Reaching 100 completes the task unless the report marks it failed.
func (t *Tracker) UpdateProgress(ctx context.Context, taskID string, upd Update) (*models.OTATask, error) {
	unlock, err := t.locks.Lock(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("lock task %s: %w", taskID, err)
	}
	defer unlock()

	current, err := t.get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if upd.NodeID != "" && upd.NodeID != current.NodeID {
		return nil, fmt.Errorf("%w: task %s does not belong to node %s", ErrTaskNotFound, taskID, upd.NodeID)
	}

	next, err := t.transition(current, upd)
	if err != nil {
		return nil, err
	}

	if err := t.update(ctx, next); err != nil {
		return nil, err
	}

	t.logger.Debug().
		Str("task_id", taskID).
		Float64("progress", next.Progress).
		Str("status", string(next.Status)).
		Msg("OTA progress updated")

	t.publish(models.EventOTATaskUpdated, next)

	return next.Clone(), nil
}

// MarkFailed ends a non-terminal task as failed.
func (t *Tracker) MarkFailed(ctx context.Context, taskID string) (*models.OTATask, error) {
	failed := models.OTAStatusFailed

	return t.UpdateProgress(ctx, taskID, Update{Status: &failed})
}

// Get returns a snapshot of the task.
func (t *Tracker) Get(ctx context.Context, taskID string) (*models.OTATask, error) {
	return t.get(ctx, taskID)
}

func (t *Tracker) transition(current *models.OTATask, upd Update) (*models.OTATask, error) {
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, current.ID, current.Status)
	}

	next := current.Clone()

	if upd.Progress != nil {
		p := clamp(*upd.Progress)

		if current.Status != models.OTAStatusPending && p < current.Progress {
			return nil, fmt.Errorf("%w: task %s at %.1f, got %.1f", ErrProgressRegression, current.ID, current.Progress, p)
		}

		next.Progress = p
	}

	status := models.OTAStatusInProgress
	if upd.Status != nil {
		status = *upd.Status
	}

	switch status {
	case models.OTAStatusFailed:
		t.finish(next, models.OTAStatusFailed)
	case models.OTAStatusCompleted:
		next.Progress = maxProgress
		t.finish(next, models.OTAStatusCompleted)
	case models.OTAStatusInProgress:
		if next.Progress >= maxProgress {
			t.finish(next, models.OTAStatusCompleted)
		} else {
			next.Status = models.OTAStatusInProgress
		}
	default:
		return nil, fmt.Errorf("%w: task %s cannot return to %s", ErrInvalidTransition, current.ID, status)
	}

	return next, nil
}

func (t *Tracker) finish(task *models.OTATask, status models.OTAStatus) {
	end := t.now()
	task.Status = status
	task.EndTime = &end
}

func (t *Tracker) deploy(ctx context.Context, task *models.OTATask) (bool, error) {
	ctx, cancel := context.WithTimeout(WithTaskID(ctx, task.ID), t.deployTTL)
	defer cancel()

	return t.deployer.AttemptDeploy(ctx, task.NodeID, task.FirmwareVersion)
}

func (t *Tracker) create(ctx context.Context, task *models.OTATask) (*models.OTATask, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	created, err := t.store.Create(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("%w: create task for %s: %w", ErrRepository, task.NodeID, err)
	}

	if created == nil {
		created = task
	}

	return created.Clone(), nil
}

func (t *Tracker) update(ctx context.Context, task *models.OTATask) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.store.Update(ctx, task); err != nil {
		return fmt.Errorf("%w: update task %s: %w", ErrRepository, task.ID, err)
	}

	return nil
}

func (t *Tracker) get(ctx context.Context, taskID string) (*models.OTATask, error) {
	// Task ids are always minted as UUIDs; a device echoing anything else
	// is reporting on a task that cannot exist.
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	task, err := t.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: get task %s: %w", ErrRepository, taskID, err)
	}

	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	return task.Clone(), nil
}

func (t *Tracker) publish(kind models.EventKind, task *models.OTATask) {
	if t.publisher == nil {
		return
	}

	t.publisher.Publish(models.NewEvent(kind, task.Clone()))
}

func clamp(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}

	return math.Max(0, math.Min(maxProgress, p))
}
