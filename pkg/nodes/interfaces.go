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

//go:generate mockgen -destination=mock_repository.go -package=nodes github.com/carverauto/novacomm/pkg/nodes Repository

// Package nodes applies decoded readings to stored node state.
package nodes

import (
	"context"
	"errors"

	"github.com/carverauto/novacomm/pkg/models"
)

var (
	// ErrRepository wraps every failure reported by the node store.
	ErrRepository = errors.New("node repository failure")
	// ErrNodeNotFound is returned by Remove for an unknown node.
	ErrNodeNotFound = errors.New("node not found")
)

// Repository persists nodes. Find returns (nil, nil) for an unknown id.
type Repository interface {
	Find(ctx context.Context, uuid string) (*models.Node, error)
	Upsert(ctx context.Context, node *models.Node) (*models.Node, error)
	Remove(ctx context.Context, uuid string) error
}

// ChangeKind says whether a reconcile created or updated the node.
type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Updated
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// EventKind maps the change to the broadcast event tag.
func (k ChangeKind) EventKind() models.EventKind {
	if k == Created {
		return models.EventNodeCreated
	}

	return models.EventNodeUpdated
}
