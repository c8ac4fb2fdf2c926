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

package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/carverauto/novacomm/pkg/keylock"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/telemetry"
)

const defaultRepositoryTimeout = 5 * time.Second

// Reconciler upserts node state from readings. Work on one node id is
// serialized; different nodes reconcile in parallel.
type Reconciler struct {
	repo    Repository
	locks   *keylock.Map
	timeout time.Duration
	logger  logger.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithTimeout bounds each repository round trip.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewReconciler builds a reconciler over repo.
func NewReconciler(repo Repository, log logger.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		repo:    repo,
		locks:   keylock.New(),
		timeout: defaultRepositoryTimeout,
		logger:  log,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Reconcile creates the node named by reading or merges the reading into the
// stored node. The returned node is a snapshot owned by the caller.
func (r *Reconciler) Reconcile(ctx context.Context, reading *telemetry.Reading) (*models.Node, ChangeKind, error) {
	unlock, err := r.locks.Lock(ctx, reading.NodeID)
	if err != nil {
		return nil, 0, fmt.Errorf("lock node %s: %w", reading.NodeID, err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	existing, err := r.repo.Find(ctx, reading.NodeID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: find node %s: %w", ErrRepository, reading.NodeID, err)
	}

	kind := Updated

	var node *models.Node

	if existing == nil {
		kind = Created
		node = newNode(reading.NodeID)
	} else {
		node = existing.Clone()
	}

	changed := applyReading(node, reading)

	stored, err := r.repo.Upsert(ctx, node)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: upsert node %s: %w", ErrRepository, reading.NodeID, err)
	}

	if stored == nil {
		stored = node
	}

	r.logger.Debug().
		Str("node_id", reading.NodeID).
		Str("change", kind.String()).
		Strs("fields", changed).
		Msg("Reconciled node")

	return stored.Clone(), kind, nil
}

// Remove deletes a node. This is an administrative action; ingestion never calls it.
func (r *Reconciler) Remove(ctx context.Context, uuid string) error {
	unlock, err := r.locks.Lock(ctx, uuid)
	if err != nil {
		return fmt.Errorf("lock node %s: %w", uuid, err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	existing, err := r.repo.Find(ctx, uuid)
	if err != nil {
		return fmt.Errorf("%w: find node %s: %w", ErrRepository, uuid, err)
	}

	if existing == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, uuid)
	}

	if err := r.repo.Remove(ctx, uuid); err != nil {
		return fmt.Errorf("%w: remove node %s: %w", ErrRepository, uuid, err)
	}

	r.logger.Info().Str("node_id", uuid).Msg("Removed node")

	return nil
}
