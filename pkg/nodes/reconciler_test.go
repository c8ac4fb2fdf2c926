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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/telemetry"
)

var errStoreDown = errors.New("store down")

// memRepo is a minimal Repository used to exercise the merge policy end to end.
type memRepo struct {
	mu      sync.Mutex
	nodes   map[string]*models.Node
	upserts int
}

func newMemRepo() *memRepo {
	return &memRepo{nodes: make(map[string]*models.Node)}
}

func (m *memRepo) Find(_ context.Context, uuid string) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.nodes[uuid].Clone(), nil
}

func (m *memRepo) Upsert(_ context.Context, node *models.Node) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upserts++
	m.nodes[node.UUID] = node.Clone()

	return node.Clone(), nil
}

func (m *memRepo) Remove(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nodes, uuid)

	return nil
}

func decode(t *testing.T, payload string, at time.Time) *telemetry.Reading {
	t.Helper()

	r, err := telemetry.Decode("novacomm.n1.rx", []byte(payload), at)
	require.NoError(t, err)

	return r
}

func TestReconcileCreateThenMergeScenario(t *testing.T) {
	repo := newMemRepo()
	rec := NewReconciler(repo, logger.NewTestLogger())
	ctx := context.Background()

	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	node, kind, err := rec.Reconcile(ctx, decode(t, `{"id":"n1","lat":1.0}`, t0))
	require.NoError(t, err)
	assert.Equal(t, Created, kind)
	assert.Equal(t, models.EventNodeCreated, kind.EventKind())
	require.NotNil(t, node.Lat)
	assert.InDelta(t, 1.0, *node.Lat, 0)
	assert.Nil(t, node.Lng)
	assert.Equal(t, models.NodeStatusOnline, node.Status)
	assert.Equal(t, "Node n1", node.Name)
	assert.Equal(t, models.DefaultNodeMode, node.Mode)
	assert.NotNil(t, node.Configuration)
	assert.Nil(t, node.TxPower)
	assert.Equal(t, t0, node.LastSeen)

	t1 := t0.Add(time.Minute)

	node, kind, err = rec.Reconcile(ctx, decode(t, `{"id":"n1"}`, t1))
	require.NoError(t, err)
	assert.Equal(t, Updated, kind)
	require.NotNil(t, node.Lat)
	assert.InDelta(t, 1.0, *node.Lat, 0)
	assert.Equal(t, t1, node.LastSeen)
}

func TestReconcileMergeOverwritesPresentFieldsOnly(t *testing.T) {
	repo := newMemRepo()
	rec := NewReconciler(repo, logger.NewTestLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := rec.Reconcile(ctx, decode(t, `{
		"uuid":"n1","name":"Alpha","lat":1,"lng":2,"mode":"relay","tx_power":10,
		"freq":915,"bandwidth":125,"ai_model":"m1","firmware":"1.0","configuration":{"a":1}
	}`, now))
	require.NoError(t, err)

	node, _, err := rec.Reconcile(ctx, decode(t, `{"uuid":"n1","lng":5,"firmware":"1.1"}`, now.Add(time.Second)))
	require.NoError(t, err)

	assert.Equal(t, "Alpha", node.Name)
	assert.InDelta(t, 1.0, *node.Lat, 0)
	assert.InDelta(t, 5.0, *node.Lng, 0)
	assert.Equal(t, "relay", node.Mode)
	assert.Equal(t, 10, *node.TxPower)
	assert.InDelta(t, 915.0, *node.Freq, 0)
	assert.InDelta(t, 125.0, *node.Bandwidth, 0)
	assert.Equal(t, "m1", *node.AIModel)
	assert.Equal(t, "1.1", *node.Firmware)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, node.Configuration)
}

func TestReconcileLastSeenNeverMovesBackwards(t *testing.T) {
	repo := newMemRepo()
	rec := NewReconciler(repo, logger.NewTestLogger())
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{5, 1, 9, 3, 9, 12, 0}

	var last time.Time

	for _, off := range offsets {
		node, _, err := rec.Reconcile(ctx, decode(t, `{"uuid":"n1"}`, base.Add(off*time.Second)))
		require.NoError(t, err)
		assert.False(t, node.LastSeen.Before(last), "last_seen regressed")
		last = node.LastSeen
	}

	assert.Equal(t, base.Add(12*time.Second), last)
}

func TestReconcileForcesOnline(t *testing.T) {
	repo := newMemRepo()
	repo.nodes["n1"] = &models.Node{UUID: "n1", Name: "x", Status: models.NodeStatusOffline}

	node, kind, err := NewReconciler(repo, logger.NewTestLogger()).
		Reconcile(context.Background(), decode(t, `{"uuid":"n1"}`, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, Updated, kind)
	assert.Equal(t, models.NodeStatusOnline, node.Status)
}

func TestReconcileRepositoryFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	rec := NewReconciler(repo, logger.NewTestLogger(), WithTimeout(time.Second))
	reading := decode(t, `{"uuid":"n1"}`, time.Now())

	repo.EXPECT().Find(gomock.Any(), "n1").Return(nil, errStoreDown)

	_, _, err := rec.Reconcile(context.Background(), reading)
	require.ErrorIs(t, err, ErrRepository)
	require.ErrorIs(t, err, errStoreDown)

	repo.EXPECT().Find(gomock.Any(), "n1").Return(nil, nil)
	repo.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil, errStoreDown)

	_, _, err = rec.Reconcile(context.Background(), reading)
	require.ErrorIs(t, err, ErrRepository)
}

func TestReconcileDoesNotMutateStoredNode(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)

	lat := 3.0
	stored := &models.Node{UUID: "n1", Lat: &lat, Status: models.NodeStatusOffline}

	repo.EXPECT().Find(gomock.Any(), "n1").Return(stored, nil)
	repo.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n *models.Node) (*models.Node, error) { return n, nil },
	)

	node, _, err := NewReconciler(repo, logger.NewTestLogger()).
		Reconcile(context.Background(), decode(t, `{"uuid":"n1","lat":7}`, time.Now()))
	require.NoError(t, err)

	assert.InDelta(t, 7.0, *node.Lat, 0)
	assert.InDelta(t, 3.0, *stored.Lat, 0)
	assert.Equal(t, models.NodeStatusOffline, stored.Status)
}

func TestReconcileConcurrentReadingsSameNode(t *testing.T) {
	repo := newMemRepo()
	rec := NewReconciler(repo, logger.NewTestLogger())
	ctx := context.Background()

	const n = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)

	readings := make([]*telemetry.Reading, n)
	for i := range readings {
		readings[i] = decode(t, fmt.Sprintf(`{"uuid":"n1","configuration":{"k%d":true}}`, i), time.Now())
	}

	for _, r := range readings {
		wg.Add(1)

		go func(r *telemetry.Reading) {
			defer wg.Done()

			_, kind, err := rec.Reconcile(ctx, r)
			if !assert.NoError(t, err) {
				return
			}

			if kind == Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(r)
	}

	wg.Wait()

	assert.Equal(t, 1, created, "exactly one reading creates the node")
	assert.Equal(t, n, repo.upserts)
}

func TestRemove(t *testing.T) {
	repo := newMemRepo()
	rec := NewReconciler(repo, logger.NewTestLogger())
	ctx := context.Background()

	require.ErrorIs(t, rec.Remove(ctx, "missing"), ErrNodeNotFound)

	_, _, err := rec.Reconcile(ctx, decode(t, `{"uuid":"n1"}`, time.Now()))
	require.NoError(t, err)
	require.NoError(t, rec.Remove(ctx, "n1"))

	found, err := repo.Find(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, found)
}
