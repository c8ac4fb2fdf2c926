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

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/novacomm/pkg/db"
	"github.com/carverauto/novacomm/pkg/deploy"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/nodes"
	"github.com/carverauto/novacomm/pkg/ota"
	"github.com/carverauto/novacomm/pkg/recorder"
	"github.com/carverauto/novacomm/pkg/telemetry"
)

var errBoom = errors.New("boom")

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (e *eventLog) Publish(event models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, event)
}

func (e *eventLog) kinds() []models.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.EventKind, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}

	return out
}

func (e *eventLog) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = nil
}

type pipeline struct {
	store   *db.MemoryStore
	events  *eventLog
	tracker *ota.Tracker
	gateway *Gateway
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	log := logger.NewTestLogger()
	store := db.NewMemoryStore(0)
	events := &eventLog{}
	tracker := ota.NewTracker(store, deploy.NewSimulated(log), events, log)

	return &pipeline{
		store:   store,
		events:  events,
		tracker: tracker,
		gateway: NewGateway(
			nodes.NewReconciler(store, log),
			recorder.NewRecorder(store, log, time.Second),
			tracker,
			events,
			log,
		),
	}
}

func TestGatewayPublishesInProcessingOrder(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	err := p.gateway.Handle(ctx, "novacomm.n1.rx",
		[]byte(`{"name":"roof","payload":"hello","snr":7.5,"rssi":-90,"ai_prediction":{"label":"ok"}}`))
	require.NoError(t, err)

	assert.Equal(t, []models.EventKind{
		models.EventNodeCreated,
		models.EventPacketCreated,
		models.EventAILogCreated,
	}, p.events.kinds())

	p.events.reset()

	require.NoError(t, p.gateway.Handle(ctx, "novacomm.n1.rx", []byte(`{"payload":"again"}`)))
	assert.Equal(t, []models.EventKind{models.EventNodeUpdated, models.EventPacketCreated}, p.events.kinds())

	node, err := p.store.Find(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "roof", node.Name)

	assert.Len(t, p.store.Packets("n1"), 2)
	assert.Len(t, p.store.AILogs("n1"), 1)
}

func TestGatewaySkipsUndecodableMessages(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	err := p.gateway.Handle(ctx, "novacomm", []byte(`{"payload":"orphan"}`))
	require.ErrorIs(t, err, telemetry.ErrUnresolvedIdentity)

	err = p.gateway.Handle(ctx, "novacomm.n1.rx", []byte(`not json`))
	require.ErrorIs(t, err, telemetry.ErrMalformedMessage)

	assert.Empty(t, p.events.kinds())

	list, err := p.store.ListNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, p.gateway.Handle(ctx, "novacomm.n2.rx", []byte(`{"payload":"fine"}`)))
	assert.Equal(t, []models.EventKind{models.EventNodeCreated, models.EventPacketCreated}, p.events.kinds())
}

func TestGatewayDecode(t *testing.T) {
	p := newPipeline(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	reading, err := p.gateway.Decode(context.Background(), "novacomm.n1.rx", []byte(`not json`), at)
	require.ErrorIs(t, err, telemetry.ErrMalformedMessage)
	assert.Nil(t, reading)

	reading, err = p.gateway.Decode(context.Background(), "novacomm.n1.rx", []byte(`{"payload":"hi"}`), at)
	require.NoError(t, err)
	require.NotNil(t, reading)
	assert.Equal(t, "n1", reading.NodeID)
	assert.Equal(t, at, reading.ReceivedAt)
	assert.Empty(t, p.events.kinds())
}

func TestGatewayAppliesOTAReports(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.gateway.Handle(ctx, "novacomm.n1.rx", []byte(`{"payload":"boot"}`)))

	task, err := p.tracker.Start(ctx, "n1", "1.2.0")
	require.NoError(t, err)
	require.Equal(t, models.OTAStatusInProgress, task.Status)

	p.events.reset()

	report := `{"payload":"ota","ota":{"task_id":"` + task.ID + `","progress":50}}`
	require.NoError(t, p.gateway.Handle(ctx, "novacomm.n1.rx", []byte(report)))

	assert.Equal(t, []models.EventKind{
		models.EventNodeUpdated,
		models.EventPacketCreated,
		models.EventOTATaskUpdated,
	}, p.events.kinds())

	got, err := p.tracker.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, got.Progress, 0.001)

	p.events.reset()

	// A regressing report is rejected without failing the message.
	regress := `{"ota":{"task_id":"` + task.ID + `","progress":20}}`
	require.NoError(t, p.gateway.Handle(ctx, "novacomm.n1.rx", []byte(regress)))
	assert.Equal(t, []models.EventKind{models.EventNodeUpdated, models.EventPacketCreated}, p.events.kinds())

	got, err = p.tracker.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, got.Progress, 0.001)

	done := `{"ota":{"task_id":"` + task.ID + `","status":"completed"}}`
	require.NoError(t, p.gateway.Handle(ctx, "novacomm.n1.rx", []byte(done)))

	got, err = p.tracker.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OTAStatusCompleted, got.Status)
	assert.InDelta(t, 100.0, got.Progress, 0.001)
}

type failingReconciler struct{}

func (failingReconciler) Reconcile(context.Context, *telemetry.Reading) (*models.Node, nodes.ChangeKind, error) {
	return nil, 0, errBoom
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *telemetry.Reading) (*models.Packet, *models.AILog, error) {
	return nil, nil, errBoom
}

type failingTracker struct{ err error }

func (f failingTracker) UpdateProgress(context.Context, string, ota.Update) (*models.OTATask, error) {
	return nil, f.err
}

func TestGatewayIgnoresReportForUnknownTaskID(t *testing.T) {
	p := newPipeline(t)

	err := p.gateway.Handle(context.Background(), "novacomm.n1.rx",
		[]byte(`{"payload":"x","ota":{"task_id":"abc","progress":50}}`))
	require.NoError(t, err)
	assert.Equal(t, []models.EventKind{models.EventNodeCreated, models.EventPacketCreated}, p.events.kinds())
}

func TestGatewayAbandonsOnRepositoryFailure(t *testing.T) {
	log := logger.NewTestLogger()
	ctx := context.Background()

	t.Run("reconcile", func(t *testing.T) {
		events := &eventLog{}
		g := NewGateway(failingReconciler{}, failingRecorder{}, nil, events, log)

		err := g.Handle(ctx, "novacomm.n1.rx", []byte(`{"payload":"x"}`))
		require.ErrorIs(t, err, errBoom)
		assert.Empty(t, events.kinds())
	})

	t.Run("record keeps node event", func(t *testing.T) {
		events := &eventLog{}
		store := db.NewMemoryStore(0)
		g := NewGateway(nodes.NewReconciler(store, log), failingRecorder{}, nil, events, log)

		err := g.Handle(ctx, "novacomm.n1.rx", []byte(`{"payload":"x"}`))
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, []models.EventKind{models.EventNodeCreated}, events.kinds())
	})

	t.Run("ota storage", func(t *testing.T) {
		events := &eventLog{}
		store := db.NewMemoryStore(0)
		g := NewGateway(
			nodes.NewReconciler(store, log),
			recorder.NewRecorder(store, log, time.Second),
			failingTracker{err: ota.ErrRepository},
			events,
			log,
		)

		err := g.Handle(ctx, "novacomm.n1.rx", []byte(`{"ota":{"task_id":"t1","progress":5}}`))
		require.ErrorIs(t, err, ota.ErrRepository)
	})

	t.Run("ota rejection", func(t *testing.T) {
		events := &eventLog{}
		store := db.NewMemoryStore(0)
		g := NewGateway(
			nodes.NewReconciler(store, log),
			recorder.NewRecorder(store, log, time.Second),
			failingTracker{err: ota.ErrTaskNotFound},
			events,
			log,
		)

		require.NoError(t, g.Handle(ctx, "novacomm.n1.rx", []byte(`{"ota":{"task_id":"t1","progress":5}}`)))
	})
}
