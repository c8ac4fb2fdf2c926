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

// Package ingest drives inbound telemetry through decode, reconcile, record
// and publish.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/nodes"
	"github.com/carverauto/novacomm/pkg/ota"
	"github.com/carverauto/novacomm/pkg/telemetry"
)

// NodeReconciler applies a reading to node state.
type NodeReconciler interface {
	Reconcile(ctx context.Context, reading *telemetry.Reading) (*models.Node, nodes.ChangeKind, error)
}

// TelemetryRecorder appends the packet and inference log of a reading.
type TelemetryRecorder interface {
	Record(ctx context.Context, reading *telemetry.Reading) (*models.Packet, *models.AILog, error)
}

// ProgressTracker applies OTA progress reports carried by readings.
type ProgressTracker interface {
	UpdateProgress(ctx context.Context, taskID string, upd ota.Update) (*models.OTATask, error)
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(event models.Event)
}

// Gateway processes one inbound message at a time. It is safe for
// concurrent use; per-node ordering is the caller's concern.
type Gateway struct {
	nodes     NodeReconciler
	recorder  TelemetryRecorder
	tracker   ProgressTracker
	publisher Publisher
	logger    logger.Logger
	now       func() time.Time
}

// NewGateway wires the pipeline stages. tracker may be nil, in which case
// OTA reports are ignored.
func NewGateway(n NodeReconciler, r TelemetryRecorder, t ProgressTracker, p Publisher, log logger.Logger) *Gateway {
	return &Gateway{
		nodes:     n,
		recorder:  r,
		tracker:   t,
		publisher: p,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle decodes and processes one raw message. Undecodable messages are
// logged and returned as errors without side effects.
func (g *Gateway) Handle(ctx context.Context, subject string, data []byte) error {
	reading, err := g.Decode(ctx, subject, data, g.now())
	if err != nil {
		return err
	}

	return g.Process(ctx, reading)
}

// Decode wraps telemetry.Decode with logging and outcome metrics.
func (g *Gateway) Decode(ctx context.Context, subject string, data []byte, receivedAt time.Time) (*telemetry.Reading, error) {
	reading, err := telemetry.Decode(subject, data, receivedAt)
	if err == nil {
		return reading, nil
	}

	outcome := outcomeMalformed
	if errors.Is(err, telemetry.ErrUnresolvedIdentity) {
		outcome = outcomeUnresolved
	}

	recordMessage(ctx, outcome)

	g.logger.Warn().
		Err(err).
		Str("subject", subject).
		Int("bytes", len(data)).
		Msg("Skipping undecodable telemetry message")

	return nil, err
}

// Process reconciles the node, records the reading and applies any OTA
// report, publishing one event per change in that order. A repository
// failure abandons the rest of the message; events for steps that already
// committed are still published.
func (g *Gateway) Process(ctx context.Context, reading *telemetry.Reading) error {
	start := time.Now()
	defer func() { recordProcessDuration(ctx, time.Since(start)) }()

	node, kind, err := g.nodes.Reconcile(ctx, reading)
	if err != nil {
		return g.abandon(ctx, reading, "reconcile", err)
	}

	g.publish(kind.EventKind(), node)

	packet, aiLog, err := g.recorder.Record(ctx, reading)
	if packet != nil {
		g.publish(models.EventPacketCreated, packet)
	}

	if aiLog != nil {
		g.publish(models.EventAILogCreated, aiLog)
	}

	if err != nil {
		return g.abandon(ctx, reading, "record", err)
	}

	if reading.OTA != nil && g.tracker != nil {
		if err := g.applyOTA(ctx, reading); err != nil {
			return g.abandon(ctx, reading, "ota", err)
		}
	}

	recordMessage(ctx, outcomeProcessed)

	return nil
}

// applyOTA forwards the report to the tracker. Rejected transitions are
// logged and do not fail the message; only storage failures do.
func (g *Gateway) applyOTA(ctx context.Context, reading *telemetry.Reading) error {
	report := reading.OTA

	_, err := g.tracker.UpdateProgress(ctx, report.TaskID, ota.Update{
		NodeID:   reading.NodeID,
		Progress: report.Progress,
		Status:   report.Status,
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ota.ErrRepository):
		return err
	default:
		g.logger.Warn().
			Err(err).
			Str("node_id", reading.NodeID).
			Str("task_id", report.TaskID).
			Msg("Rejected OTA progress report")

		return nil
	}
}

func (g *Gateway) abandon(ctx context.Context, reading *telemetry.Reading, stage string, err error) error {
	recordMessage(ctx, outcomeAbandoned)

	g.logger.Error().
		Err(err).
		Str("node_id", reading.NodeID).
		Str("stage", stage).
		Msg("Abandoning telemetry message")

	return err
}

func (g *Gateway) publish(kind models.EventKind, data interface{}) {
	g.publisher.Publish(models.NewEvent(kind, data))
}
