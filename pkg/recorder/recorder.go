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

//go:generate mockgen -destination=mock_store.go -package=recorder github.com/carverauto/novacomm/pkg/recorder Store

// Package recorder appends immutable telemetry records.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/telemetry"
)

// ErrRepository wraps every failure reported by the telemetry store.
var ErrRepository = errors.New("telemetry repository failure")

const defaultRepositoryTimeout = 5 * time.Second

// Store is the append-only sink for packets and inference logs.
type Store interface {
	AppendPacket(ctx context.Context, packet *models.Packet) error
	AppendAILog(ctx context.Context, entry *models.AILog) error
}

// Recorder writes the packet carried by every reading and the inference log
// when one is present.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  logger.Logger
}

// NewRecorder builds a recorder. A non-positive timeout uses the default.
func NewRecorder(store Store, log logger.Logger, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = defaultRepositoryTimeout
	}

	return &Recorder{store: store, timeout: timeout, logger: log}
}

// Record appends the reading's packet and, if the reading carried a
// prediction, its AI log. The AI log is nil when no prediction was present.
// If the packet append fails the AI log is not attempted.
func (r *Recorder) Record(ctx context.Context, reading *telemetry.Reading) (*models.Packet, *models.AILog, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	packet := reading.Packet()
	packet.ID = uuid.NewString()

	if err := r.store.AppendPacket(ctx, packet); err != nil {
		return nil, nil, fmt.Errorf("%w: append packet for %s: %w", ErrRepository, reading.NodeID, err)
	}

	entry := reading.AILog()
	if entry == nil {
		return packet, nil, nil
	}

	entry.ID = uuid.NewString()

	if err := r.store.AppendAILog(ctx, entry); err != nil {
		return packet, nil, fmt.Errorf("%w: append ai log for %s: %w", ErrRepository, reading.NodeID, err)
	}

	r.logger.Debug().
		Str("node_id", reading.NodeID).
		Str("model", entry.ModelName).
		Msg("Recorded inference")

	return packet, entry, nil
}
