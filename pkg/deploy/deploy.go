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

// Package deploy implements the firmware deployment action consulted by the
// OTA tracker.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/ota"
)

const defaultRequestTimeout = 10 * time.Second

var (
	// ErrNodeUnreachable is returned when no node is listening on the deploy subject.
	ErrNodeUnreachable = errors.New("node unreachable")
	// ErrInvalidReply is returned when the node answers with something other than a deploy reply.
	ErrInvalidReply = errors.New("invalid deploy reply")
)

// Request is the deploy instruction sent to a node.
type Request struct {
	TaskID          string `json:"task_id,omitempty"`
	FirmwareVersion string `json:"firmware_version"`
	FileURL         string `json:"file_url"`
}

// Reply is the node's answer to a deploy request.
type Reply struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Requester is the subset of *nats.Conn used by NATSDeployer.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NATSDeployer asks nodes to install firmware with a NATS request on
// "<prefix>.<node>.ota".
type NATSDeployer struct {
	conn    Requester
	cfg     *models.NATSConfig
	timeout time.Duration
	logger  logger.Logger
}

var _ ota.Deployer = (*NATSDeployer)(nil)

// NewNATSDeployer builds a deployer over conn. Subject prefix and timeout come from cfg.
func NewNATSDeployer(conn Requester, cfg *models.NATSConfig, log logger.Logger) *NATSDeployer {
	return &NATSDeployer{
		conn:    conn,
		cfg:     cfg,
		timeout: cfg.DeployTimeout.Or(defaultRequestTimeout),
		logger:  log,
	}
}

// AttemptDeploy sends the deploy request and reports the node's decision.
func (d *NATSDeployer) AttemptDeploy(ctx context.Context, nodeID, version string) (bool, error) {
	req := Request{FirmwareVersion: version, FileURL: models.FirmwareURL(version)}
	if id, ok := ota.TaskIDFromContext(ctx); ok {
		req.TaskID = id
	}

	data, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("failed to marshal deploy request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	subject := d.cfg.DeploySubject(nodeID)

	msg, err := d.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return false, fmt.Errorf("%w: %s", ErrNodeUnreachable, nodeID)
		}

		return false, fmt.Errorf("deploy request to %s: %w", subject, err)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidReply, err)
	}

	if !reply.Accepted {
		d.logger.Info().
			Str("node_id", nodeID).
			Str("version", version).
			Str("reason", reply.Reason).
			Msg("Node rejected deploy")
	}

	return reply.Accepted, nil
}

// Simulated accepts every deploy attempt without contacting the node.
type Simulated struct {
	logger logger.Logger
}

var _ ota.Deployer = (*Simulated)(nil)

// NewSimulated builds a deployer that always accepts.
func NewSimulated(log logger.Logger) *Simulated {
	return &Simulated{logger: log}
}

// AttemptDeploy always reports acceptance unless ctx is already done.
func (s *Simulated) AttemptDeploy(ctx context.Context, nodeID, version string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.logger.Debug().
		Str("node_id", nodeID).
		Str("version", version).
		Msg("Simulated deploy accepted")

	return true, nil
}
