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

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/nodes"
	"github.com/carverauto/novacomm/pkg/ota"
	"github.com/carverauto/novacomm/pkg/recorder"
)

// Conn is the subset of *pgxpool.Pool the store uses.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is the CNPG-backed repository for nodes, telemetry and OTA tasks.
type Store struct {
	pool   Conn
	logger logger.Logger
}

var (
	_ nodes.Repository = (*Store)(nil)
	_ recorder.Store   = (*Store)(nil)
	_ ota.TaskStore    = (*Store)(nil)
)

// NewStore wraps pool.
func NewStore(pool Conn, log logger.Logger) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}

	return &Store{pool: pool, logger: log}, nil
}

const nodeColumns = `uuid, name, lat, lng, mode, tx_power, freq, bandwidth, ai_model, firmware, configuration, status, last_seen`

const upsertNodeSQL = `
INSERT INTO nodes (` + nodeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (uuid) DO UPDATE SET
    name = EXCLUDED.name,
    lat = EXCLUDED.lat,
    lng = EXCLUDED.lng,
    mode = EXCLUDED.mode,
    tx_power = EXCLUDED.tx_power,
    freq = EXCLUDED.freq,
    bandwidth = EXCLUDED.bandwidth,
    ai_model = EXCLUDED.ai_model,
    firmware = EXCLUDED.firmware,
    configuration = EXCLUDED.configuration,
    status = EXCLUDED.status,
    last_seen = GREATEST(nodes.last_seen, EXCLUDED.last_seen)
RETURNING ` + nodeColumns

// Find returns the stored node, or nil when none exists.
func (s *Store) Find(ctx context.Context, uuid string) (*models.Node, error) {
	var node *models.Node

	err := s.withRetry(ctx, "find_node", func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE uuid = $1`, uuid)

		n, err := scanNode(row)
		if errors.Is(err, pgx.ErrNoRows) {
			node = nil
			return nil
		}

		node = n

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cnpg: find node %s: %w", uuid, err)
	}

	return node, nil
}

// Upsert writes node and returns the stored row. last_seen never moves backwards.
func (s *Store) Upsert(ctx context.Context, node *models.Node) (*models.Node, error) {
	cfg, err := json.Marshal(configurationOrEmpty(node.Configuration))
	if err != nil {
		return nil, fmt.Errorf("cnpg: marshal configuration for %s: %w", node.UUID, err)
	}

	var stored *models.Node

	err = s.withRetry(ctx, "upsert_node", func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, upsertNodeSQL,
			node.UUID, node.Name, node.Lat, node.Lng, node.Mode, node.TxPower,
			node.Freq, node.Bandwidth, node.AIModel, node.Firmware, cfg,
			string(node.Status), node.LastSeen.UTC(),
		)

		n, err := scanNode(row)
		stored = n

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cnpg: upsert node %s: %w", node.UUID, err)
	}

	return stored, nil
}

// Remove deletes a node and, by cascade, its telemetry and tasks.
func (s *Store) Remove(ctx context.Context, uuid string) error {
	err := s.withRetry(ctx, "remove_node", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `DELETE FROM nodes WHERE uuid = $1`, uuid)
		return err
	})
	if err != nil {
		return fmt.Errorf("cnpg: remove node %s: %w", uuid, err)
	}

	return nil
}

// AppendPacket inserts one packet row.
func (s *Store) AppendPacket(ctx context.Context, packet *models.Packet) error {
	err := s.withRetry(ctx, "append_packet", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO packets (id, node_id, payload, snr, rssi, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
			packet.ID, packet.NodeID, packet.Payload, packet.SNR, packet.RSSI, packet.Timestamp.UTC(),
		)

		return err
	})

	return s.appendErr("packet", packet.NodeID, err)
}

// AppendAILog inserts one inference log row.
func (s *Store) AppendAILog(ctx context.Context, entry *models.AILog) error {
	var prediction []byte
	if len(entry.Prediction) > 0 {
		prediction = entry.Prediction
	}

	err := s.withRetry(ctx, "append_ai_log", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO ai_logs (id, node_id, model_name, prediction, accuracy, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID, entry.NodeID, entry.ModelName, prediction, entry.Accuracy, entry.Timestamp.UTC(),
		)

		return err
	})

	return s.appendErr("ai log", entry.NodeID, err)
}

const taskColumns = `id, node_id, firmware_version, status, progress, file_url, start_time, end_time`

const insertTaskHistorySQL = `INSERT INTO ota_task_history (task_id, status, progress, recorded_at) VALUES ($1, $2, $3, now())`

// Create inserts a new task and its first history row.
func (s *Store) Create(ctx context.Context, task *models.OTATask) (*models.OTATask, error) {
	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO ota_tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.NodeID, task.FirmwareVersion, string(task.Status), task.Progress,
		task.FileURL, task.StartTime.UTC(), task.EndTime,
	)
	batch.Queue(insertTaskHistorySQL, task.ID, string(task.Status), task.Progress)

	err := s.withRetry(ctx, "create_ota_task", func(ctx context.Context) error {
		return sendBatchExecAll(ctx, batch, s.pool.SendBatch, "create ota task")
	})
	if err := s.appendErr("ota task", task.NodeID, err); err != nil {
		return nil, err
	}

	return task.Clone(), nil
}

// Update writes the mutable task columns and appends a history row in the
// same batch.
func (s *Store) Update(ctx context.Context, task *models.OTATask) error {
	batch := &pgx.Batch{}
	batch.Queue(
		`UPDATE ota_tasks SET status = $2, progress = $3, end_time = $4 WHERE id = $1`,
		task.ID, string(task.Status), task.Progress, task.EndTime,
	)
	batch.Queue(insertTaskHistorySQL, task.ID, string(task.Status), task.Progress)

	err := s.withRetry(ctx, "update_ota_task", func(ctx context.Context) error {
		return sendBatchExecAll(ctx, batch, s.pool.SendBatch, "update ota task")
	})
	if err != nil {
		return fmt.Errorf("cnpg: update ota task %s: %w", task.ID, err)
	}

	return nil
}

// Get loads a task, or nil when none exists.
func (s *Store) Get(ctx context.Context, id string) (*models.OTATask, error) {
	// ota_tasks.id is a UUID column; any other id cannot match a row.
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var task *models.OTATask

	err := s.withRetry(ctx, "get_ota_task", func(ctx context.Context) error {
		t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM ota_tasks WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			task = nil
			return nil
		}

		task = t

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cnpg: get ota task %s: %w", id, err)
	}

	return task, nil
}

// ListNodes returns every node ordered by id.
func (s *Store) ListNodes(ctx context.Context) ([]*models.Node, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY uuid`)
	if err != nil {
		return nil, fmt.Errorf("cnpg: list nodes: %w", err)
	}
	defer rows.Close()

	var out []*models.Node

	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("cnpg: scan node: %w", err)
		}

		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cnpg: iterate nodes: %w", err)
	}

	return out, nil
}

func (*Store) appendErr(what, nodeID string, err error) error {
	if err == nil {
		return nil
	}

	if code, _ := classifyCNPGError(err); code == sqlstateForeignKeyViolation {
		return fmt.Errorf("cnpg: insert %s: %w: %s", what, ErrNodeMissing, nodeID)
	}

	return fmt.Errorf("cnpg: insert %s for %s: %w", what, nodeID, err)
}

func scanNode(row pgx.Row) (*models.Node, error) {
	var (
		n        models.Node
		status   string
		cfg      []byte
		lastSeen time.Time
	)

	if err := row.Scan(
		&n.UUID, &n.Name, &n.Lat, &n.Lng, &n.Mode, &n.TxPower, &n.Freq,
		&n.Bandwidth, &n.AIModel, &n.Firmware, &cfg, &status, &lastSeen,
	); err != nil {
		return nil, err
	}

	n.Status = models.NodeStatus(status)
	n.LastSeen = lastSeen.UTC()
	n.Configuration = map[string]interface{}{}

	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &n.Configuration); err != nil {
			return nil, fmt.Errorf("decode configuration: %w", err)
		}
	}

	return &n, nil
}

func scanTask(row pgx.Row) (*models.OTATask, error) {
	var (
		t      models.OTATask
		status string
	)

	if err := row.Scan(
		&t.ID, &t.NodeID, &t.FirmwareVersion, &status, &t.Progress,
		&t.FileURL, &t.StartTime, &t.EndTime,
	); err != nil {
		return nil, err
	}

	t.Status = models.OTAStatus(status)
	t.StartTime = t.StartTime.UTC()

	return &t, nil
}

func configurationOrEmpty(cfg map[string]interface{}) map[string]interface{} {
	if cfg == nil {
		return map[string]interface{}{}
	}

	return cfg
}

func sendBatchExecAll(ctx context.Context, batch *pgx.Batch, send func(context.Context, *pgx.Batch) pgx.BatchResults, operation string) (err error) {
	if batch == nil || batch.Len() == 0 {
		return nil
	}

	br := send(ctx, batch)
	defer func() {
		if closeErr := br.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%s batch close: %w", operation, closeErr)
		}
	}()

	for i := 0; i < batch.Len(); i++ {
		if _, err = br.Exec(); err != nil {
			return fmt.Errorf("%s batch exec (command %d): %w", operation, i, err)
		}
	}

	return nil
}
