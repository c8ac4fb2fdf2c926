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

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/carverauto/novacomm/pkg/models"
)

// ErrUnknownEvent is returned for frames whose type the table does not track.
var ErrUnknownEvent = errors.New("unknown event type")

// Frame is one event as received from the /ws endpoint.
type Frame struct {
	ID        string           `json:"id"`
	Type      models.EventKind `json:"type"`
	Data      json.RawMessage  `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// Row is the per-node state shown by the viewer.
type Row struct {
	Node       models.Node
	Packets    int
	LastRSSI   float64
	LastSNR    float64
	Inferences int
	LastModel  string
	OTA        *models.OTATask
}

// NodeTable folds the event stream into the latest view of every node.
type NodeTable struct {
	rows   map[string]*Row
	events int
}

// NewNodeTable returns an empty table.
func NewNodeTable() *NodeTable {
	return &NodeTable{rows: make(map[string]*Row)}
}

// Apply folds one frame into the table.
func (t *NodeTable) Apply(f Frame) error {
	t.events++

	switch f.Type {
	case models.EventNodeCreated, models.EventNodeUpdated:
		var n models.Node
		if err := json.Unmarshal(f.Data, &n); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}

		t.row(n.UUID).Node = n
	case models.EventNodeDeleted:
		var d models.NodeDeleted
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}

		delete(t.rows, d.UUID)
	case models.EventPacketCreated:
		var p models.Packet
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}

		r := t.row(p.NodeID)
		r.Packets++
		r.LastRSSI = p.RSSI
		r.LastSNR = p.SNR
	case models.EventAILogCreated:
		var l models.AILog
		if err := json.Unmarshal(f.Data, &l); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}

		r := t.row(l.NodeID)
		r.Inferences++
		r.LastModel = l.ModelName
	case models.EventOTATaskCreated, models.EventOTATaskUpdated:
		var task models.OTATask
		if err := json.Unmarshal(f.Data, &task); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}

		t.row(task.NodeID).OTA = &task
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}

	return nil
}

// row returns the row for id, creating a placeholder for nodes first seen
// through a packet or task event.
func (t *NodeTable) row(id string) *Row {
	r, ok := t.rows[id]
	if !ok {
		r = &Row{Node: models.Node{UUID: id, Name: models.DefaultNodeName(id)}}
		t.rows[id] = r
	}

	return r
}

// Rows returns the rows ordered by name, then uuid.
func (t *NodeTable) Rows() []Row {
	out := make([]Row, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Node.Name != out[j].Node.Name {
			return out[i].Node.Name < out[j].Node.Name
		}

		return out[i].Node.UUID < out[j].Node.UUID
	})

	return out
}

// Events is the number of frames applied so far.
func (t *NodeTable) Events() int {
	return t.events
}
