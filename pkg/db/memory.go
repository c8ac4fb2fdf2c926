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
	"fmt"
	"sort"
	"sync"

	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/nodes"
	"github.com/carverauto/novacomm/pkg/ota"
	"github.com/carverauto/novacomm/pkg/recorder"
)

const defaultMemoryRetention = 10000

// MemoryStore keeps everything in process. Packets and AI logs are capped at
// a retention count, oldest first out. It is used when no CNPG cluster is
// configured.
type MemoryStore struct {
	mu        sync.RWMutex
	nodes     map[string]*models.Node
	tasks     map[string]*models.OTATask
	packets   []*models.Packet
	aiLogs    []*models.AILog
	retention int
}

var (
	_ nodes.Repository = (*MemoryStore)(nil)
	_ recorder.Store   = (*MemoryStore)(nil)
	_ ota.TaskStore    = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store. A non-positive retention uses the default.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = defaultMemoryRetention
	}

	return &MemoryStore{
		nodes:     make(map[string]*models.Node),
		tasks:     make(map[string]*models.OTATask),
		retention: retention,
	}
}

func (m *MemoryStore) Find(_ context.Context, uuid string) (*models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.nodes[uuid].Clone(), nil
}

func (m *MemoryStore) Upsert(_ context.Context, node *models.Node) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := node.Clone()
	if stored.Configuration == nil {
		stored.Configuration = map[string]interface{}{}
	}

	if prev, ok := m.nodes[node.UUID]; ok && prev.LastSeen.After(stored.LastSeen) {
		stored.LastSeen = prev.LastSeen
	}

	m.nodes[node.UUID] = stored

	return stored.Clone(), nil
}

// Remove deletes the node along with its packets, AI logs and tasks.
func (m *MemoryStore) Remove(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nodes, uuid)

	m.packets = filter(m.packets, func(p *models.Packet) bool { return p.NodeID != uuid })
	m.aiLogs = filter(m.aiLogs, func(l *models.AILog) bool { return l.NodeID != uuid })

	for id, t := range m.tasks {
		if t.NodeID == uuid {
			delete(m.tasks, id)
		}
	}

	return nil
}

func (m *MemoryStore) AppendPacket(_ context.Context, packet *models.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[packet.NodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeMissing, packet.NodeID)
	}

	p := *packet
	m.packets = appendCapped(m.packets, &p, m.retention)

	return nil
}

func (m *MemoryStore) AppendAILog(_ context.Context, entry *models.AILog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[entry.NodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeMissing, entry.NodeID)
	}

	e := *entry
	m.aiLogs = appendCapped(m.aiLogs, &e, m.retention)

	return nil
}

func (m *MemoryStore) Create(_ context.Context, task *models.OTATask) (*models.OTATask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[task.NodeID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeMissing, task.NodeID)
	}

	m.tasks[task.ID] = task.Clone()

	return task.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, task *models.OTATask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[task.ID]; !ok {
		return fmt.Errorf("%w: %s", ota.ErrTaskNotFound, task.ID)
	}

	m.tasks[task.ID] = task.Clone()

	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.OTATask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tasks[id].Clone(), nil
}

// ListNodes returns every node ordered by id.
func (m *MemoryStore) ListNodes(_ context.Context) ([]*models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })

	return out, nil
}

// Packets returns the retained packets for nodeID, oldest first.
func (m *MemoryStore) Packets(nodeID string) []models.Packet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Packet

	for _, p := range m.packets {
		if p.NodeID == nodeID {
			out = append(out, *p)
		}
	}

	return out
}

// AILogs returns the retained inference logs for nodeID, oldest first.
func (m *MemoryStore) AILogs(nodeID string) []models.AILog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.AILog

	for _, l := range m.aiLogs {
		if l.NodeID == nodeID {
			out = append(out, *l)
		}
	}

	return out
}

func appendCapped[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if over := len(s) - limit; over > 0 {
		s = append(s[:0], s[over:]...)
	}

	return s
}

func filter[T any](s []T, keep func(T) bool) []T {
	out := s[:0]

	for _, v := range s {
		if keep(v) {
			out = append(out, v)
		}
	}

	return out
}
