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

package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind tags a broadcast event with the change it describes.
type EventKind string

const (
	EventNodeCreated    EventKind = "new_node"
	EventNodeUpdated    EventKind = "node_update"
	EventNodeDeleted    EventKind = "node_deleted"
	EventPacketCreated  EventKind = "new_packet"
	EventAILogCreated   EventKind = "new_ai_log"
	EventOTATaskCreated EventKind = "new_ota_task"
	EventOTATaskUpdated EventKind = "ota_task_update"
)

// Event is an ephemeral state-change notification pushed to live viewers.
// Data holds a snapshot of the affected entity and must not be mutated
// after the event is published.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Kind      EventKind   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps a new event with a random id and the current time.
func NewEvent(kind EventKind, data interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NodeDeleted is the payload of a node_deleted event.
type NodeDeleted struct {
	UUID string `json:"uuid"`
}
