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
)

// OTAStatus is the state of a firmware rollout attempt.
type OTAStatus string

const (
	OTAStatusPending    OTAStatus = "pending"
	OTAStatusInProgress OTAStatus = "in_progress"
	OTAStatusCompleted  OTAStatus = "completed"
	OTAStatusFailed     OTAStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s OTAStatus) IsTerminal() bool {
	return s == OTAStatusCompleted || s == OTAStatusFailed
}

// Valid reports whether s is one of the known rollout states.
func (s OTAStatus) Valid() bool {
	switch s {
	case OTAStatusPending, OTAStatusInProgress, OTAStatusCompleted, OTAStatusFailed:
		return true
	}

	return false
}

// OTATask tracks one firmware rollout to a single node.
type OTATask struct {
	ID              string     `json:"id"`
	NodeID          string     `json:"node_id"`
	FirmwareVersion string     `json:"firmware_version"`
	Status          OTAStatus  `json:"status"`
	Progress        float64    `json:"progress"`
	FileURL         string     `json:"file_url"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
}

// FirmwareURL returns the delivery reference for a firmware version.
func FirmwareURL(version string) string {
	return "/ota/" + version
}

// Clone returns a copy of the task safe to publish.
func (t *OTATask) Clone() *OTATask {
	if t == nil {
		return nil
	}

	out := *t

	if t.EndTime != nil {
		end := *t.EndTime
		out.EndTime = &end
	}

	return &out
}
