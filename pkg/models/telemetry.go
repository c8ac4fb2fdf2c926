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
	"encoding/json"
	"time"
)

// DefaultAIModelName is recorded when an inference log arrives without a model name.
const DefaultAIModelName = "unknown"

// Packet is one immutable telemetry sample received from a node.
type Packet struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	Payload   string    `json:"payload"`
	SNR       float64   `json:"snr"`
	RSSI      float64   `json:"rssi"`
	Timestamp time.Time `json:"timestamp"`
}

// AILog records an inference result a node attached to one of its readings.
type AILog struct {
	ID         string          `json:"id"`
	NodeID     string          `json:"node_id"`
	ModelName  string          `json:"model_name"`
	Prediction json.RawMessage `json:"prediction"`
	Accuracy   *float64        `json:"accuracy,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
