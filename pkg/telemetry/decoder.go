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

// Package telemetry decodes raw device messages into structured readings.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/carverauto/novacomm/pkg/models"
)

var (
	// ErrMalformedMessage is returned for payloads that are not a JSON object
	// or carry a recognized field with the wrong type.
	ErrMalformedMessage = errors.New("malformed telemetry message")
	// ErrUnresolvedIdentity is returned when neither the payload nor the
	// routing key names a node.
	ErrUnresolvedIdentity = errors.New("unresolved node identity")
)

// Inference is the optional model output a node attaches to a reading.
type Inference struct {
	Prediction json.RawMessage
	ModelName  *string
	Accuracy   *float64
}

// OTAReport is a firmware rollout progress report carried by a reading.
type OTAReport struct {
	TaskID   string
	Progress *float64
	Status   *models.OTAStatus
}

// Reading is one decoded device message. Nil pointers mean the field was
// absent from the message; defaults are applied by the consumers.
type Reading struct {
	NodeID     string
	ReceivedAt time.Time

	Name          *string
	Lat           *float64
	Lng           *float64
	Mode          *string
	TxPower       *int
	Freq          *float64
	Bandwidth     *float64
	AIModel       *string
	Firmware      *string
	Configuration map[string]interface{}

	Payload *string
	SNR     *float64
	RSSI    *float64

	Inference *Inference
	OTA       *OTAReport
}

// Packet builds the append-only packet record for this reading.
func (r *Reading) Packet() *models.Packet {
	return &models.Packet{
		NodeID:    r.NodeID,
		Payload:   derefString(r.Payload),
		SNR:       derefFloat(r.SNR),
		RSSI:      derefFloat(r.RSSI),
		Timestamp: r.ReceivedAt,
	}
}

// AILog builds the inference log record, or nil when the reading carried no prediction.
func (r *Reading) AILog() *models.AILog {
	if r.Inference == nil {
		return nil
	}

	name := models.DefaultAIModelName
	if r.Inference.ModelName != nil && *r.Inference.ModelName != "" {
		name = *r.Inference.ModelName
	}

	return &models.AILog{
		NodeID:     r.NodeID,
		ModelName:  name,
		Prediction: r.Inference.Prediction,
		Accuracy:   r.Inference.Accuracy,
		Timestamp:  r.ReceivedAt,
	}
}

type wireOTA struct {
	TaskID   string   `json:"task_id"`
	Progress *float64 `json:"progress"`
	Status   *string  `json:"status"`
}

type wireMessage struct {
	UUID          *string                `json:"uuid"`
	ID            *string                `json:"id"`
	NodeID        *string                `json:"node_id"`
	Name          *string                `json:"name"`
	Lat           *float64               `json:"lat"`
	Lng           *float64               `json:"lng"`
	Mode          *string                `json:"mode"`
	TxPower       *float64               `json:"tx_power"`
	Freq          *float64               `json:"freq"`
	Bandwidth     *float64               `json:"bandwidth"`
	AIModel       *string                `json:"ai_model"`
	Firmware      *string                `json:"firmware"`
	Configuration map[string]interface{} `json:"configuration"`
	Payload       *string                `json:"payload"`
	SNR           *float64               `json:"snr"`
	RSSI          *float64               `json:"rssi"`
	AIPrediction  json.RawMessage        `json:"ai_prediction"`
	AIModelName   *string                `json:"ai_model_name"`
	AIAccuracy    *float64               `json:"ai_accuracy"`
	OTA           *wireOTA               `json:"ota"`
}

// Decode parses data received on routingKey. The node id is taken from the
// payload's uuid, id or node_id field, falling back to the second segment of
// routingKey ("novacomm/<id>/rx" or "novacomm.<id>.rx").
func Decode(routingKey string, data []byte, receivedAt time.Time) (*Reading, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedMessage)
	}

	var msg wireMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	nodeID := firstNonEmpty(msg.UUID, msg.ID, msg.NodeID)
	if nodeID == "" {
		nodeID = idFromRoutingKey(routingKey)
	}

	if nodeID == "" {
		return nil, fmt.Errorf("%w: routing key %q", ErrUnresolvedIdentity, routingKey)
	}

	reading := &Reading{
		NodeID:        nodeID,
		ReceivedAt:    receivedAt.UTC(),
		Name:          msg.Name,
		Lat:           msg.Lat,
		Lng:           msg.Lng,
		Mode:          msg.Mode,
		Freq:          msg.Freq,
		Bandwidth:     msg.Bandwidth,
		AIModel:       msg.AIModel,
		Firmware:      msg.Firmware,
		Configuration: msg.Configuration,
		Payload:       msg.Payload,
		SNR:           msg.SNR,
		RSSI:          msg.RSSI,
	}

	if msg.TxPower != nil {
		v := *msg.TxPower
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return nil, fmt.Errorf("%w: tx_power %v is not an integer", ErrMalformedMessage, v)
		}

		p := int(v)
		reading.TxPower = &p
	}

	if len(msg.AIPrediction) > 0 && !bytes.Equal(msg.AIPrediction, []byte("null")) {
		reading.Inference = &Inference{
			Prediction: append(json.RawMessage(nil), msg.AIPrediction...),
			ModelName:  msg.AIModelName,
			Accuracy:   msg.AIAccuracy,
		}
	}

	ota, err := decodeOTA(msg.OTA)
	if err != nil {
		return nil, err
	}

	reading.OTA = ota

	return reading, nil
}

func decodeOTA(w *wireOTA) (*OTAReport, error) {
	if w == nil || strings.TrimSpace(w.TaskID) == "" {
		return nil, nil
	}

	report := &OTAReport{TaskID: strings.TrimSpace(w.TaskID), Progress: w.Progress}

	if w.Status != nil {
		status := models.OTAStatus(strings.ToLower(*w.Status))
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown ota status %q", ErrMalformedMessage, *w.Status)
		}

		report.Status = &status
	}

	return report, nil
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v == nil {
			continue
		}

		if s := strings.TrimSpace(*v); s != "" {
			return s
		}
	}

	return ""
}

func idFromRoutingKey(key string) string {
	sep := "."
	if strings.Contains(key, "/") {
		sep = "/"
	}

	parts := strings.Split(key, sep)
	if len(parts) < 2 {
		return ""
	}

	id := strings.TrimSpace(parts[1])

	switch id {
	case "*", ">", "+", "#":
		return ""
	}

	return id
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}

	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}

	return *v
}
