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

package nodes

import (
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/telemetry"
)

// mergeRule copies one descriptive attribute from a reading onto a node when
// the reading carries it. Absent attributes keep the stored value.
type mergeRule struct {
	field string
	apply func(n *models.Node, r *telemetry.Reading) bool
}

//nolint:gochecknoglobals // static rule table
var mergeRules = []mergeRule{
	{"name", func(n *models.Node, r *telemetry.Reading) bool {
		if r.Name == nil {
			return false
		}

		n.Name = *r.Name

		return true
	}},
	{"lat", func(n *models.Node, r *telemetry.Reading) bool { return mergeFloat(&n.Lat, r.Lat) }},
	{"lng", func(n *models.Node, r *telemetry.Reading) bool { return mergeFloat(&n.Lng, r.Lng) }},
	{"mode", func(n *models.Node, r *telemetry.Reading) bool {
		if r.Mode == nil {
			return false
		}

		n.Mode = *r.Mode

		return true
	}},
	{"tx_power", func(n *models.Node, r *telemetry.Reading) bool {
		if r.TxPower == nil {
			return false
		}

		v := *r.TxPower
		n.TxPower = &v

		return true
	}},
	{"freq", func(n *models.Node, r *telemetry.Reading) bool { return mergeFloat(&n.Freq, r.Freq) }},
	{"bandwidth", func(n *models.Node, r *telemetry.Reading) bool { return mergeFloat(&n.Bandwidth, r.Bandwidth) }},
	{"ai_model", func(n *models.Node, r *telemetry.Reading) bool { return mergeString(&n.AIModel, r.AIModel) }},
	{"firmware", func(n *models.Node, r *telemetry.Reading) bool { return mergeString(&n.Firmware, r.Firmware) }},
	{"configuration", func(n *models.Node, r *telemetry.Reading) bool {
		if r.Configuration == nil {
			return false
		}

		n.Configuration = make(map[string]interface{}, len(r.Configuration))
		for k, v := range r.Configuration {
			n.Configuration[k] = v
		}

		return true
	}},
}

// applyReading merges r into n and returns the names of the fields it set.
// Liveness is always advanced: status goes online and last_seen moves to the
// reading time unless that would move it backwards.
func applyReading(n *models.Node, r *telemetry.Reading) []string {
	changed := make([]string, 0, len(mergeRules))

	for _, rule := range mergeRules {
		if rule.apply(n, r) {
			changed = append(changed, rule.field)
		}
	}

	n.Status = models.NodeStatusOnline

	if r.ReceivedAt.After(n.LastSeen) {
		n.LastSeen = r.ReceivedAt
	}

	return changed
}

func newNode(uuid string) *models.Node {
	return &models.Node{
		UUID:          uuid,
		Name:          models.DefaultNodeName(uuid),
		Mode:          models.DefaultNodeMode,
		Configuration: map[string]interface{}{},
		Status:        models.NodeStatusOnline,
	}
}

func mergeFloat(dst **float64, src *float64) bool {
	if src == nil {
		return false
	}

	v := *src
	*dst = &v

	return true
}

func mergeString(dst **string, src *string) bool {
	if src == nil {
		return false
	}

	v := *src
	*dst = &v

	return true
}
