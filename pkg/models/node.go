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

// NodeStatus is the liveness state of a mesh node.
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
)

// DefaultNodeMode is the operating mode assigned to a node created without one.
const DefaultNodeMode = "normal"

// Node is a managed mesh device tracked by its externally assigned UUID.
type Node struct {
	UUID          string                 `json:"uuid"`
	Name          string                 `json:"name"`
	Lat           *float64               `json:"lat"`
	Lng           *float64               `json:"lng"`
	Mode          string                 `json:"mode"`
	TxPower       *int                   `json:"tx_power"`
	Freq          *float64               `json:"freq"`
	Bandwidth     *float64               `json:"bandwidth"`
	AIModel       *string                `json:"ai_model"`
	Firmware      *string                `json:"firmware"`
	Configuration map[string]interface{} `json:"configuration"`
	Status        NodeStatus             `json:"status"`
	LastSeen      time.Time              `json:"last_seen"`
}

// DefaultNodeName returns the display name given to a node that never reported one.
func DefaultNodeName(uuid string) string {
	return "Node " + uuid
}

// Clone returns a deep copy of the node so snapshots handed to viewers are
// never aliased with repository state.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	out := *n
	out.Lat = cloneFloat(n.Lat)
	out.Lng = cloneFloat(n.Lng)
	out.Freq = cloneFloat(n.Freq)
	out.Bandwidth = cloneFloat(n.Bandwidth)
	out.AIModel = cloneString(n.AIModel)
	out.Firmware = cloneString(n.Firmware)

	if n.TxPower != nil {
		v := *n.TxPower
		out.TxPower = &v
	}

	if n.Configuration != nil {
		out.Configuration = make(map[string]interface{}, len(n.Configuration))
		for k, v := range n.Configuration {
			out.Configuration[k] = v
		}
	}

	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
