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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/novacomm/pkg/broadcast"
	"github.com/carverauto/novacomm/pkg/db"
	"github.com/carverauto/novacomm/pkg/deploy"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/nodes"
	"github.com/carverauto/novacomm/pkg/ota"
)

type fixture struct {
	bus   *broadcast.Bus
	store *db.MemoryStore
	srv   *httptest.Server
}

func newFixture(t *testing.T, options ...func(*Server)) *fixture {
	t.Helper()

	log := logger.NewTestLogger()
	bus := broadcast.New(broadcast.Config{}, log)
	store := db.NewMemoryStore(0)
	tracker := ota.NewTracker(store, deploy.NewSimulated(log), bus, log)

	opts := append([]func(*Server){
		WithRollouts(tracker),
		WithNodes(nodes.NewReconciler(store, log), store),
		WithViewerTimings(time.Second, time.Second),
	}, options...)

	api := NewServer(bus, bus, log, opts...)
	srv := httptest.NewServer(api.Handler())

	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})

	return &fixture{bus: bus, store: store, srv: srv}
}

func (f *fixture) seedNode(t *testing.T, id string) {
	t.Helper()

	_, err := f.store.Upsert(context.Background(), &models.Node{
		UUID:     id,
		Name:     models.DefaultNodeName(id),
		Status:   models.NodeStatusOnline,
		LastSeen: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func (f *fixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()

	before := f.bus.Subscribers()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"

	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = ws.Close() })

	require.Eventually(t, func() bool {
		return f.bus.Subscribers() == before+1
	}, 2*time.Second, 10*time.Millisecond, "viewer never subscribed")

	return ws
}

type frame struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))

	var f frame
	require.NoError(t, ws.ReadJSON(&f))

	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, header http.Header) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, &buf)
	require.NoError(t, err)

	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestViewerReceivesPublishedEvents(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, nil)

	f.bus.Publish(models.NewEvent(models.EventNodeCreated, models.Node{UUID: "n1", Name: "Node n1"}))
	f.bus.Publish(models.NewEvent(models.EventPacketCreated, models.Packet{NodeID: "n1", Payload: "hi"}))

	first := readFrame(t, ws)
	assert.Equal(t, string(models.EventNodeCreated), first.Type)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	var node models.Node
	require.NoError(t, json.Unmarshal(first.Data, &node))
	assert.Equal(t, "n1", node.UUID)

	second := readFrame(t, ws)
	assert.Equal(t, string(models.EventPacketCreated), second.Type)
}

func TestViewerDisconnectUnsubscribes(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, nil)

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		return f.bus.Subscribers() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestViewerOriginRejected(t *testing.T) {
	f := newFixture(t, WithCORS(models.CORSConfig{AllowedOrigins: []string{"http://dash.example"}}))

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, f.bus.Subscribers())

	ok := f.dial(t, http.Header{"Origin": []string{"http://dash.example"}})
	assert.NotNil(t, ok)
}

func TestDeployStartsRollout(t *testing.T) {
	f := newFixture(t)
	f.seedNode(t, "n1")
	ws := f.dial(t, nil)

	resp := f.do(t, http.MethodPost, "/api/ota/deploy", DeployRequest{NodeID: "n1", FirmwareVersion: "2.0.1"}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var task models.OTATask
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	assert.Equal(t, models.OTAStatusInProgress, task.Status)
	assert.InDelta(t, ota.InitialProgress, task.Progress, 0.001)
	assert.Equal(t, models.FirmwareURL("2.0.1"), task.FileURL)

	assert.Equal(t, string(models.EventOTATaskCreated), readFrame(t, ws).Type)
	assert.Equal(t, string(models.EventOTATaskUpdated), readFrame(t, ws).Type)
}

func TestDeployRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{name: "missing version", body: DeployRequest{NodeID: "n1"}, want: http.StatusBadRequest},
		{name: "missing node", body: DeployRequest{FirmwareVersion: "1.0"}, want: http.StatusBadRequest},
		{name: "unknown node", body: DeployRequest{NodeID: "ghost", FirmwareVersion: "1.0"}, want: http.StatusNotFound},
		{name: "not json", body: "nope", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/ota/deploy", tt.body, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDeleteNodeBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.seedNode(t, "n1")
	ws := f.dial(t, nil)

	resp := f.do(t, http.MethodDelete, "/api/nodes/n1", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	fr := readFrame(t, ws)
	assert.Equal(t, string(models.EventNodeDeleted), fr.Type)

	var body models.NodeDeleted
	require.NoError(t, json.Unmarshal(fr.Data, &body))
	assert.Equal(t, "n1", body.UUID)

	resp = f.do(t, http.MethodDelete, "/api/nodes/n1", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListNodes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/nodes", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var empty []models.Node
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	assert.Empty(t, empty)

	f.seedNode(t, "n1")
	f.seedNode(t, "n2")

	resp = f.do(t, http.MethodGet, "/api/nodes", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []models.Node
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	f := newFixture(t, WithAdminAPIKey("secret"))
	f.seedNode(t, "n1")

	resp := f.do(t, http.MethodDelete, "/api/nodes/n1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/nodes", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/nodes/n1", nil, http.Header{"X-Api-Key": []string{"secret"}})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
