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

// Package api serves the live viewer websocket and the small HTTP control
// surface of the core service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/carverauto/novacomm/pkg/broadcast"
	srHttp "github.com/carverauto/novacomm/pkg/http"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/nodes"
	"github.com/carverauto/novacomm/pkg/ota"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 5 * time.Second
	maxRequestBody      = 1 << 20
	viewerReadLimit     = 4096
)

// Subscriber is the bus surface used for viewer connections.
type Subscriber interface {
	Subscribe(conn broadcast.Conn) (*broadcast.Subscription, error)
	Unsubscribe(sub *broadcast.Subscription)
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(event models.Event)
}

// RolloutStarter begins an OTA rollout.
type RolloutStarter interface {
	Start(ctx context.Context, nodeID, version string) (*models.OTATask, error)
}

// NodeRemover deletes a node.
type NodeRemover interface {
	Remove(ctx context.Context, uuid string) error
}

// NodeLister reads stored nodes.
type NodeLister interface {
	Find(ctx context.Context, uuid string) (*models.Node, error)
	ListNodes(ctx context.Context) ([]*models.Node, error)
}

// Server routes the viewer websocket and the control endpoints.
type Server struct {
	router       *mux.Router
	bus          Subscriber
	publisher    Publisher
	rollouts     RolloutStarter
	remover      NodeRemover
	lister       NodeLister
	cors         models.CORSConfig
	apiKey       string
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       logger.Logger
}

// NewServer builds the router. bus and publisher are normally the same
// broadcast.Bus.
func NewServer(bus Subscriber, publisher Publisher, log logger.Logger, options ...func(*Server)) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		bus:          bus,
		publisher:    publisher,
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		logger:       log,
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithRollouts enables POST /api/ota/deploy.
func WithRollouts(r RolloutStarter) func(*Server) {
	return func(s *Server) {
		s.rollouts = r
	}
}

// WithNodes enables the node endpoints.
func WithNodes(remover NodeRemover, lister NodeLister) func(*Server) {
	return func(s *Server) {
		s.remover = remover
		s.lister = lister
	}
}

// WithCORS sets the browser origin policy for HTTP and websocket requests.
func WithCORS(cfg models.CORSConfig) func(*Server) {
	return func(s *Server) {
		s.cors = cfg
	}
}

// WithAdminAPIKey protects the mutating endpoints with an API key.
func WithAdminAPIKey(key string) func(*Server) {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithViewerTimings sets the ping interval and per-frame write timeout for
// viewer connections.
func WithViewerTimings(ping, write time.Duration) func(*Server) {
	return func(s *Server) {
		if ping > 0 {
			s.pingInterval = ping
		}

		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, s.cors, s.logger)
	})

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleViewer).Methods(http.MethodGet)

	apiRouter := s.router.PathPrefix("/api").Subrouter()

	if s.lister != nil {
		apiRouter.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	}

	admin := apiRouter.NewRoute().Subrouter()
	admin.Use(srHttp.APIKeyMiddlewareWithOptions(srHttp.APIKeyOptions{
		APIKey:          s.apiKey,
		LogUnauthorized: true,
		Logger:          s.logger,
	}))

	if s.rollouts != nil {
		admin.HandleFunc("/ota/deploy", s.handleDeploy).Methods(http.MethodPost, http.MethodOptions)
	}

	if s.remover != nil {
		admin.HandleFunc("/nodes/{uuid}", s.handleDeleteNode).Methods(http.MethodDelete, http.MethodOptions)
	}
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeployRequest is the body of POST /api/ota/deploy.
type DeployRequest struct {
	NodeID          string `json:"node_id"`
	FirmwareVersion string `json:"firmware_version"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.NodeID == "" || req.FirmwareVersion == "" {
		writeError(w, "node_id and firmware_version are required", http.StatusBadRequest)
		return
	}

	if s.lister != nil {
		node, err := s.lister.Find(r.Context(), req.NodeID)
		if err != nil {
			s.logger.Error().Err(err).Str("node_id", req.NodeID).Msg("Failed to look up node for deploy")
			writeError(w, "Failed to look up node", http.StatusInternalServerError)

			return
		}

		if node == nil {
			writeError(w, "Node not found", http.StatusNotFound)
			return
		}
	}

	task, err := s.rollouts.Start(r.Context(), req.NodeID, req.FirmwareVersion)

	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, task)
	case errors.Is(err, ota.ErrInvalidRequest):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error().Err(err).Str("node_id", req.NodeID).Msg("Failed to start OTA task")
		writeError(w, "Failed to start OTA task", http.StatusInternalServerError)
	}
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	list, err := s.lister.ListNodes(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list nodes")
		writeError(w, "Failed to list nodes", http.StatusInternalServerError)

		return
	}

	if list == nil {
		list = []*models.Node{}
	}

	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]

	err := s.remover.Remove(r.Context(), id)

	switch {
	case err == nil:
		s.publisher.Publish(models.NewEvent(models.EventNodeDeleted, models.NodeDeleted{UUID: id}))
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, nodes.ErrNodeNotFound):
		writeError(w, "Node not found", http.StatusNotFound)
	default:
		s.logger.Error().Err(err).Str("node_id", id).Msg("Failed to remove node")
		writeError(w, "Failed to remove node", http.StatusInternalServerError)
	}
}

// handleViewer upgrades to a websocket and subscribes it to the bus. The
// handler stays in the read loop until the peer goes away or the bus drops
// the connection.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			ok := srHttp.OriginAllowed(r, s.cors)
			if !ok {
				s.logger.Warn().Str("origin", r.Header.Get("Origin")).Msg("Viewer origin not allowed")
			}

			return ok
		},
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade viewer connection")
		return
	}

	conn := newWSConn(ws, s.writeTimeout)

	sub, err := s.bus.Subscribe(conn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to subscribe viewer")
		_ = conn.Close()

		return
	}

	s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Viewer connected")

	defer func() {
		s.bus.Unsubscribe(sub)
		s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Viewer disconnected")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.pingLoop(ctx, conn, sub)

	s.readLoop(ws)
}

// readLoop discards client frames; it exists to process pongs and notice
// the peer closing.
func (s *Server) readLoop(ws *websocket.Conn) {
	ws.SetReadLimit(viewerReadLimit)

	readWait := 2 * s.pingInterval
	_ = ws.SetReadDeadline(time.Now().Add(readWait))

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}

		_ = ws.SetReadDeadline(time.Now().Add(readWait))
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *wsConn, sub *broadcast.Subscription) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				s.logger.Debug().Err(err).Msg("Viewer ping failed")
				s.bus.Unsubscribe(sub)

				return
			}
		}
	}
}

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Message: message, Status: statusCode})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
