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

// Package core assembles the ingestion pipeline, the event bus and the API
// into the runnable core service.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/novacomm/pkg/api"
	"github.com/carverauto/novacomm/pkg/broadcast"
	"github.com/carverauto/novacomm/pkg/db"
	"github.com/carverauto/novacomm/pkg/deploy"
	"github.com/carverauto/novacomm/pkg/ingest"
	"github.com/carverauto/novacomm/pkg/lifecycle"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/natsutil"
	"github.com/carverauto/novacomm/pkg/nodes"
	"github.com/carverauto/novacomm/pkg/ota"
	"github.com/carverauto/novacomm/pkg/recorder"
)

const defaultRepositoryTimeout = 5 * time.Second

// Storage is everything the pipeline persists.
type Storage interface {
	nodes.Repository
	recorder.Store
	ota.TaskStore
	ListNodes(ctx context.Context) ([]*models.Node, error)
}

// Server is the core service. Start and Stop drive the telemetry consumer;
// Handler serves the viewer and control endpoints.
type Server struct {
	cfg    *models.CoreServiceConfig
	logger logger.Logger

	pool     *pgxpool.Pool
	deployNC *nats.Conn

	store      Storage
	bus        *broadcast.Bus
	reconciler *nodes.Reconciler
	tracker    *ota.Tracker
	gateway    *ingest.Gateway
	consumer   lifecycle.Service
	api        *api.Server

	stopOnce sync.Once
}

var _ lifecycle.Service = (*Server)(nil)

// Option customizes NewServer.
type Option func(*options)

type options struct {
	store    Storage
	deployer ota.Deployer
	consumer func(gw *ingest.Gateway) lifecycle.Service
}

// WithStorage replaces the configured store.
func WithStorage(store Storage) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithDeployer replaces the configured deployer.
func WithDeployer(d ota.Deployer) Option {
	return func(o *options) {
		o.deployer = d
	}
}

// WithConsumer replaces the JetStream consumer built from cfg.NATS.
func WithConsumer(fn func(gw *ingest.Gateway) lifecycle.Service) Option {
	return func(o *options) {
		o.consumer = fn
	}
}

// NewServer opens storage, the deploy connection and the bus and wires the
// pipeline. Migrations run when CNPG is configured.
func NewServer(ctx context.Context, cfg *models.CoreServiceConfig, log logger.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{cfg: cfg, logger: log}

	store, err := s.openStorage(ctx, o.store)
	if err != nil {
		return nil, err
	}

	s.store = store

	deployer, err := s.openDeployer(o.deployer)
	if err != nil {
		s.closeResources()
		return nil, err
	}

	timeout := cfg.RepositoryTimeout.Or(defaultRepositoryTimeout)

	s.bus = broadcast.New(broadcast.Config{
		QueueSize:    cfg.Bus.QueueSize,
		OutboxSize:   cfg.Bus.OutboxSize,
		WriteTimeout: cfg.Bus.WriteTimeout.Or(0),
	}, log)

	s.reconciler = nodes.NewReconciler(store, log, nodes.WithTimeout(timeout))
	s.tracker = ota.NewTracker(store, deployer, s.bus, log, ota.WithTimeout(timeout))
	s.gateway = ingest.NewGateway(
		s.reconciler,
		recorder.NewRecorder(store, log, timeout),
		s.tracker,
		s.bus,
		log,
	)

	if o.consumer != nil {
		s.consumer = o.consumer(s.gateway)
	} else {
		s.consumer = ingest.NewService(cfg.NATS, s.gateway, log)
	}

	s.api = api.NewServer(s.bus, s.bus, log,
		api.WithRollouts(s.tracker),
		api.WithNodes(s.reconciler, store),
		api.WithCORS(models.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}),
		api.WithAdminAPIKey(cfg.AdminAPIKey),
		api.WithViewerTimings(cfg.Bus.PingInterval.Or(0), cfg.Bus.WriteTimeout.Or(0)),
	)

	return s, nil
}

func (s *Server) openStorage(ctx context.Context, override Storage) (Storage, error) {
	if override != nil {
		return override, nil
	}

	if s.cfg.CNPG == nil {
		s.logger.Warn().Msg("No CNPG database configured; using in-memory storage")
		return db.NewMemoryStore(0), nil
	}

	pool, err := db.NewCNPGPool(ctx, s.cfg.CNPG, s.logger)
	if err != nil {
		return nil, err
	}

	if err := db.RunMigrations(ctx, pool, s.logger); err != nil {
		pool.Close()
		return nil, err
	}

	store, err := db.NewStore(pool, s.logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	s.pool = pool

	return store, nil
}

func (s *Server) openDeployer(override ota.Deployer) (ota.Deployer, error) {
	if override != nil {
		return override, nil
	}

	if s.cfg.OTA.Simulate {
		s.logger.Info().Msg("OTA deployments are simulated")
		return deploy.NewSimulated(s.logger), nil
	}

	nc, err := natsutil.Connect(s.cfg.NATS.URL, s.cfg.NATS.Security, s.logger,
		nats.Name(s.cfg.NATS.ConsumerName+"-ota"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open deploy connection: %w", err)
	}

	s.deployNC = nc

	return deploy.NewNATSDeployer(nc, s.cfg.NATS, s.logger), nil
}

// Handler returns the HTTP surface.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Gateway exposes the pipeline entry point.
func (s *Server) Gateway() *ingest.Gateway {
	return s.gateway
}

// Bus exposes the event bus.
func (s *Server) Bus() *broadcast.Bus {
	return s.bus
}

// Start begins consuming telemetry.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("listen_addr", s.cfg.ListenAddr).Msg("Starting core service")

	if err := s.consumer.Start(ctx); err != nil {
		s.stopOnce.Do(s.closeResources)
		return err
	}

	return nil
}

// Stop drains the consumer, then closes the bus and storage. Queued events
// that were not yet delivered are abandoned.
func (s *Server) Stop(ctx context.Context) error {
	var err error

	s.stopOnce.Do(func() {
		if stopErr := s.consumer.Stop(ctx); stopErr != nil && !errors.Is(stopErr, ingest.ErrNotStarted) {
			err = stopErr
		}

		s.closeResources()
	})

	return err
}

func (s *Server) closeResources() {
	if s.bus != nil {
		s.bus.Close()
	}

	if s.deployNC != nil {
		s.deployNC.Close()
	}

	if s.pool != nil {
		s.pool.Close()
	}
}
