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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/novacomm/pkg/hashutil"
	"github.com/carverauto/novacomm/pkg/lifecycle"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/natsutil"
	"github.com/carverauto/novacomm/pkg/telemetry"
)

const (
	defaultWorkers      = 4
	defaultFetchBatch   = 50
	defaultFetchWait    = 2 * time.Second
	defaultRetryDelay   = time.Second
	defaultAckWait      = 30 * time.Second
	defaultMaxAckPend   = 1000
	partitionBufferSize = 64
)

var (
	// ErrNotStarted is returned by Stop before Start succeeded.
	ErrNotStarted = errors.New("ingest service not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("ingest service already started")
)

type job struct {
	msg     jetstream.Msg
	reading *telemetry.Reading
}

// Service consumes telemetry from a durable JetStream pull consumer and
// feeds it to a Gateway. Messages are partitioned by node id so readings
// for one node are processed in arrival order while different nodes run in
// parallel.
type Service struct {
	cfg     *models.NATSConfig
	gateway *Gateway
	logger  logger.Logger

	connectFn  func() (*nats.Conn, error)
	workers    int
	fetchBatch int
	fetchWait  time.Duration
	retryDelay time.Duration

	mu       sync.Mutex
	nc       *nats.Conn
	consumer jetstream.Consumer

	cancel context.CancelFunc
	done   chan struct{}
}

var _ lifecycle.Service = (*Service)(nil)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithConnectFunc replaces the NATS dial used on start and reconnect.
func WithConnectFunc(fn func() (*nats.Conn, error)) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.connectFn = fn
		}
	}
}

// WithFetch sets the pull batch size and the maximum wait per pull.
func WithFetch(batch int, wait time.Duration) ServiceOption {
	return func(s *Service) {
		if batch > 0 {
			s.fetchBatch = batch
		}

		if wait > 0 {
			s.fetchWait = wait
		}
	}
}

// WithRetryDelay sets the pause between failed fetches and reconnect attempts.
func WithRetryDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// NewService builds a consumer for cfg. cfg.Workers sets the number of
// partitions.
func NewService(cfg *models.NATSConfig, gateway *Gateway, log logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:        cfg,
		gateway:    gateway,
		logger:     log,
		workers:    cfg.Workers,
		fetchBatch: defaultFetchBatch,
		fetchWait:  defaultFetchWait,
		retryDelay: defaultRetryDelay,
	}

	if s.workers <= 0 {
		s.workers = defaultWorkers
	}

	s.connectFn = func() (*nats.Conn, error) {
		return natsutil.Connect(cfg.URL, cfg.Security, log, nats.Name(cfg.ConsumerName))
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start connects, ensures the stream and consumer exist and begins
// consuming in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	started := s.cancel != nil
	s.mu.Unlock()

	if started {
		return ErrAlreadyStarted
	}

	if err := s.setup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx)

	s.logger.Info().
		Str("stream", s.cfg.StreamName).
		Str("consumer", s.cfg.ConsumerName).
		Str("subject", s.cfg.Subject).
		Int("workers", s.workers).
		Msg("Telemetry consumer started")

	return nil
}

// Stop stops fetching, lets workers finish what is already queued and
// closes the connection.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}

	cancel()

	var err error

	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for ingest workers: %w", ctx.Err())
	}

	s.mu.Lock()
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	s.mu.Unlock()

	return err
}

func (s *Service) setup(ctx context.Context) error {
	nc, err := s.connectFn()
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := natsutil.NewJetStream(nc, s.cfg.Domain)
	if err != nil {
		nc.Close()
		return err
	}

	if _, err := natsutil.EnsureStream(ctx, js, s.cfg.StreamName, s.cfg.Subject); err != nil {
		nc.Close()
		return err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, s.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       s.cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       defaultAckWait,
		MaxAckPending: defaultMaxAckPend,
		FilterSubject: s.cfg.Subject,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create consumer %s: %w", s.cfg.ConsumerName, err)
	}

	s.mu.Lock()
	old := s.nc
	s.nc = nc
	s.consumer = consumer
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	return nil
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	partitions := make([]chan job, s.workers)
	for i := range partitions {
		partitions[i] = make(chan job, partitionBufferSize)
	}

	var g errgroup.Group

	for _, ch := range partitions {
		g.Go(func() error {
			s.work(ctx, ch)
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range partitions {
				close(ch)
			}
		}()

		s.fetchLoop(ctx, partitions)

		return nil
	})

	_ = g.Wait()
}

func (s *Service) fetchLoop(ctx context.Context, partitions []chan job) {
	for ctx.Err() == nil {
		s.mu.Lock()
		consumer := s.consumer
		s.mu.Unlock()

		batch, err := consumer.Fetch(s.fetchBatch, jetstream.FetchMaxWait(s.fetchWait))
		if err != nil {
			s.handleFetchError(ctx, err)
			continue
		}

		for msg := range batch.Messages() {
			s.dispatch(ctx, msg, partitions)
		}

		if err := batch.Error(); err != nil && !isIdleFetch(err) {
			s.handleFetchError(ctx, err)
		}
	}
}

func (s *Service) handleFetchError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	if !s.needsReconnect(err) {
		s.logger.Warn().Err(err).Msg("Telemetry fetch failed")
		sleep(ctx, s.retryDelay)

		return
	}

	s.logger.Warn().Err(err).Msg("Telemetry consumer lost, reconnecting")

	for ctx.Err() == nil {
		if err := s.setup(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Telemetry consumer reconnect failed")
			sleep(ctx, s.retryDelay)

			continue
		}

		s.logger.Info().Msg("Telemetry consumer reconnected")

		return
	}
}

// needsReconnect reports whether the consumer must be rebuilt. Pulls on a
// deleted consumer that were not pending at deletion time come back as
// no responders.
func (s *Service) needsReconnect(err error) bool {
	if errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, jetstream.ErrConsumerDeleted) ||
		errors.Is(err, jetstream.ErrConsumerNotFound) {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nc == nil || s.nc.IsClosed()
}

func (s *Service) dispatch(ctx context.Context, msg jetstream.Msg, partitions []chan job) {
	receivedAt := time.Now().UTC()
	if md, err := msg.Metadata(); err == nil && !md.Timestamp.IsZero() {
		receivedAt = md.Timestamp
	}

	reading, err := s.gateway.Decode(ctx, msg.Subject(), msg.Data(), receivedAt)
	if err != nil {
		s.settle(msg, msg.Term, "term")
		return
	}

	ch := partitions[hashutil.Partition(reading.NodeID, len(partitions))]

	select {
	case ch <- job{msg: msg, reading: reading}:
	case <-ctx.Done():
		s.settle(msg, msg.Nak, "nak")
	}
}

// work processes jobs until its partition is closed. Processing is detached
// from ctx so queued messages finish during shutdown.
func (s *Service) work(ctx context.Context, ch <-chan job) {
	pctx := context.WithoutCancel(ctx)

	for j := range ch {
		if err := s.gateway.Process(pctx, j.reading); err != nil {
			s.settle(j.msg, j.msg.Term, "term")
			continue
		}

		s.settle(j.msg, j.msg.Ack, "ack")
	}
}

func (s *Service) settle(msg jetstream.Msg, fn func() error, action string) {
	if err := fn(); err != nil {
		s.logger.Debug().Err(err).Str("action", action).Str("subject", msg.Subject()).Msg("Failed to settle message")
	}
}

func isIdleFetch(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
