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

// Package lifecycle runs long-lived services next to an HTTP listener and
// tears both down on signal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/novacomm/pkg/logger"
)

const (
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

var ErrMissingService = errors.New("lifecycle: service is required")

// Service is a component with an explicit start and stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServerOptions describes what RunServer should run.
type ServerOptions struct {
	ListenAddr      string
	ServiceName     string
	Service         Service
	Handler         http.Handler
	ShutdownTimeout time.Duration
	Logger          logger.Logger
	// Listener overrides ListenAddr; tests pass a pre-bound listener.
	Listener net.Listener
}

// RunServer starts the service, serves HTTP if a handler is given, and blocks
// until the context is cancelled, a SIGINT/SIGTERM arrives or the listener
// fails. The service is always stopped before returning.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	if opts == nil || opts.Service == nil {
		return ErrMissingService
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := opts.Service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
	}

	log.Info().Str("service", opts.ServiceName).Str("listen_addr", opts.ListenAddr).Msg("Service started")

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server

	if opts.Handler != nil {
		srv = &http.Server{
			Addr:              opts.ListenAddr,
			Handler:           opts.Handler,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
		}

		g.Go(func() error {
			var err error
			if opts.Listener != nil {
				err = srv.Serve(opts.Listener)
			} else {
				err = srv.ListenAndServe()
			}

			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}

			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		timeout := opts.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error

		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}

		if err := opts.Service.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", opts.ServiceName, err))
		}

		log.Info().Str("service", opts.ServiceName).Msg("Service stopped")

		return errors.Join(errs...)
	})

	return g.Wait()
}
