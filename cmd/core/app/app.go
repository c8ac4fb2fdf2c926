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

// Package app boots the core service.
package app

import (
	"context"
	"errors"

	"github.com/carverauto/novacomm/pkg/core"
	"github.com/carverauto/novacomm/pkg/lifecycle"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/version"
)

const serviceName = "novacomm-core"

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// Run loads configuration, initializes telemetry export and runs the core
// service until the context ends or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	bootLogger, err := lifecycle.CreateComponentLogger(ctx, "core-boot", logger.DefaultConfig())
	if err != nil {
		return err
	}

	cfg, err := core.LoadConfig(ctx, opts.ConfigPath, bootLogger)
	if err != nil {
		return err
	}

	if cfg.Logging == nil {
		cfg.Logging = logger.DefaultConfig()
	}

	tp, ctxWithTrace, rootSpan, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Logger:         bootLogger,
		OTel:           &cfg.Logging.OTel,
	})
	if err != nil {
		return err
	}

	ctx = ctxWithTrace

	defer func() {
		rootSpan.End()

		if err := tp.Shutdown(context.Background()); err != nil {
			bootLogger.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}()

	mainLogger, err := lifecycle.CreateComponentLogger(ctx, "core", cfg.Logging)
	if err != nil {
		return err
	}

	if _, metricsErr := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           &cfg.Logging.OTel,
	}); metricsErr != nil && !errors.Is(metricsErr, logger.ErrOTelMetricsDisabled) {
		return metricsErr
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			mainLogger.Error().Err(err).Msg("Error shutting down logger")
		}
	}()

	mainLogger.Info().Str("version", version.GetFullVersion()).Msg("Booting core service")

	server, err := core.NewServer(ctx, cfg, mainLogger)
	if err != nil {
		return err
	}

	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: serviceName,
		Service:     server,
		Handler:     server.Handler(),
		Logger:      mainLogger,
	})
}
