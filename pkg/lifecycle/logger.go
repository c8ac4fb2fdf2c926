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

package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/carverauto/novacomm/pkg/logger"
)

// componentLogger is a logger.Logger that owns its zerolog instance instead
// of sharing the package-level one.
type componentLogger struct {
	zerolog.Logger
}

func (c *componentLogger) WithComponent(component string) zerolog.Logger {
	return c.Logger.With().Str("component", component).Logger()
}

func (c *componentLogger) SetLevel(level zerolog.Level) {
	c.Logger = c.Logger.Level(level)
}

// CreateComponentLogger builds a logger tagged with component. A nil config
// falls back to logger.DefaultConfig, so env overrides still apply.
func CreateComponentLogger(ctx context.Context, component string, config *logger.Config) (logger.Logger, error) {
	if config == nil {
		config = logger.DefaultConfig()
	}

	level, err := config.ParseLevel()
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output, err := config.Writer(ctx)
	if err != nil {
		return nil, err
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()

	return &componentLogger{Logger: zlog}, nil
}

// ShutdownLogger flushes pending OTel log exports.
func ShutdownLogger() error {
	return logger.Shutdown()
}

var _ logger.Logger = (*componentLogger)(nil)
