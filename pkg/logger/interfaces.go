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

package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// Logger is the logging surface injected into components. Anything that
// embeds a zerolog.Logger and adds WithComponent and SetLevel satisfies it.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
	SetLevel(level zerolog.Level)
}

// NewTestLogger returns a Logger that discards everything.
func NewTestLogger() Logger {
	return NewWriterLogger(io.Discard, zerolog.Disabled)
}

// NewWriterLogger returns a Logger writing JSON lines to w at the given level.
func NewWriterLogger(w io.Writer, level zerolog.Level) Logger {
	return &writerLogger{Logger: zerolog.New(w).Level(level)}
}

type writerLogger struct {
	zerolog.Logger
}

func (w *writerLogger) WithComponent(component string) zerolog.Logger {
	return w.Logger.With().Str("component", component).Logger()
}

func (w *writerLogger) SetLevel(level zerolog.Level) {
	w.Logger = w.Logger.Level(level)
}
