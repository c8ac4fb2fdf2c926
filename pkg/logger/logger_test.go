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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    zerolog.Level
		wantErr bool
	}{
		{name: "empty defaults to info", config: Config{}, want: zerolog.InfoLevel},
		{name: "explicit level", config: Config{Level: "warn"}, want: zerolog.WarnLevel},
		{name: "debug flag wins", config: Config{Level: "error", Debug: true}, want: zerolog.DebugLevel},
		{name: "unknown level", config: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := tt.config.ParseLevel()
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestConfigWriterWithoutOTel(t *testing.T) {
	w, err := (&Config{Output: "stderr"}).Writer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_HEADERS", "x-api-key=abc, tenant = mesh")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_TIMEOUT", "2s")

	config := DefaultConfig()

	assert.Equal(t, "warn", config.Level)
	assert.Equal(t, "stdout", config.Output)
	assert.Equal(t, defaultServiceName, config.OTel.ServiceName)
	assert.Equal(t, Duration(2*time.Second), config.OTel.BatchTimeout)
	assert.Equal(t, map[string]string{"x-api-key": "abc", "tenant": "mesh"}, config.OTel.Headers)
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{name: "string duration", input: `"5s"`, expected: Duration(5 * time.Second)},
		{name: "numeric duration (nanoseconds)", input: `5000000000`, expected: Duration(5 * time.Second)},
		{name: "invalid duration string", input: `"invalid"`, wantErr: true},
		{name: "invalid type", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestNewOTELWriterRequiresEndpoint(t *testing.T) {
	_, err := NewOTELWriter(context.Background(), OTelConfig{})
	require.ErrorIs(t, err, ErrOTelLoggingDisabled)

	_, err = NewOTELWriter(context.Background(), OTelConfig{Enabled: true})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)
}

func TestInitializeMetricsDisabled(t *testing.T) {
	_, err := InitializeMetrics(context.Background(), MetricsConfig{})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)
}

func TestFormatAttributeValueTruncates(t *testing.T) {
	long := make([]byte, maxAttributeValueLength+10)
	for i := range long {
		long[i] = 'a'
	}

	out := formatAttributeValue(string(long))
	assert.Len(t, out, maxAttributeValueLength)
	assert.Equal(t, "null", formatAttributeValue(nil))
	assert.JSONEq(t, `{"k":1}`, formatAttributeValue(map[string]interface{}{"k": 1}))
}

type countingWriter struct{ n int }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n++
	return len(p), nil
}

func TestMultiWriter(t *testing.T) {
	a, b := &countingWriter{}, &countingWriter{}

	n, err := NewMultiWriter(a, b).Write([]byte("line"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

func TestEnvBool(t *testing.T) {
	for value, want := range map[string]bool{"on": true, "YES": true, "1": true, "false": false, "bogus": false} {
		t.Setenv("NOVACOMM_TEST_BOOL", value)
		assert.Equal(t, want, envBool("NOVACOMM_TEST_BOOL", true), value)
	}

	t.Setenv("NOVACOMM_TEST_BOOL", "")
	assert.True(t, envBool("NOVACOMM_TEST_BOOL", true))
}

func TestParseHeadersSkipsMalformedPairs(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1"}, parseHeaders("a=1,broken"))
	assert.Empty(t, parseHeaders(""))
}

func TestWriterLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer

	log := NewWriterLogger(&buf, zerolog.InfoLevel)
	component := log.WithComponent("ingest")
	component.Info().Msg("ready")
	log.Debug().Msg("dropped")

	var line map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ingest", line["component"])
	assert.Equal(t, "ready", line["message"])

	log.SetLevel(zerolog.WarnLevel)
	log.Info().Msg("dropped too")
	assert.NotContains(t, buf.String(), "dropped")
}
