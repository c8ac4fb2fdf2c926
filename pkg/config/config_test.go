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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "core.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeConfig(t, `{
		"listen_addr": ":8090",
		"repository_timeout": "3s",
		"nats": {
			"url": "nats://127.0.0.1:4222",
			"workers": 4,
			"security": {
				"mode": "mtls",
				"cert_dir": "/etc/novacomm/certs",
				"tls": {"cert_file": "core.pem", "key_file": "core-key.pem", "ca_file": "/abs/root.pem"}
			}
		},
		"bus": {"queue_size": 64}
	}`)

	var cfg models.CoreServiceConfig

	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, 3*time.Second, cfg.RepositoryTimeout.Or(0))
	assert.Equal(t, 64, cfg.Bus.QueueSize)
	require.NotNil(t, cfg.NATS)
	assert.Equal(t, models.DefaultTelemetrySubject, cfg.NATS.Subject)
	assert.Equal(t, models.DefaultStreamName, cfg.NATS.StreamName)

	tls := cfg.NATS.Security.TLS
	assert.Equal(t, "/etc/novacomm/certs/core.pem", tls.CertFile)
	assert.Equal(t, "/etc/novacomm/certs/core-key.pem", tls.KeyFile)
	assert.Equal(t, "/abs/root.pem", tls.CAFile)
	assert.Equal(t, "/abs/root.pem", tls.ClientCAFile)
	assert.Nil(t, cfg.CNPG)
}

func TestLoadAndValidateReportsAllMissingFields(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfig(t, `{"nats": {"workers": -1}}`)

	var cfg models.CoreServiceConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.Error(t, err)
	require.ErrorIs(t, err, models.ErrMissingListenAddr)
	require.ErrorIs(t, err, models.ErrMissingNATSURL)
	require.ErrorIs(t, err, models.ErrInvalidWorkers)
}

func TestLoadAndValidateFromEnv(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("NOVACOMM_LISTEN_ADDR", ":9000")
	t.Setenv("NOVACOMM_NATS_URL", "nats://nats:4222")
	t.Setenv("NOVACOMM_NATS_WORKERS", "8")
	t.Setenv("NOVACOMM_NATS_DEPLOY_TIMEOUT", "2s")
	t.Setenv("NOVACOMM_ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("NOVACOMM_OTA_SIMULATE", "true")

	var cfg models.CoreServiceConfig

	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, 8, cfg.NATS.Workers)
	assert.Equal(t, models.Duration(2*time.Second), cfg.NATS.DeployTimeout)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.OTA.Simulate)
	assert.Nil(t, cfg.CNPG, "unset optional sections stay nil")
}

func TestLoadFromEnvJSONDocument(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "MESH_")
	t.Setenv("MESH_CONFIG_JSON", `{"listen_addr": ":1", "nats": {"url": "nats://x"}}`)

	var cfg models.CoreServiceConfig

	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))
	assert.Equal(t, ":1", cfg.ListenAddr)
	assert.Equal(t, "nats://x", cfg.NATS.URL)
}

func TestInvalidConfigSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	var cfg models.CoreServiceConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestEnvLoaderRejectsNonPointer(t *testing.T) {
	loader := NewEnvConfigLoader(logger.NewTestLogger(), "X_")

	require.ErrorIs(t, loader.Load(context.Background(), "", models.CoreServiceConfig{}), ErrDstMustBeNonNilPointer)

	s := "str"
	require.ErrorIs(t, loader.Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
}

func TestFileConfigLoaderErrors(t *testing.T) {
	loader := &FileConfigLoader{}

	var cfg models.CoreServiceConfig

	require.ErrorIs(t, loader.Load(context.Background(), "", &cfg), ErrEmptyConfigPath)
	require.ErrorIs(t, loader.Load(context.Background(), writeConfig(t, `{"listen_addr": ":1"} {}`), &cfg), errTrailingData)
	require.ErrorIs(t, loader.Load(context.Background(), filepath.Join(t.TempDir(), "absent.json"), &cfg), os.ErrNotExist)
	require.Error(t, loader.Load(context.Background(), writeConfig(t, `{"listen_addr":`), &cfg))
}
