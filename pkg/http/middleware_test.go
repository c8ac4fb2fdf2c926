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

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
}

func TestCommonMiddleware_CORS(t *testing.T) {
	t.Parallel()

	cfg := models.CORSConfig{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
	}

	handler := CommonMiddleware(okHandler(), cfg, logger.NewTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Origin", "http://localhost:3000")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Origin", "http://evil.com")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"), "CORS allowed an unpermitted origin")
}

func TestCommonMiddleware_Preflight(t *testing.T) {
	t.Parallel()

	called := false
	handler := CommonMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}), models.CORSConfig{AllowedOrigins: []string{"*"}}, logger.NewTestLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/ota/deploy", http.NoBody)
	req.Header.Set("Origin", "http://dash.example")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, called)
}

func TestOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		host    string
		origin  string
		allowed []string
		want    bool
	}{
		{name: "no origin", host: "core:8090", want: true},
		{name: "same host default", host: "core:8090", origin: "http://core:3000", want: true},
		{name: "other host default", host: "core:8090", origin: "http://evil.com", want: false},
		{name: "listed", host: "core:8090", origin: "http://a.example", allowed: []string{"http://a.example"}, want: true},
		{name: "not listed", host: "core:8090", origin: "http://b.example", allowed: []string{"http://a.example"}, want: false},
		{name: "wildcard", host: "core:8090", origin: "http://b.example", allowed: []string{"*"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			req.Host = tt.host

			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			assert.Equal(t, tt.want, OriginAllowed(req, models.CORSConfig{AllowedOrigins: tt.allowed}))
		})
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	handler := APIKeyMiddlewareWithOptions(APIKeyOptions{
		APIKey:          "test-key",
		ExcludePaths:    []string{"/healthz"},
		LogUnauthorized: true,
		Logger:          logger.NewTestLogger(),
	})(okHandler())

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{name: "missing key", path: "/api/nodes", want: http.StatusUnauthorized},
		{name: "wrong key", path: "/api/nodes", key: "nope", want: http.StatusUnauthorized},
		{name: "valid key", path: "/api/nodes", key: "test-key", want: http.StatusOK},
		{name: "excluded path", path: "/healthz", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestAPIKeyMiddlewareDisabledWithoutKey(t *testing.T) {
	t.Parallel()

	handler := APIKeyMiddlewareWithOptions(APIKeyOptions{})(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/nodes/n1", http.NoBody))

	assert.Equal(t, http.StatusOK, rr.Code)
}
