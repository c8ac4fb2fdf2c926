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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrEmptyConfigPath is returned when file loading is selected without a path.
var ErrEmptyConfigPath = errors.New("config file path is empty")

var errTrailingData = errors.New("unexpected data after JSON document")

// FileConfigLoader loads configuration from a single JSON document on disk.
type FileConfigLoader struct{}

// Load decodes the file at path into dst.
func (*FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	if path == "" {
		return ErrEmptyConfigPath
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to decode config %q: %w", path, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %q: %w", path, errTrailingData)
	}

	return nil
}
