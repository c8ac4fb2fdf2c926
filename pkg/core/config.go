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

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/carverauto/novacomm/pkg/config"
	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
)

var (
	// ErrCNPGPasswordRequired is returned when CNPG is configured without a password source.
	ErrCNPGPasswordRequired = errors.New("CNPG password is required; set it in config or provide CNPG_PASSWORD_FILE from a mounted secret")
	// ErrCNPGPasswordEmpty is returned when the mounted password file has no content.
	ErrCNPGPasswordEmpty = errors.New("CNPG password file is empty")
)

// LoadConfig reads, normalizes and validates the core configuration.
func LoadConfig(ctx context.Context, path string, log logger.Logger) (*models.CoreServiceConfig, error) {
	var cfg models.CoreServiceConfig

	if err := config.NewConfig(log).LoadAndValidate(ctx, path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load core config: %w", err)
	}

	if cfg.CNPG != nil && cfg.CNPG.TLS != nil && cfg.CNPG.CertDir != "" {
		config.NormalizeTLSPaths(cfg.CNPG.TLS, cfg.CNPG.CertDir)
	}

	if err := applyCNPGPassword(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyCNPGPassword sources the CNPG password from a mounted secret file
// when the config does not carry one.
func applyCNPGPassword(cfg *models.CoreServiceConfig) error {
	if cfg == nil || cfg.CNPG == nil || cfg.CNPG.Password != "" {
		return nil
	}

	pwPath := os.Getenv("CNPG_PASSWORD_FILE")
	if pwPath == "" {
		return ErrCNPGPasswordRequired
	}

	data, err := os.ReadFile(pwPath)
	if err != nil {
		return fmt.Errorf("read CNPG password file: %w", err)
	}

	pwd := strings.TrimSpace(string(data))
	if pwd == "" {
		return fmt.Errorf("%w: %s", ErrCNPGPasswordEmpty, pwPath)
	}

	cfg.CNPG.Password = pwd

	return nil
}
