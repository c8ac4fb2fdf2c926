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

package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/carverauto/novacomm/pkg/logger"
)

var (
	ErrMissingListenAddr   = errors.New("listen_addr is required")
	ErrMissingNATSConfig   = errors.New("nats configuration is required")
	ErrMissingNATSURL      = errors.New("nats url is required")
	ErrMissingStreamName   = errors.New("nats stream_name is required")
	ErrMissingConsumerName = errors.New("nats consumer_name is required")
	ErrMissingSubject      = errors.New("nats subject is required")
	ErrInvalidWorkers      = errors.New("nats workers must not be negative")
	ErrMissingCNPGHost     = errors.New("cnpg host is required")
	ErrMissingCNPGDatabase = errors.New("cnpg database is required")
	ErrInvalidQueueSize    = errors.New("bus queue_size must not be negative")
	ErrInvalidOutboxSize   = errors.New("bus outbox_size must not be negative")
)

const (
	DefaultTelemetrySubject = "novacomm.*.rx"
	DefaultStreamName       = "NOVACOMM_TELEMETRY"
	DefaultConsumerName     = "novacomm-core"
	DefaultDeploySubject    = "novacomm"
)

// NATSConfig describes the telemetry transport and the OTA deploy channel.
type NATSConfig struct {
	URL          string          `json:"url"`
	Domain       string          `json:"domain,omitempty"`
	StreamName   string          `json:"stream_name"`
	ConsumerName string          `json:"consumer_name"`
	Subject      string          `json:"subject"`
	Workers      int             `json:"workers,omitempty"`
	Security     *SecurityConfig `json:"security,omitempty"`
	// DeploySubjectPrefix is combined with a node id into "<prefix>.<node>.ota".
	DeploySubjectPrefix string   `json:"deploy_subject_prefix,omitempty"`
	DeployTimeout       Duration `json:"deploy_timeout,omitempty"`
}

// Validate ensures the NATS configuration is usable.
func (c *NATSConfig) Validate() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, ErrMissingNATSURL)
	}

	if c.StreamName == "" {
		errs = append(errs, ErrMissingStreamName)
	}

	if c.ConsumerName == "" {
		errs = append(errs, ErrMissingConsumerName)
	}

	if c.Subject == "" {
		errs = append(errs, ErrMissingSubject)
	}

	if c.Workers < 0 {
		errs = append(errs, ErrInvalidWorkers)
	}

	return errors.Join(errs...)
}

// DeploySubject returns the request subject used to push firmware to a node.
func (c *NATSConfig) DeploySubject(nodeID string) string {
	prefix := strings.TrimSuffix(c.DeploySubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultDeploySubject
	}

	return fmt.Sprintf("%s.%s.ota", prefix, nodeID)
}

// CNPGDatabase holds the pgx pool settings for the CloudNativePG cluster.
type CNPGDatabase struct {
	Host               string            `json:"host"`
	Port               int               `json:"port"`
	Database           string            `json:"database"`
	Username           string            `json:"username"`
	Password           string            `json:"password,omitempty"`
	SSLMode            string            `json:"ssl_mode,omitempty"`
	ApplicationName    string            `json:"application_name,omitempty"`
	CertDir            string            `json:"cert_dir,omitempty"`
	TLS                *TLSConfig        `json:"tls,omitempty"`
	MaxConnections     int32             `json:"max_connections,omitempty"`
	MinConnections     int32             `json:"min_connections,omitempty"`
	MaxConnLifetime    Duration          `json:"max_conn_lifetime,omitempty"`
	HealthCheckPeriod  Duration          `json:"health_check_period,omitempty"`
	StatementTimeout   Duration          `json:"statement_timeout,omitempty"`
	ExtraRuntimeParams map[string]string `json:"extra_runtime_params,omitempty"`
}

// Validate checks the fields needed to dial the cluster.
func (c *CNPGDatabase) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, ErrMissingCNPGHost)
	}

	if c.Database == "" {
		errs = append(errs, ErrMissingCNPGDatabase)
	}

	return errors.Join(errs...)
}

// BusConfig sizes the viewer fan-out queues.
type BusConfig struct {
	QueueSize    int      `json:"queue_size,omitempty"`
	OutboxSize   int      `json:"outbox_size,omitempty"`
	WriteTimeout Duration `json:"write_timeout,omitempty"`
	PingInterval Duration `json:"ping_interval,omitempty"`
}

// Validate rejects negative sizes; zero selects the defaults.
func (c *BusConfig) Validate() error {
	var errs []error

	if c.QueueSize < 0 {
		errs = append(errs, ErrInvalidQueueSize)
	}

	if c.OutboxSize < 0 {
		errs = append(errs, ErrInvalidOutboxSize)
	}

	return errors.Join(errs...)
}

// OTAConfig controls how firmware deployments are issued.
type OTAConfig struct {
	// Simulate accepts every deployment without contacting the node.
	Simulate bool `json:"simulate"`
}

// CORSConfig controls which browser origins may call the API and open viewer connections.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins,omitempty"`
	AllowCredentials bool     `json:"allow_credentials,omitempty"`
}

// CoreServiceConfig is the configuration of the novacomm core service.
// AllowedOrigins feeds the CORS and websocket origin checks.
type CoreServiceConfig struct {
	ListenAddr        string         `json:"listen_addr"`
	NATS              *NATSConfig    `json:"nats"`
	CNPG              *CNPGDatabase  `json:"cnpg,omitempty"`
	Bus               BusConfig      `json:"bus"`
	OTA               OTAConfig      `json:"ota"`
	AllowedOrigins    []string       `json:"allowed_origins,omitempty"`
	AdminAPIKey       string         `json:"admin_api_key,omitempty"`
	RepositoryTimeout Duration       `json:"repository_timeout,omitempty"`
	Logging           *logger.Config `json:"logging,omitempty"`
}

// Validate fills transport defaults and then checks the configuration for
// required fields.
func (c *CoreServiceConfig) Validate() error {
	c.ApplyDefaults()

	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, ErrMissingListenAddr)
	}

	if c.NATS == nil {
		errs = append(errs, ErrMissingNATSConfig)
	} else if err := c.NATS.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.CNPG != nil {
		if err := c.CNPG.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.Bus.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ApplyDefaults fills optional transport settings that were left empty.
func (c *CoreServiceConfig) ApplyDefaults() {
	if c.NATS == nil {
		return
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = DefaultTelemetrySubject
	}

	if c.NATS.StreamName == "" {
		c.NATS.StreamName = DefaultStreamName
	}

	if c.NATS.ConsumerName == "" {
		c.NATS.ConsumerName = DefaultConsumerName
	}
}
