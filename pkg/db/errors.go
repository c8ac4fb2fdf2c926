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

// Package db persists nodes, telemetry and OTA tasks in CNPG through pgx, and
// provides an in-memory store with the same contracts.
package db

import "errors"

var (
	// ErrNilPool is returned when a store is built without a pool.
	ErrNilPool = errors.New("cnpg pool is nil")
	// ErrCNPGTLSFilesRequired is returned when TLS is configured without all three files.
	ErrCNPGTLSFilesRequired = errors.New("cnpg tls: cert_file, key_file, and ca_file are required")
	// ErrCNPGAppendCA is returned when the CA bundle has no usable certificate.
	ErrCNPGAppendCA = errors.New("cnpg tls: unable to append CA certificate")
	// ErrNodeMissing is returned when a record references a node that is not stored.
	ErrNodeMissing = errors.New("referenced node does not exist")
)
