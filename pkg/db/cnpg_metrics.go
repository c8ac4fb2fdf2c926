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

package db

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName               = "novacomm.db"
	metricErrorsTotal       = "cnpg_errors_total"
	metricRetrySuccessTotal = "cnpg_retry_success_total"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	errorCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	retrySuccessCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	errs, err := meter.Int64Counter(
		metricErrorsTotal,
		metric.WithDescription("CNPG operation failures by SQLSTATE"),
	)
	if err != nil {
		otel.Handle(err)
	}
	errorCounter = errs

	retries, err := meter.Int64Counter(
		metricRetrySuccessTotal,
		metric.WithDescription("CNPG operations that succeeded after a retry"),
	)
	if err != nil {
		otel.Handle(err)
	}
	retrySuccessCounter = retries
}

func recordCNPGError(ctx context.Context, operation, sqlstate string) {
	meterOnce.Do(initMeter)
	if errorCounter == nil {
		return
	}

	errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("sqlstate", sqlstate),
	))
}

func recordCNPGRetrySuccess(ctx context.Context, operation string) {
	meterOnce.Do(initMeter)
	if retrySuccessCounter == nil {
		return
	}

	retrySuccessCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
