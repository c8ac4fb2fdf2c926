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

package ingest

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName             = "novacomm.ingest"
	metricMessagesTotal   = "ingest_messages_total"
	metricProcessDuration = "ingest_process_duration_seconds"

	outcomeProcessed  = "processed"
	outcomeMalformed  = "malformed"
	outcomeUnresolved = "unresolved"
	outcomeAbandoned  = "abandoned"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	messageCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	processHistogram metric.Float64Histogram
)

func initMeter() {
	meter := otel.Meter(meterName)

	counter, err := meter.Int64Counter(
		metricMessagesTotal,
		metric.WithDescription("Inbound telemetry messages by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	messageCounter = counter

	hist, err := meter.Float64Histogram(
		metricProcessDuration,
		metric.WithDescription("Time to reconcile, record and publish one reading"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	processHistogram = hist
}

func recordMessage(ctx context.Context, outcome string) {
	meterOnce.Do(initMeter)
	if messageCounter == nil {
		return
	}

	messageCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordProcessDuration(ctx context.Context, d time.Duration) {
	meterOnce.Do(initMeter)
	if processHistogram == nil {
		return
	}

	processHistogram.Record(ctx, d.Seconds())
}
