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

package broadcast

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName              = "novacomm.broadcast"
	metricPublishedTotal   = "broadcast_events_published_total"
	metricDroppedTotal     = "broadcast_events_dropped_total"
	metricDisconnectsTotal = "broadcast_subscriber_disconnects_total"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	publishedCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	droppedCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	disconnectCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	published, err := meter.Int64Counter(
		metricPublishedTotal,
		metric.WithDescription("Events accepted by the broadcast queue"),
	)
	if err != nil {
		otel.Handle(err)
	}
	publishedCounter = published

	dropped, err := meter.Int64Counter(
		metricDroppedTotal,
		metric.WithDescription("Events shed because the broadcast queue was full"),
	)
	if err != nil {
		otel.Handle(err)
	}
	droppedCounter = dropped

	disconnects, err := meter.Int64Counter(
		metricDisconnectsTotal,
		metric.WithDescription("Viewer connections dropped by the broadcaster"),
	)
	if err != nil {
		otel.Handle(err)
	}
	disconnectCounter = disconnects
}

func recordPublished(kind string) {
	meterOnce.Do(initMeter)
	if publishedCounter == nil {
		return
	}

	publishedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func recordDropped(kind string) {
	meterOnce.Do(initMeter)
	if droppedCounter == nil {
		return
	}

	droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func recordDisconnect(reason string) {
	meterOnce.Do(initMeter)
	if disconnectCounter == nil {
		return
	}

	disconnectCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
