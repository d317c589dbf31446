/*
Copyright 2024 ECP Indexer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package relay

import (
	"context"
	"time"

	"github.com/ecp-indexer/relay/database"
	"github.com/ecp-indexer/relay/internal/metrics"
	"github.com/ecp-indexer/relay/internal/wakeup"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var fanOutTracer = otel.Tracer("relay.fanout")

// EventFanOutProcessor expands event outbox rows into webhook deliveries. Any number of
// processors may run against the same database; each claims a disjoint batch.
type EventFanOutProcessor struct {
	datasource   database.IDataSource
	wakeup       *wakeup.Notifier
	batchSize    int
	pollInterval time.Duration
}

// NewEventFanOutProcessor creates an event fan-out processor from the relay configuration.
func (r *Relay) NewEventFanOutProcessor() *EventFanOutProcessor {
	return &EventFanOutProcessor{
		datasource:   r.datasource,
		wakeup:       wakeup.New(),
		batchSize:    r.config.EventFanOut.BatchSize,
		pollInterval: r.config.EventFanOut.PollInterval.Duration,
	}
}

// Notifier wakes the processor when new outbox events are committed.
func (p *EventFanOutProcessor) Notifier() *wakeup.Notifier {
	return p.wakeup
}

// ProcessBatch runs one claim, match, insert and mark cycle.
func (p *EventFanOutProcessor) ProcessBatch(ctx context.Context) (database.FanOutResult, error) {
	ctx, span := fanOutTracer.Start(ctx, "FanOutEvents")
	defer span.End()

	result, err := p.datasource.FanOutEvents(ctx, p.batchSize)
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	if result.Claimed > 0 {
		metrics.OutboxClaimed.WithLabelValues("event").Add(float64(result.Claimed))
		metrics.FanOutCreated.WithLabelValues("event").Add(float64(result.Created))
		logrus.WithFields(logrus.Fields{
			"events_claimed":     result.Claimed,
			"deliveries_created": result.Created,
		}).Info("fanned out outbox events")
	}
	span.AddEvent("Events fanned out", trace.WithAttributes(
		attribute.Int("events.claimed", result.Claimed),
		attribute.Int64("deliveries.created", result.Created),
	))
	return result, nil
}

// Run processes batches until ctx is done. A store failure stops the loop and is
// returned to the caller.
func (p *EventFanOutProcessor) Run(ctx context.Context) error {
	return runLoop(ctx, "event_fanout", p.wakeup, p.pollInterval, func(ctx context.Context) (bool, error) {
		result, err := p.ProcessBatch(ctx)
		return result.Claimed > 0, err
	})
}
