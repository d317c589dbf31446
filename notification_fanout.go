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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NotificationFanOutProcessor copies notification outbox rows into the feed of every
// app that existed when the notification was created.
type NotificationFanOutProcessor struct {
	datasource   database.IDataSource
	wakeup       *wakeup.Notifier
	batchSize    int
	pollInterval time.Duration
}

func (r *Relay) NewNotificationFanOutProcessor() *NotificationFanOutProcessor {
	return &NotificationFanOutProcessor{
		datasource:   r.datasource,
		wakeup:       wakeup.New(),
		batchSize:    r.config.NotificationFanOut.BatchSize,
		pollInterval: r.config.NotificationFanOut.PollInterval.Duration,
	}
}

func (p *NotificationFanOutProcessor) Notifier() *wakeup.Notifier {
	return p.wakeup
}

// ProcessBatch runs one claim, match, insert and mark cycle.
func (p *NotificationFanOutProcessor) ProcessBatch(ctx context.Context) (database.FanOutResult, error) {
	ctx, span := fanOutTracer.Start(ctx, "FanOutNotifications")
	defer span.End()

	result, err := p.datasource.FanOutNotifications(ctx, p.batchSize)
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	if result.Claimed > 0 {
		metrics.OutboxClaimed.WithLabelValues("notification").Add(float64(result.Claimed))
		metrics.FanOutCreated.WithLabelValues("notification").Add(float64(result.Created))
		logrus.WithFields(logrus.Fields{
			"notifications_claimed":     result.Claimed,
			"app_notifications_created": result.Created,
		}).Info("fanned out notifications")
	}
	span.AddEvent("Notifications fanned out", trace.WithAttributes(
		attribute.Int("notifications.claimed", result.Claimed),
		attribute.Int64("app_notifications.created", result.Created),
	))
	return result, nil
}

func (p *NotificationFanOutProcessor) Run(ctx context.Context) error {
	return runLoop(ctx, "notification_fanout", p.wakeup, p.pollInterval, func(ctx context.Context) (bool, error) {
		result, err := p.ProcessBatch(ctx)
		return result.Claimed > 0, err
	})
}
