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
	"fmt"
	"time"

	"github.com/ecp-indexer/relay/database"
	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/internal/hooks"
	"github.com/ecp-indexer/relay/internal/metrics"
	"github.com/ecp-indexer/relay/internal/wakeup"
	"github.com/ecp-indexer/relay/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var deliveryTracer = otel.Tracer("relay.delivery")

// DeliveryWorker executes webhook deliveries. Each cycle leases the head of every ready
// subscriber queue and sends those deliveries in parallel; a subscriber never has more
// than one delivery in flight.
type DeliveryWorker struct {
	datasource   database.IDataSource
	client       *hooks.Client
	wakeup       *wakeup.Notifier
	batchSize    int
	pollInterval time.Duration
	lease        time.Duration
	maxAttempts  int
	now          func() time.Time
	jitter       model.Jitter
}

func (r *Relay) NewDeliveryWorker() *DeliveryWorker {
	cfg := r.config.Delivery
	maxAttempts := model.DefaultMaxDeliveryAttempts
	if cfg.MaxAttempts != nil {
		maxAttempts = *cfg.MaxAttempts
	}
	return &DeliveryWorker{
		datasource:   r.datasource,
		client:       r.hooks,
		wakeup:       wakeup.New(),
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval.Duration,
		lease:        cfg.LeaseDuration.Duration,
		maxAttempts:  maxAttempts,
		now:          r.now,
		jitter:       r.jitter,
	}
}

// Notifier wakes the worker when new deliveries are inserted.
func (w *DeliveryWorker) Notifier() *wakeup.Notifier {
	return w.wakeup
}

// ProcessBatch claims up to batchSize deliveries and executes them. It returns the
// number of deliveries claimed. Outcomes are recorded even if ctx is cancelled while a
// request is in flight; the request itself is bounded by the client timeout.
func (w *DeliveryWorker) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := deliveryTracer.Start(ctx, "ProcessDeliveries")
	defer span.End()

	claimed, err := w.datasource.ClaimDeliveries(ctx, w.batchSize, w.lease)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}
	metrics.DeliveriesClaimed.Add(float64(len(claimed)))
	span.AddEvent("Deliveries claimed", trace.WithAttributes(attribute.Int("deliveries.claimed", len(claimed))))

	// claims hold at most one delivery per webhook, so they can all run at once
	deliveryCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, c := range claimed {
		c := c
		g.Go(func() error {
			return w.deliver(deliveryCtx, c)
		})
	}
	return len(claimed), g.Wait()
}

// Run processes batches until ctx is done. In-flight deliveries finish before it returns.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	return runLoop(ctx, "delivery", w.wakeup, w.pollInterval, func(ctx context.Context) (bool, error) {
		n, err := w.ProcessBatch(ctx)
		return n > 0, err
	})
}

func (w *DeliveryWorker) deliver(ctx context.Context, c model.ClaimedDelivery) error {
	ctx, span := deliveryTracer.Start(ctx, "DeliverWebhook", trace.WithAttributes(
		attribute.Int64("delivery.id", c.ID),
		attribute.String("webhook.id", c.WebhookID),
		attribute.Int64("event.id", c.EventID),
	))
	defer span.End()

	logger := logrus.WithFields(logrus.Fields{
		"delivery_id": c.ID,
		"webhook_id":  c.WebhookID,
		"event_id":    c.EventID,
		"attempt":     c.AttemptsCount + 1,
	})

	outcome, err := w.execute(ctx, c)
	if err != nil {
		span.RecordError(err)
		return err
	}

	resolution, err := c.Resolve(outcome, w.now(), w.maxAttempts, w.jitter)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := w.datasource.RecordDeliveryAttempt(ctx, c, resolution); err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) {
			metrics.LeasesLost.Inc()
			logger.Warn("delivery lease expired before the outcome was recorded, discarding it")
			return nil
		}
		span.RecordError(err)
		return err
	}

	metrics.DeliveryAttempts.WithLabelValues(resolution.Status.String(), metrics.ResponseClass(outcome.ResponseStatus)).Inc()
	if outcome.Duration > 0 {
		metrics.DeliveryDuration.Observe(outcome.Duration.Seconds())
	}
	span.SetAttributes(
		attribute.Int("http.response.status_code", outcome.ResponseStatus),
		attribute.String("delivery.status", resolution.Status.String()),
	)

	logger = logger.WithFields(logrus.Fields{
		"status_code": outcome.ResponseStatus,
		"status":      resolution.Status,
	})
	switch resolution.Status {
	case model.DeliveryStatusSuccess:
		logger.Info("webhook delivered")
	case model.DeliveryStatusPending:
		logger.WithFields(logrus.Fields{
			"next_attempt_at": resolution.NextAttemptAt,
			"error":           outcome.Error,
		}).Warn("webhook delivery failed, rescheduled")
	default:
		span.SetStatus(codes.Error, outcome.Error)
		logger.WithField("error", outcome.Error).Error("webhook delivery failed permanently")
	}
	return nil
}

// execute performs the HTTP attempt. Configuration problems are reported as outcomes
// with the configuration error status; only store failures are returned as errors.
func (w *DeliveryWorker) execute(ctx context.Context, c model.ClaimedDelivery) (model.AttemptOutcome, error) {
	if c.ConfigError != nil {
		return configFailure(c.ConfigError), nil
	}

	secret, err := w.datasource.GetActiveSigningSecret(ctx, c.Webhook.AppID)
	if apierror.HasCode(err, apierror.ErrNotFound) {
		return configFailure(fmt.Errorf("app %s has no active signing key", c.Webhook.AppID)), nil
	}
	if err != nil {
		return model.AttemptOutcome{}, err
	}

	return w.client.Send(ctx, hooks.Request{
		URL:      c.Webhook.URL,
		EventUID: c.Event.EventUID,
		Body:     c.Event.Payload,
		Secret:   secret,
		Auth:     c.Webhook.Auth,
	}), nil
}

func configFailure(err error) model.AttemptOutcome {
	return model.AttemptOutcome{
		ResponseStatus: model.ResponseStatusConfigError,
		Error:          err.Error(),
	}
}
