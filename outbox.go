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
	"encoding/json"

	"github.com/ecp-indexer/relay/database"
	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var outboxTracer = otel.Tracer("relay.outbox")

// PublishEvent records event in the event outbox. Pass the caller's transaction as tx
// so the event is committed together with the change it describes; a nil tx records
// it on its own. Publishing the same uid twice is not an error: the existing row is
// returned.
func (r *Relay) PublishEvent(ctx context.Context, tx database.DBTX, event model.Event, aggregateType, aggregateID string) (*model.OutboxEvent, error) {
	ctx, span := outboxTracer.Start(ctx, "PublishEvent")
	defer span.End()

	if err := event.Validate(); err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid event", err)
	}
	if err := validation.Validate(aggregateType, validation.Required, validation.In(
		model.AggregateTypeComment, model.AggregateTypeApproval, model.AggregateTypeApp,
	)); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid aggregate type", err)
	}
	if err := validation.Validate(aggregateID, validation.Required); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid aggregate id", err)
	}

	outboxEvent := &model.OutboxEvent{
		EventUID:      event.UID,
		EventType:     event.Type,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       event.Payload,
	}
	created, err := r.datasource.InsertOutboxEvent(ctx, tx, outboxEvent)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !created {
		logrus.WithFields(logrus.Fields{
			"event_uid": event.UID,
			"event_id":  outboxEvent.ID,
		}).Debug("event already in outbox")
	}
	span.AddEvent("Event recorded", trace.WithAttributes(
		attribute.Int64("event.id", outboxEvent.ID),
		attribute.String("event.type", event.Type),
		attribute.Bool("event.created", created),
	))
	return outboxEvent, nil
}

// PublishNotifications records notifications in the notification outbox, skipping uids
// that were already published. It returns how many rows were inserted.
func (r *Relay) PublishNotifications(ctx context.Context, tx database.DBTX, notifications []model.NotificationOutboxEntry) (int64, error) {
	ctx, span := outboxTracer.Start(ctx, "PublishNotifications")
	defer span.End()

	if len(notifications) == 0 {
		return 0, nil
	}
	for _, n := range notifications {
		if err := n.Validate(); err != nil {
			span.RecordError(err)
			return 0, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid notification "+n.NotificationUID, err)
		}
	}

	inserted, err := r.datasource.InsertNotifications(ctx, tx, notifications)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.AddEvent("Notifications recorded", trace.WithAttributes(attribute.Int64("notification.count", inserted)))
	return inserted, nil
}

// PublishTestEvent publishes a test event addressed to a single webhook of an app.
// The fan-out engine delivers it to that webhook only, regardless of its event
// filter, as long as the webhook is not paused.
func (r *Relay) PublishTestEvent(ctx context.Context, appID, webhookID string) (*model.OutboxEvent, error) {
	ctx, span := outboxTracer.Start(ctx, "PublishTestEvent")
	defer span.End()

	webhook, err := r.datasource.GetWebhook(ctx, webhookID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if webhook.AppID != appID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "webhook not found for app", nil)
	}

	payload, err := json.Marshal(model.TestEventTarget{AppID: appID, WebhookID: webhookID})
	if err != nil {
		return nil, err
	}
	return r.PublishEvent(ctx, nil, model.Event{
		UID:     model.GenerateEventUID(model.EventTypeTest, r.now()),
		Type:    model.EventTypeTest,
		Payload: payload,
	}, model.AggregateTypeApp, appID)
}
