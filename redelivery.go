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

	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/model"
	"github.com/sirupsen/logrus"
)

// RedeliverDelivery queues a finished delivery again. The original row is kept as is;
// a new pending row for the same webhook and event is created with the next retry
// number and attempted as soon as it reaches the head of the webhook's queue.
func (r *Relay) RedeliverDelivery(ctx context.Context, deliveryID int64) (*model.Delivery, error) {
	ctx, span := deliveryTracer.Start(ctx, "RedeliverDelivery")
	defer span.End()

	original, err := r.datasource.GetDelivery(ctx, deliveryID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !original.Status.IsTerminal() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "only finished deliveries can be redelivered", original.Status)
	}

	redelivery, err := r.datasource.RedeliverDelivery(ctx, deliveryID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"delivery_id":  deliveryID,
		"redelivery":   redelivery.ID,
		"webhook_id":   redelivery.WebhookID,
		"event_id":     redelivery.EventID,
		"retry_number": redelivery.RetryNumber,
	}).Info("delivery queued for redelivery")
	return redelivery, nil
}

// ListDeliveryAttempts returns the attempt history of a delivery, oldest first.
func (r *Relay) ListDeliveryAttempts(ctx context.Context, deliveryID int64) ([]model.DeliveryAttempt, error) {
	if _, err := r.datasource.GetDelivery(ctx, deliveryID); err != nil {
		return nil, err
	}
	return r.datasource.ListDeliveryAttempts(ctx, deliveryID)
}

const (
	defaultFeedLimit = 20
	maxFeedLimit     = 100
)

// ListAppNotifications returns a page of an app's notification feed, newest first.
func (r *Relay) ListAppNotifications(ctx context.Context, appID string, limit, offset int) ([]model.AppNotification, error) {
	if appID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "app id is required", nil)
	}
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	if offset < 0 {
		offset = 0
	}
	return r.datasource.ListAppNotifications(ctx, appID, limit, offset)
}
