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

package database

import (
	"context"
	"time"

	"github.com/ecp-indexer/relay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	outbox          // Interface for transactional outbox writes
	fanOut          // Interface for outbox fan-out cycles
	delivery        // Interface for webhook delivery operations
	webhook         // Interface for subscription reads
	appNotification // Interface for app notification feeds
	signingKey      // Interface for app signing key management
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx DBTX) error) error
}

// outbox defines methods for recording events and notifications. A nil DBTX runs
// the statement on the datasource's own connection.
type outbox interface {
	// InsertOutboxEvent records an event, reporting false when the uid already exists.
	InsertOutboxEvent(ctx context.Context, q DBTX, event *model.OutboxEvent) (bool, error)
	// InsertNotifications records notifications, skipping known uids.
	InsertNotifications(ctx context.Context, q DBTX, entries []model.NotificationOutboxEntry) (int64, error)
}

// FanOutResult summarises one fan-out cycle.
type FanOutResult struct {
	Claimed int   // outbox rows claimed and marked processed
	Created int64 // delivery or app notification rows inserted
}

// fanOut defines the claim, match, insert and mark cycles of both fan-out engines.
type fanOut interface {
	FanOutEvents(ctx context.Context, batchSize int) (FanOutResult, error)
	FanOutNotifications(ctx context.Context, batchSize int) (FanOutResult, error)
}

// delivery defines methods used by the webhook delivery worker.
type delivery interface {
	// ClaimDeliveries claims the head of each ready subscriber queue.
	ClaimDeliveries(ctx context.Context, batchSize int, lease time.Duration) ([]model.ClaimedDelivery, error)
	// RecordDeliveryAttempt writes the attempt and the new delivery state.
	RecordDeliveryAttempt(ctx context.Context, claimed model.ClaimedDelivery, res model.DeliveryResolution) error
	// GetActiveSigningSecret returns the newest non-revoked signing secret of an app.
	GetActiveSigningSecret(ctx context.Context, appID string) (string, error)
	GetDelivery(ctx context.Context, id int64) (*model.Delivery, error)
	// RedeliverDelivery queues a new delivery row with the next retry number.
	RedeliverDelivery(ctx context.Context, id int64) (*model.Delivery, error)
	ListDeliveryAttempts(ctx context.Context, deliveryID int64) ([]model.DeliveryAttempt, error)
}

// webhook defines read access to subscriptions.
type webhook interface {
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
}

// appNotification defines read access to per-app notification feeds.
type appNotification interface {
	ListAppNotifications(ctx context.Context, appID string, limit, offset int) ([]model.AppNotification, error)
}

// signingKey defines write access to app signing keys.
type signingKey interface {
	// RevokeSigningKey revokes an active key and evicts the cached secret of the app.
	RevokeSigningKey(ctx context.Context, appID string, keyID int64) error
}
