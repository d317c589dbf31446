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
package mocks

import (
	"context"
	"time"

	"github.com/ecp-indexer/relay/database"
	"github.com/ecp-indexer/relay/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

var _ database.IDataSource = (*MockDataSource)(nil)

// Outbox methods

func (m *MockDataSource) InsertOutboxEvent(ctx context.Context, q database.DBTX, event *model.OutboxEvent) (bool, error) {
	args := m.Called(ctx, q, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) InsertNotifications(ctx context.Context, q database.DBTX, entries []model.NotificationOutboxEntry) (int64, error) {
	args := m.Called(ctx, q, entries)
	return args.Get(0).(int64), args.Error(1)
}

// Fan-out methods

func (m *MockDataSource) FanOutEvents(ctx context.Context, batchSize int) (database.FanOutResult, error) {
	args := m.Called(ctx, batchSize)
	return args.Get(0).(database.FanOutResult), args.Error(1)
}

func (m *MockDataSource) FanOutNotifications(ctx context.Context, batchSize int) (database.FanOutResult, error) {
	args := m.Called(ctx, batchSize)
	return args.Get(0).(database.FanOutResult), args.Error(1)
}

// Delivery methods

func (m *MockDataSource) ClaimDeliveries(ctx context.Context, batchSize int, lease time.Duration) ([]model.ClaimedDelivery, error) {
	args := m.Called(ctx, batchSize, lease)
	claimed, _ := args.Get(0).([]model.ClaimedDelivery)
	return claimed, args.Error(1)
}

func (m *MockDataSource) RecordDeliveryAttempt(ctx context.Context, claimed model.ClaimedDelivery, res model.DeliveryResolution) error {
	args := m.Called(ctx, claimed, res)
	return args.Error(0)
}

func (m *MockDataSource) GetActiveSigningSecret(ctx context.Context, appID string) (string, error) {
	args := m.Called(ctx, appID)
	return args.String(0), args.Error(1)
}

func (m *MockDataSource) GetDelivery(ctx context.Context, id int64) (*model.Delivery, error) {
	args := m.Called(ctx, id)
	delivery, _ := args.Get(0).(*model.Delivery)
	return delivery, args.Error(1)
}

func (m *MockDataSource) RedeliverDelivery(ctx context.Context, id int64) (*model.Delivery, error) {
	args := m.Called(ctx, id)
	delivery, _ := args.Get(0).(*model.Delivery)
	return delivery, args.Error(1)
}

func (m *MockDataSource) ListDeliveryAttempts(ctx context.Context, deliveryID int64) ([]model.DeliveryAttempt, error) {
	args := m.Called(ctx, deliveryID)
	attempts, _ := args.Get(0).([]model.DeliveryAttempt)
	return attempts, args.Error(1)
}

// Webhook methods

func (m *MockDataSource) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	args := m.Called(ctx, id)
	webhook, _ := args.Get(0).(*model.Webhook)
	return webhook, args.Error(1)
}

// App notification methods

func (m *MockDataSource) ListAppNotifications(ctx context.Context, appID string, limit, offset int) ([]model.AppNotification, error) {
	args := m.Called(ctx, appID, limit, offset)
	notifications, _ := args.Get(0).([]model.AppNotification)
	return notifications, args.Error(1)
}

// Signing key methods

func (m *MockDataSource) RevokeSigningKey(ctx context.Context, appID string, keyID int64) error {
	args := m.Called(ctx, appID, keyID)
	return args.Error(0)
}

// Connection methods

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// WithTx runs fn with a nil transaction; the configured error is returned when fn succeeds.
func (m *MockDataSource) WithTx(ctx context.Context, fn func(tx database.DBTX) error) error {
	args := m.Called(ctx)
	if err := fn(nil); err != nil {
		return err
	}
	return args.Error(0)
}
