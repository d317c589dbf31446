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
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/ecp-indexer/relay/config"
	"github.com/ecp-indexer/relay/database/mocks"
	"github.com/ecp-indexer/relay/model"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Configuration {
	maxAttempts := 20
	return &config.Configuration{
		ProjectName: "ECP Relay",
		DataSource:  config.DataSourceConfig{Dns: "postgres://localhost:5432/relay?sslmode=disable"},
		EventFanOut: config.FanOutConfig{
			BatchSize:    100,
			PollInterval: config.Duration{Duration: 30 * time.Second},
		},
		NotificationFanOut: config.FanOutConfig{
			BatchSize:    100,
			PollInterval: config.Duration{Duration: 30 * time.Second},
		},
		Delivery: config.DeliveryConfig{
			BatchSize:        20,
			PollInterval:     config.Duration{Duration: time.Second},
			LeaseDuration:    config.Duration{Duration: 60 * time.Second},
			RequestTimeout:   config.Duration{Duration: 5 * time.Second},
			MaxAttempts:      &maxAttempts,
			SigningSecretTTL: config.Duration{Duration: time.Minute},
		},
	}
}

// newTestRelay returns a relay with a fixed clock and a jitter that always adds its
// full limit.
func newTestRelay(t *testing.T) (*Relay, *mocks.MockDataSource) {
	t.Helper()
	config.MockConfig(testConfig())

	ds := new(mocks.MockDataSource)
	r, err := NewRelay(ds)
	require.NoError(t, err)
	r.now = func() time.Time { return fixedNow }
	r.jitter = func(limit time.Duration) time.Duration { return limit }
	t.Cleanup(func() { ds.AssertExpectations(t) })
	return r, ds
}

func newClaimedDelivery(t *testing.T, attempts int) model.ClaimedDelivery {
	t.Helper()
	leaseUntil := fixedNow.Add(time.Minute)
	eventID := gofakeit.Int64()
	if eventID < 0 {
		eventID = -eventID
	}
	payload, err := json.Marshal(map[string]string{
		"event": model.EventTypeCommentAdded,
		"id":    gofakeit.UUID(),
		"text":  gofakeit.Sentence(8),
	})
	require.NoError(t, err)

	webhookID := gofakeit.UUID()
	return model.ClaimedDelivery{
		Delivery: model.Delivery{
			ID:            gofakeit.Int64() & 0xffffff,
			CreatedAt:     fixedNow.Add(-time.Hour),
			NextAttemptAt: fixedNow.Add(-time.Second),
			LeaseUntil:    &leaseUntil,
			WebhookID:     webhookID,
			EventID:       eventID,
			Status:        model.DeliveryStatusProcessing,
			AttemptsCount: attempts,
		},
		Event: model.OutboxEvent{
			ID:            eventID,
			EventUID:      fmt.Sprintf("comment:%d:%s", fixedNow.UnixMilli(), gofakeit.UUID()),
			EventType:     model.EventTypeCommentAdded,
			AggregateType: model.AggregateTypeComment,
			AggregateID:   "0x" + gofakeit.LetterN(40),
			Payload:       payload,
		},
		Webhook: model.Webhook{
			ID:    webhookID,
			AppID: gofakeit.UUID(),
			Name:  gofakeit.AppName(),
			URL:   "https://" + gofakeit.DomainName() + "/webhooks",
			Auth:  model.NoAuth{},
		},
	}
}
