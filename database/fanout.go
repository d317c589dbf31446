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
	"database/sql"
	"encoding/json"
	"slices"

	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/model"
	"github.com/lib/pq"
)

// FanOutEvents runs one claim, match, insert and mark cycle of the event fan-out engine
// in a single transaction. Unprocessed events are claimed in id order with SKIP LOCKED so
// concurrent engines never share a batch; each event is matched against the non-paused
// webhooks that accept it and a delivery with retry number 0 is inserted per match.
// Every claimed event is marked processed, including those that matched nothing.
func (d Datasource) FanOutEvents(ctx context.Context, batchSize int) (FanOutResult, error) {
	var result FanOutResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		events, err := claimOutboxEvents(ctx, tx, batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		webhooks, err := listFanOutWebhooks(ctx, tx, distinctEventTypes(events))
		if err != nil {
			return err
		}

		var webhookIDs []string
		var eventIDs []int64
		claimedIDs := make([]int64, 0, len(events))
		for _, event := range events {
			claimedIDs = append(claimedIDs, event.ID)
			for _, w := range webhooks {
				if w.Accepts(event) {
					webhookIDs = append(webhookIDs, w.ID)
					eventIDs = append(eventIDs, event.ID)
				}
			}
		}

		if len(webhookIDs) > 0 {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO event_webhook_deliveries (webhook_id, event_id, retry_number, status, next_attempt_at)
				SELECT t.webhook_id, t.event_id, 0, 'pending', NOW()
				FROM unnest($1::text[], $2::bigint[]) AS t (webhook_id, event_id)
				ON CONFLICT (webhook_id, event_id, retry_number) DO NOTHING
			`, pq.Array(webhookIDs), pq.Array(eventIDs))
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create webhook deliveries", err)
			}
			result.Created, err = res.RowsAffected()
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE event_outbox SET processed_at = NOW() WHERE id = ANY($1)
		`, pq.Array(claimedIDs))
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark outbox events processed", err)
		}

		result.Claimed = len(events)
		return nil
	})
	if err != nil {
		return FanOutResult{}, err
	}
	return result, nil
}

// FanOutNotifications runs one cycle of the notification fan-out engine. A claimed
// notification is copied into the feed of every app created at or before the
// notification itself.
func (d Datasource) FanOutNotifications(ctx context.Context, batchSize int) (FanOutResult, error) {
	var result FanOutResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id
			FROM notification_outbox
			WHERE processed_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, batchSize)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim notification outbox entries", err)
		}
		defer func() { _ = rows.Close() }()

		var claimedIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan notification outbox entry", err)
			}
			claimedIDs = append(claimedIDs, id)
		}
		if err := rows.Err(); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over notification outbox entries", err)
		}
		_ = rows.Close()

		if len(claimedIDs) == 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO app_notifications (notification_id, app_id)
			SELECT n.id, a.id
			FROM notification_outbox n
			JOIN apps a ON a.created_at <= n.created_at
			WHERE n.id = ANY($1)
			ON CONFLICT (notification_id, app_id) DO NOTHING
		`, pq.Array(claimedIDs))
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create app notifications", err)
		}
		result.Created, err = res.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE notification_outbox SET processed_at = NOW() WHERE id = ANY($1)
		`, pq.Array(claimedIDs))
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification outbox entries processed", err)
		}

		result.Claimed = len(claimedIDs)
		return nil
	})
	if err != nil {
		return FanOutResult{}, err
	}
	return result, nil
}

func claimOutboxEvents(ctx context.Context, tx *sql.Tx, batchSize int) ([]model.OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, created_at, event_uid, event_type, aggregate_type, aggregate_id, payload
		FROM event_outbox
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim outbox events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var payload []byte
		err := rows.Scan(
			&event.ID,
			&event.CreatedAt,
			&event.EventUID,
			&event.EventType,
			&event.AggregateType,
			&event.AggregateID,
			&payload,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan outbox event", err)
		}
		event.Payload = payload
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over outbox events", err)
	}
	return events, nil
}

// listFanOutWebhooks loads the non-paused webhooks whose filter is empty or overlaps
// eventTypes. Every non-paused webhook is loaded when the batch holds a test event.
// Only the columns needed for matching are read.
func listFanOutWebhooks(ctx context.Context, tx *sql.Tx, eventTypes []string) ([]model.Webhook, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, app_id, event_filter, event_outbox_position, event_activations
		FROM webhooks
		WHERE paused = FALSE
		  AND (cardinality(event_filter) = 0 OR event_filter && $1::text[] OR $2::boolean)
		ORDER BY id
	`, pq.Array(eventTypes), slices.Contains(eventTypes, model.EventTypeTest))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list webhooks", err)
	}
	defer func() { _ = rows.Close() }()

	var webhooks []model.Webhook
	for rows.Next() {
		var w model.Webhook
		var activations []byte
		err := rows.Scan(&w.ID, &w.AppID, pq.Array(&w.EventFilter), &w.EventOutboxPosition, &activations)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook", err)
		}
		if w.EventActivations, err = decodeActivations(activations); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid webhook event activations", err)
		}
		webhooks = append(webhooks, w)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over webhooks", err)
	}
	return webhooks, nil
}

func distinctEventTypes(events []model.OutboxEvent) []string {
	seen := make(map[string]struct{}, len(events))
	types := make([]string, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e.EventType]; ok {
			continue
		}
		seen[e.EventType] = struct{}{}
		types = append(types, e.EventType)
	}
	return types
}

func decodeActivations(raw []byte) (map[string]int64, error) {
	activations := map[string]int64{}
	if len(raw) == 0 {
		return activations, nil
	}
	if err := json.Unmarshal(raw, &activations); err != nil {
		return nil, err
	}
	return activations, nil
}
