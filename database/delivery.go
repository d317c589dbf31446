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
	"errors"
	"time"

	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/model"
	"github.com/lib/pq"
)

// claimDeliveriesQuery claims at most one delivery per subscriber in a single statement.
//
// heads is the oldest ready delivery of every non-paused webhook that has no other
// delivery processing under an unexpired lease. picked keeps the oldest heads across
// webhooks, locked keeps those whose webhook advisory lock was acquired, and the update
// rechecks status and lease so a row claimed by a concurrent statement is skipped.
const claimDeliveriesQuery = `
	WITH heads AS MATERIALIZED (
		SELECT DISTINCT ON (d.webhook_id) d.id, d.webhook_id, d.next_attempt_at
		FROM event_webhook_deliveries d
		JOIN webhooks w ON w.id = d.webhook_id AND w.paused = FALSE
		WHERE d.status IN ('pending', 'processing')
		  AND d.next_attempt_at <= NOW()
		  AND NOT EXISTS (
			SELECT 1
			FROM event_webhook_deliveries p
			WHERE p.webhook_id = d.webhook_id
			  AND p.status = 'processing'
			  AND p.lease_until > NOW()
		  )
		ORDER BY d.webhook_id, d.next_attempt_at, d.id
	),
	picked AS MATERIALIZED (
		SELECT id, webhook_id
		FROM heads
		ORDER BY next_attempt_at, id
		LIMIT $1
	),
	locked AS MATERIALIZED (
		SELECT id
		FROM picked
		WHERE pg_try_advisory_xact_lock(hashtextextended(webhook_id, 0))
	)
	UPDATE event_webhook_deliveries d
	SET status = 'processing',
		lease_until = NOW() + ($2::double precision * INTERVAL '1 millisecond')
	FROM locked, event_outbox e, webhooks w
	WHERE d.id = locked.id
	  AND e.id = d.event_id
	  AND w.id = d.webhook_id
	  AND (d.status = 'pending' OR (d.status = 'processing' AND (d.lease_until IS NULL OR d.lease_until <= NOW())))
	RETURNING
		d.id, d.created_at, d.next_attempt_at, d.lease_until, d.webhook_id, d.event_id,
		d.status, d.attempts_count, d.retry_number, COALESCE(d.last_error, ''),
		e.created_at, e.event_uid, e.event_type, e.aggregate_type, e.aggregate_id, e.payload,
		w.owner_id, w.app_id, w.name, w.url, w.auth, w.event_filter, w.paused,
		w.event_outbox_position, w.event_activations, w.last_processed_event_id
`

// ClaimDeliveries moves the ready head of up to batchSize subscriber queues to
// processing with a lease of the given duration.
func (d Datasource) ClaimDeliveries(ctx context.Context, batchSize int, lease time.Duration) ([]model.ClaimedDelivery, error) {
	rows, err := d.Conn.QueryContext(ctx, claimDeliveriesQuery, batchSize, lease.Milliseconds())
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim webhook deliveries", err)
	}
	defer func() { _ = rows.Close() }()

	var claimed []model.ClaimedDelivery
	for rows.Next() {
		var (
			c             model.ClaimedDelivery
			leaseUntil    sql.NullTime
			status        string
			payload       []byte
			auth          []byte
			activations   []byte
			lastProcessed sql.NullInt64
		)
		err := rows.Scan(
			&c.ID, &c.CreatedAt, &c.NextAttemptAt, &leaseUntil, &c.WebhookID, &c.EventID,
			&status, &c.AttemptsCount, &c.RetryNumber, &c.LastError,
			&c.Event.CreatedAt, &c.Event.EventUID, &c.Event.EventType, &c.Event.AggregateType, &c.Event.AggregateID, &payload,
			&c.Webhook.OwnerID, &c.Webhook.AppID, &c.Webhook.Name, &c.Webhook.URL, &auth, pq.Array(&c.Webhook.EventFilter), &c.Webhook.Paused,
			&c.Webhook.EventOutboxPosition, &activations, &lastProcessed,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan claimed delivery", err)
		}

		if c.Status, err = model.ParseDeliveryStatus(status); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid delivery status", err)
		}
		if leaseUntil.Valid {
			c.LeaseUntil = &leaseUntil.Time
		}
		c.Event.ID = c.EventID
		c.Event.Payload = payload
		c.Webhook.ID = c.WebhookID
		if lastProcessed.Valid {
			c.Webhook.LastProcessedEventID = &lastProcessed.Int64
		}
		if c.Webhook.EventActivations, err = decodeActivations(activations); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid webhook event activations", err)
		}
		// a broken auth config fails this delivery's attempt, not the whole batch
		if c.Webhook.Auth, err = model.ParseWebhookAuth(auth); err != nil {
			c.ConfigError = err
		}

		claimed = append(claimed, c)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over claimed deliveries", err)
	}
	return claimed, nil
}

// RecordDeliveryAttempt persists the outcome of an attempt in one transaction: the
// delivery moves to its resolved state and releases its lease, the attempt is appended
// to the history and the webhook's last processed event id advances. The update is
// conditioned on the lease taken at claim time; if another worker has reclaimed the
// delivery since, nothing is written and a CONFLICT error is returned.
func (d Datasource) RecordDeliveryAttempt(ctx context.Context, claimed model.ClaimedDelivery, res model.DeliveryResolution) error {
	if claimed.LeaseUntil == nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Delivery has no lease", claimed.ID)
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE event_webhook_deliveries
			SET status = $2,
				attempts_count = $3,
				next_attempt_at = $4,
				lease_until = NULL,
				last_error = NULLIF($5, '')
			WHERE id = $1
			  AND status = 'processing'
			  AND lease_until = $6
		`, claimed.ID, res.Status.String(), res.AttemptsCount, res.NextAttemptAt, res.LastError, *claimed.LeaseUntil)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update webhook delivery", err)
		}
		updated, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
		}
		if updated == 0 {
			return apierror.NewAPIError(apierror.ErrConflict, "Delivery lease lost", claimed.ID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_webhook_delivery_attempts (delivery_id, attempted_at, attempt_number, response_status, response_ms, error)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		`, claimed.ID, res.Attempt.AttemptedAt, res.Attempt.AttemptNumber, res.Attempt.ResponseStatus, res.Attempt.ResponseMs, res.Attempt.Error)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record delivery attempt", err)
		}

		// failed deliveries advance the watermark too
		_, err = tx.ExecContext(ctx, `
			UPDATE webhooks
			SET last_processed_event_id = $2
			WHERE id = $1
			  AND (last_processed_event_id IS NULL OR last_processed_event_id < $2)
		`, claimed.WebhookID, claimed.EventID)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to advance webhook watermark", err)
		}
		return nil
	})
}

// GetDelivery retrieves a delivery by id.
func (d Datasource) GetDelivery(ctx context.Context, id int64) (*model.Delivery, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, created_at, next_attempt_at, lease_until, webhook_id, event_id, status, attempts_count, retry_number, COALESCE(last_error, '')
		FROM event_webhook_deliveries
		WHERE id = $1
	`, id)

	delivery, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Delivery not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve delivery", err)
	}
	return delivery, nil
}

// RedeliverDelivery inserts a pending copy of a delivery for the same webhook and event
// with the next free retry number. The original row is left untouched.
func (d Datasource) RedeliverDelivery(ctx context.Context, id int64) (*model.Delivery, error) {
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO event_webhook_deliveries (webhook_id, event_id, retry_number, status, next_attempt_at)
		SELECT src.webhook_id, src.event_id, (
			SELECT MAX(r.retry_number) + 1
			FROM event_webhook_deliveries r
			WHERE r.webhook_id = src.webhook_id AND r.event_id = src.event_id
		), 'pending', NOW()
		FROM event_webhook_deliveries src
		WHERE src.id = $1
		RETURNING id, created_at, next_attempt_at, lease_until, webhook_id, event_id, status, attempts_count, retry_number, COALESCE(last_error, '')
	`, id)

	delivery, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Delivery not found", err)
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Delivery is already being redelivered", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to redeliver delivery", err)
	}
	return delivery, nil
}

// ListDeliveryAttempts returns the attempt history of a delivery, oldest first.
func (d Datasource) ListDeliveryAttempts(ctx context.Context, deliveryID int64) ([]model.DeliveryAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, delivery_id, attempted_at, attempt_number, response_status, response_ms, COALESCE(error, '')
		FROM event_webhook_delivery_attempts
		WHERE delivery_id = $1
		ORDER BY attempt_number ASC, id ASC
	`, deliveryID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve delivery attempts", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []model.DeliveryAttempt
	for rows.Next() {
		var attempt model.DeliveryAttempt
		err := rows.Scan(
			&attempt.ID,
			&attempt.DeliveryID,
			&attempt.AttemptedAt,
			&attempt.AttemptNumber,
			&attempt.ResponseStatus,
			&attempt.ResponseMs,
			&attempt.Error,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan delivery attempt", err)
		}
		attempts = append(attempts, attempt)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over delivery attempts", err)
	}
	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDelivery(row rowScanner) (*model.Delivery, error) {
	var delivery model.Delivery
	var leaseUntil sql.NullTime
	var status string
	err := row.Scan(
		&delivery.ID,
		&delivery.CreatedAt,
		&delivery.NextAttemptAt,
		&leaseUntil,
		&delivery.WebhookID,
		&delivery.EventID,
		&status,
		&delivery.AttemptsCount,
		&delivery.RetryNumber,
		&delivery.LastError,
	)
	if err != nil {
		return nil, err
	}
	if delivery.Status, err = model.ParseDeliveryStatus(status); err != nil {
		return nil, err
	}
	if leaseUntil.Valid {
		delivery.LeaseUntil = &leaseUntil.Time
	}
	return &delivery, nil
}
