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

// InsertOutboxEvent records an event in the outbox within q, which is normally the
// caller's transaction. The insert is idempotent on event_uid: when the uid is already
// recorded the existing row is loaded into event and false is returned.
func (d Datasource) InsertOutboxEvent(ctx context.Context, q DBTX, event *model.OutboxEvent) (bool, error) {
	q = d.querier(q)

	err := q.QueryRowContext(ctx, `
		INSERT INTO event_outbox (event_uid, event_type, aggregate_type, aggregate_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_uid) DO NOTHING
		RETURNING id, created_at
	`, event.EventUID, event.EventType, event.AggregateType, event.AggregateID, []byte(event.Payload)).Scan(&event.ID, &event.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record outbox event", err)
	}

	var processedAt sql.NullTime
	var payload []byte
	err = q.QueryRowContext(ctx, `
		SELECT id, created_at, processed_at, event_type, aggregate_type, aggregate_id, payload
		FROM event_outbox
		WHERE event_uid = $1
	`, event.EventUID).Scan(&event.ID, &event.CreatedAt, &processedAt, &event.EventType, &event.AggregateType, &event.AggregateID, &payload)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load existing outbox event", err)
	}
	event.Payload = payload
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	return false, nil
}

// InsertNotifications records a batch of notifications within q and returns how many
// rows were new. Entries whose notification_uid is already recorded are skipped. An
// unset CreatedAt takes the database clock, the same clock apps.created_at uses.
func (d Datasource) InsertNotifications(ctx context.Context, q DBTX, entries []model.NotificationOutboxEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	q = d.querier(q)

	createdAt := make([]sql.NullString, len(entries))
	uids := make([]string, len(entries))
	types := make([]string, len(entries))
	authors := make([]string, len(entries))
	recipients := make([]string, len(entries))
	parents := make([]sql.NullString, len(entries))
	entities := make([]string, len(entries))
	signers := make([]string, len(entries))
	for i, entry := range entries {
		if !entry.CreatedAt.IsZero() {
			createdAt[i] = sql.NullString{String: entry.CreatedAt.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		uids[i] = entry.NotificationUID
		types[i] = entry.Type
		authors[i] = entry.AuthorAddress
		recipients[i] = entry.RecipientAddress
		parents[i] = nullString(entry.ParentID)
		entities[i] = entry.EntityID
		signers[i] = entry.AppSigner
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO notification_outbox (created_at, notification_uid, notification_type, author_address, recipient_address, parent_id, entity_id, app_signer)
		SELECT COALESCE(t.created_at, NOW()), t.notification_uid, t.notification_type, t.author_address, t.recipient_address, t.parent_id, t.entity_id, t.app_signer
		FROM unnest($1::timestamptz[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[])
			AS t (created_at, notification_uid, notification_type, author_address, recipient_address, parent_id, entity_id, app_signer)
		ON CONFLICT (notification_uid) DO NOTHING
	`, pq.Array(createdAt), pq.Array(uids), pq.Array(types), pq.Array(authors),
		pq.Array(recipients), pq.Array(parents), pq.Array(entities), pq.Array(signers))
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record notifications", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return inserted, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
