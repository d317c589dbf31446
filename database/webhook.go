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

	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/model"
	"github.com/lib/pq"
)

// GetWebhook retrieves a webhook subscription by id.
func (d Datasource) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, owner_id, app_id, name, url, auth, event_filter, paused, paused_at,
			created_at, updated_at, event_outbox_position, event_activations, last_processed_event_id
		FROM webhooks
		WHERE id = $1
	`, id)

	var (
		w             model.Webhook
		auth          []byte
		pausedAt      sql.NullTime
		activations   []byte
		lastProcessed sql.NullInt64
	)
	err := row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.AppID,
		&w.Name,
		&w.URL,
		&auth,
		pq.Array(&w.EventFilter),
		&w.Paused,
		&pausedAt,
		&w.CreatedAt,
		&w.UpdatedAt,
		&w.EventOutboxPosition,
		&activations,
		&lastProcessed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Webhook not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook", err)
	}

	if pausedAt.Valid {
		w.PausedAt = &pausedAt.Time
	}
	if lastProcessed.Valid {
		w.LastProcessedEventID = &lastProcessed.Int64
	}
	if w.EventActivations, err = decodeActivations(activations); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid webhook event activations", err)
	}
	if w.Auth, err = model.ParseWebhookAuth(auth); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid webhook auth config", err)
	}
	return &w, nil
}
