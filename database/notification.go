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

	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/model"
)

// ListAppNotifications returns the newest notifications in an app's feed.
func (d Datasource) ListAppNotifications(ctx context.Context, appID string, limit, offset int) ([]model.AppNotification, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, notification_id, app_id, created_at, seen_at
		FROM app_notifications
		WHERE app_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, appID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve app notifications", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []model.AppNotification
	for rows.Next() {
		var n model.AppNotification
		var seenAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.NotificationID, &n.AppID, &n.CreatedAt, &seenAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan app notification", err)
		}
		if seenAt.Valid {
			n.SeenAt = &seenAt.Time
		}
		notifications = append(notifications, n)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over app notifications", err)
	}
	return notifications, nil
}
