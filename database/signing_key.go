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
	"github.com/sirupsen/logrus"
)

func signingSecretCacheKey(appID string) string {
	return "signing_secret:" + appID
}

// GetActiveSigningSecret returns the newest non-revoked signing secret of an app. When a
// cache is configured, secrets are served from it for SecretTTL.
func (d Datasource) GetActiveSigningSecret(ctx context.Context, appID string) (string, error) {
	key := signingSecretCacheKey(appID)
	if d.Cache != nil {
		var secret string
		found, err := d.Cache.Get(ctx, key, &secret)
		if err != nil {
			logrus.WithFields(logrus.Fields{"app_id": appID, "error": err}).Warn("signing secret cache read failed")
		} else if found && secret != "" {
			return secret, nil
		}
	}

	var secret string
	err := d.Conn.QueryRowContext(ctx, `
		SELECT secret
		FROM app_signing_keys
		WHERE app_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, appID).Scan(&secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apierror.NewAPIError(apierror.ErrNotFound, "App has no active signing key", err)
		}
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve signing key", err)
	}

	if d.Cache != nil && d.SecretTTL > 0 {
		if err := d.Cache.Set(ctx, key, secret, d.SecretTTL); err != nil {
			logrus.WithFields(logrus.Fields{"app_id": appID, "error": err}).Warn("signing secret cache write failed")
		}
	}
	return secret, nil
}

// RevokeSigningKey revokes an active signing key of an app and evicts the app's cached
// secret, so the next delivery is signed with the newest remaining key.
func (d Datasource) RevokeSigningKey(ctx context.Context, appID string, keyID int64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE app_signing_keys
		SET revoked_at = NOW()
		WHERE id = $1 AND app_id = $2 AND revoked_at IS NULL
	`, keyID, appID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to revoke signing key", err)
	}

	revoked, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if revoked == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Active signing key not found", nil)
	}

	if d.Cache != nil {
		if err := d.Cache.Delete(ctx, signingSecretCacheKey(appID)); err != nil {
			logrus.WithFields(logrus.Fields{"app_id": appID, "error": err}).Warn("signing secret cache eviction failed")
		}
	}
	return nil
}
