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
	"github.com/sirupsen/logrus"
)

// RevokeSigningKey revokes one signing key of an app. Deliveries attempted afterwards
// are signed with the app's newest remaining key, or recorded as configuration
// failures when none is left.
func (r *Relay) RevokeSigningKey(ctx context.Context, appID string, keyID int64) error {
	if appID == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "app id is required", nil)
	}
	if keyID <= 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "signing key id must be positive", keyID)
	}

	if err := r.datasource.RevokeSigningKey(ctx, appID, keyID); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"app_id": appID, "key_id": keyID}).Info("signing key revoked")
	return nil
}
