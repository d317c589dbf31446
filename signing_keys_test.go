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
	"testing"

	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRevokeSigningKey(t *testing.T) {
	r, ds := newTestRelay(t)
	ds.On("RevokeSigningKey", mock.Anything, "app_1", int64(7)).Return(nil)

	assert.NoError(t, r.RevokeSigningKey(context.Background(), "app_1", 7))
}

func TestRevokeSigningKey_InvalidInput(t *testing.T) {
	r, ds := newTestRelay(t)

	assert.True(t, apierror.HasCode(r.RevokeSigningKey(context.Background(), "", 7), apierror.ErrInvalidInput))
	assert.True(t, apierror.HasCode(r.RevokeSigningKey(context.Background(), "app_1", 0), apierror.ErrInvalidInput))
	ds.AssertNotCalled(t, "RevokeSigningKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestRevokeSigningKey_NotFound(t *testing.T) {
	r, ds := newTestRelay(t)
	ds.On("RevokeSigningKey", mock.Anything, "app_1", int64(7)).
		Return(apierror.NewAPIError(apierror.ErrNotFound, "Active signing key not found", nil))

	err := r.RevokeSigningKey(context.Background(), "app_1", 7)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}
