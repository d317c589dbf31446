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

package apierror_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := "Some internal error details"
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
}

func TestAPIErrorUnwrap(t *testing.T) {
	err := apierror.NewAPIError(apierror.ErrNotFound, "Delivery not found", sql.ErrNoRows)
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	withoutCause := apierror.NewAPIError(apierror.ErrConflict, "Delivery lease lost", int64(7))
	assert.Nil(t, withoutCause.Unwrap())
}

func TestHasCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     apierror.ErrorCode
		expected bool
	}{
		{
			name:     "matching code",
			err:      apierror.NewAPIError(apierror.ErrConflict, "Delivery lease lost", nil),
			code:     apierror.ErrConflict,
			expected: true,
		},
		{
			name:     "wrapped",
			err:      fmt.Errorf("record attempt: %w", apierror.NewAPIError(apierror.ErrNotFound, "Delivery not found", nil)),
			code:     apierror.ErrNotFound,
			expected: true,
		},
		{
			name:     "other code",
			err:      apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", nil),
			code:     apierror.ErrConflict,
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			code:     apierror.ErrConflict,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, apierror.HasCode(tt.err, tt.code))
		})
	}
}
