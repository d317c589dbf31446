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
	"errors"
	"testing"

	"github.com/ecp-indexer/relay/database"
	"github.com/ecp-indexer/relay/internal/apierror"
	"github.com/ecp-indexer/relay/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNotificationFanOut_ProcessBatch(t *testing.T) {
	r, ds := newTestRelay(t)
	r.config.NotificationFanOut.BatchSize = 50
	p := r.NewNotificationFanOutProcessor()

	ds.On("FanOutNotifications", mock.Anything, 50).Return(database.FanOutResult{Claimed: 2, Created: 6}, nil)

	result, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.FanOutResult{Claimed: 2, Created: 6}, result)
}

func TestNotificationFanOut_RunFailsFast(t *testing.T) {
	r, ds := newTestRelay(t)
	p := r.NewNotificationFanOutProcessor()
	storeErr := errors.New("relation \"notification_outbox\" does not exist")

	ds.On("FanOutNotifications", mock.Anything, 100).Return(database.FanOutResult{Claimed: 1, Created: 1}, nil).Once()
	ds.On("FanOutNotifications", mock.Anything, 100).Return(database.FanOutResult{}, storeErr).Once()

	assert.ErrorIs(t, p.Run(context.Background()), storeErr)
}

func TestNotificationFanOut_ErrorAfterShutdownIsIgnored(t *testing.T) {
	r, ds := newTestRelay(t)
	p := r.NewNotificationFanOutProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds.On("FanOutNotifications", mock.Anything, 100).Return(database.FanOutResult{}, context.Canceled).Once().
		Run(func(mock.Arguments) { cancel() })

	assert.NoError(t, p.Run(ctx))
}

func TestListAppNotifications(t *testing.T) {
	r, ds := newTestRelay(t)
	feed := []model.AppNotification{{ID: 2, NotificationID: 10, AppID: "app_1"}, {ID: 1, NotificationID: 9, AppID: "app_1"}}

	ds.On("ListAppNotifications", mock.Anything, "app_1", 20, 0).Return(feed, nil).Once()
	ds.On("ListAppNotifications", mock.Anything, "app_1", 100, 40).Return([]model.AppNotification{}, nil).Once()

	got, err := r.ListAppNotifications(context.Background(), "app_1", 0, -5)
	require.NoError(t, err)
	assert.Equal(t, feed, got)

	got, err = r.ListAppNotifications(context.Background(), "app_1", 500, 40)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = r.ListAppNotifications(context.Background(), "", 10, 0)
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))
}
