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
	"time"

	"github.com/ecp-indexer/relay/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEventFanOut_ProcessBatch(t *testing.T) {
	r, ds := newTestRelay(t)
	p := r.NewEventFanOutProcessor()

	ds.On("FanOutEvents", mock.Anything, 100).Return(database.FanOutResult{Claimed: 3, Created: 5}, nil)

	result, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Claimed)
	assert.Equal(t, int64(5), result.Created)
}

func TestEventFanOut_RunDrainsThenStops(t *testing.T) {
	r, ds := newTestRelay(t)
	p := r.NewEventFanOutProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds.On("FanOutEvents", mock.Anything, 100).Return(database.FanOutResult{Claimed: 100, Created: 100}, nil).Twice()
	ds.On("FanOutEvents", mock.Anything, 100).Return(database.FanOutResult{}, nil).Once().
		Run(func(mock.Arguments) { cancel() })

	assert.NoError(t, p.Run(ctx))
	ds.AssertNumberOfCalls(t, "FanOutEvents", 3)
}

func TestEventFanOut_RunWakesOnNotify(t *testing.T) {
	r, ds := newTestRelay(t)
	p := r.NewEventFanOutProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 4)
	ds.On("FanOutEvents", mock.Anything, 100).Return(database.FanOutResult{}, nil).Once().
		Run(func(mock.Arguments) { calls <- struct{}{} })
	ds.On("FanOutEvents", mock.Anything, 100).Return(database.FanOutResult{}, nil).Once().
		Run(func(mock.Arguments) {
			calls <- struct{}{}
			cancel()
		})

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-calls
	// the poll interval is 30s, only the notification can trigger the second cycle
	p.Notifier().Notify()

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("fan-out did not wake up after notify")
	}
	require.NoError(t, <-done)
}

func TestEventFanOut_RunFailsFast(t *testing.T) {
	r, ds := newTestRelay(t)
	p := r.NewEventFanOutProcessor()
	storeErr := errors.New("connection refused")

	ds.On("FanOutEvents", mock.Anything, 100).Return(database.FanOutResult{}, storeErr).Once()

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, storeErr)
}

func TestEventFanOut_RunCancelledBeforeStart(t *testing.T) {
	r, _ := newTestRelay(t)
	p := r.NewEventFanOutProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, p.Run(ctx))
}
