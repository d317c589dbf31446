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
	"time"

	"github.com/ecp-indexer/relay/internal/metrics"
	"github.com/ecp-indexer/relay/internal/wakeup"
	"github.com/sirupsen/logrus"
)

// cycle runs one unit of work and reports whether it found any.
type cycle func(ctx context.Context) (bool, error)

// runLoop repeats c until ctx is done. When a cycle finds nothing, the loop sleeps until
// the notifier fires or poll elapses. Cycle errors end the loop, except those caused
// by shutdown.
func runLoop(ctx context.Context, name string, notifier *wakeup.Notifier, poll time.Duration, c cycle) error {
	logger := logrus.WithField("loop", name)
	logger.Info("loop started")
	defer logger.Info("loop stopped")

	for ctx.Err() == nil {
		found, err := c(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Error("loop cycle failed")
			return err
		}
		if found {
			continue
		}

		reason := notifier.Wait(ctx, poll)
		if reason == wakeup.Cancelled {
			break
		}
		metrics.Wakeups.WithLabelValues(name, reason.String()).Inc()
		logger.WithField("reason", reason.String()).Debug("loop woke up")
	}
	return nil
}
