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

package pg_listener

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Channels fired by the insert triggers of the outbox and delivery tables.
const (
	ChannelEventOutbox        = "event_outbox_inserted"
	ChannelNotificationOutbox = "notification_outbox_inserted"
	ChannelDeliveries         = "event_webhook_delivery_inserted"
)

// Signaller is woken when a notification arrives on a subscribed channel.
type Signaller interface {
	Notify()
}

type ListenerConfig struct {
	PgConnStr            string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

// DBListener holds one dedicated LISTEN connection and fans its notifications out to
// the signallers subscribed to each channel.
type DBListener struct {
	config ListenerConfig

	mu          sync.RWMutex
	subscribers map[string][]Signaller
}

func NewDBListener(config ListenerConfig) *DBListener {
	if config.MinReconnectInterval <= 0 {
		config.MinReconnectInterval = 10 * time.Second
	}
	if config.MaxReconnectInterval <= 0 {
		config.MaxReconnectInterval = time.Minute
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 90 * time.Second
	}
	return &DBListener{
		config:      config,
		subscribers: make(map[string][]Signaller),
	}
}

// Subscribe registers s for notifications on channel. It must be called before Start.
func (d *DBListener) Subscribe(channel string, s Signaller) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[channel] = append(d.subscribers[channel], s)
}

// Start listens on every subscribed channel until ctx is done, then closes the
// connection. It returns an error only when the initial LISTEN cannot be established.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, d.config.MinReconnectInterval, d.config.MaxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithFields(logrus.Fields{"event": ev, "error": err}).Warn("postgres listener error")
		}
	})
	defer func() { _ = listener.Close() }()

	if err := d.listen(ctx, listener); err != nil {
		return err
	}
	logrus.WithField("channels", d.channels()).Info("listening for postgres notifications")

	ticker := time.NewTicker(d.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			d.handleNotification(n)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					logrus.WithError(err).Warn("postgres listener ping failed")
				}
			}()
		}
	}
}

func (d *DBListener) listen(ctx context.Context, listener *pq.Listener) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	for _, channel := range d.channels() {
		channel := channel
		err := backoff.Retry(func() error {
			err := listener.Listen(channel)
			if err == pq.ErrChannelAlreadyOpen {
				return nil
			}
			return err
		}, policy)
		if err != nil {
			return err
		}
		policy.Reset()
	}
	return nil
}

// handleNotification wakes the subscribers of the notification's channel. A nil
// notification means the connection was re-established and notifications may have been
// missed, so every subscriber is woken.
func (d *DBListener) handleNotification(n *pq.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n == nil {
		logrus.Debug("postgres listener reconnected, waking all subscribers")
		for _, subs := range d.subscribers {
			for _, s := range subs {
				s.Notify()
			}
		}
		return
	}

	for _, s := range d.subscribers[n.Channel] {
		s.Notify()
	}
}

func (d *DBListener) channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	channels := make([]string, 0, len(d.subscribers))
	for channel := range d.subscribers {
		channels = append(channels, channel)
	}
	return channels
}
