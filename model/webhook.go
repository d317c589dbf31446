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

package model

import (
	"time"
)

// Webhook is a subscription of an app to outbox events.
//
// EventOutboxPosition and EventActivations are replay watermarks: the webhook only
// receives events whose id is greater than both the global position and the
// activation position recorded for the event's type.
type Webhook struct {
	ID                   string           `json:"id"`
	OwnerID              string           `json:"owner_id"`
	AppID                string           `json:"app_id"`
	Name                 string           `json:"name"`
	URL                  string           `json:"url"`
	Auth                 WebhookAuth      `json:"-"`
	EventFilter          []string         `json:"event_filter"`
	Paused               bool             `json:"paused"`
	PausedAt             *time.Time       `json:"paused_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
	EventOutboxPosition  int64            `json:"event_outbox_position"`
	EventActivations     map[string]int64 `json:"event_activations"`
	LastProcessedEventID *int64           `json:"last_processed_event_id,omitempty"`
}

// Subscribes reports whether the event filter includes eventType. An empty filter
// subscribes to everything.
func (w Webhook) Subscribes(eventType string) bool {
	if len(w.EventFilter) == 0 {
		return true
	}
	for _, t := range w.EventFilter {
		if t == eventType {
			return true
		}
	}
	return false
}

// ReplayWatermark returns the outbox id an event of eventType must exceed to be
// delivered to this webhook.
func (w Webhook) ReplayWatermark(eventType string) int64 {
	watermark := w.EventOutboxPosition
	if activation, ok := w.EventActivations[eventType]; ok && activation > watermark {
		watermark = activation
	}
	return watermark
}

// Accepts reports whether the event must be fanned out to this webhook. Test events
// go to the webhook named in their payload, whatever its filter and watermarks.
func (w Webhook) Accepts(event OutboxEvent) bool {
	if w.Paused {
		return false
	}
	if event.EventType == EventTypeTest {
		target, err := event.TestTarget()
		if err != nil {
			return false
		}
		return target.WebhookID == w.ID && target.AppID == w.AppID
	}
	if !w.Subscribes(event.EventType) {
		return false
	}
	return event.ID > w.ReplayWatermark(event.EventType)
}
