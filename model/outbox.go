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
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// Event types published to webhook subscribers.
const (
	EventTypeCommentAdded                   = "comment.added"
	EventTypeCommentHidden                  = "comment.hidden"
	EventTypeCommentDeleted                 = "comment.deleted"
	EventTypeCommentEdited                  = "comment.edited"
	EventTypeCommentModerationStatusUpdated = "comment.moderation.status.updated"
	EventTypeCommentReactionsUpdated        = "comment.reactions.updated"
	EventTypeApprovalAdded                  = "approval.added"
	EventTypeApprovalRemoved                = "approval.removed"
	EventTypeTest                           = "test"
)

// Aggregate types an outbox event can be attached to.
const (
	AggregateTypeComment  = "comment"
	AggregateTypeApproval = "approval"
	AggregateTypeApp      = "app"
)

// EventTypes lists every event type a webhook may filter on.
var EventTypes = []string{
	EventTypeCommentAdded,
	EventTypeCommentHidden,
	EventTypeCommentDeleted,
	EventTypeCommentEdited,
	EventTypeCommentModerationStatusUpdated,
	EventTypeCommentReactionsUpdated,
	EventTypeApprovalAdded,
	EventTypeApprovalRemoved,
	EventTypeTest,
}

// Event is a domain event produced by business logic, before it is recorded in the outbox.
type Event struct {
	UID     string          `json:"uid"`
	Type    string          `json:"event"`
	Payload json.RawMessage `json:"data"`
}

// Validate checks that the event can be recorded.
func (e Event) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.UID, validation.Required, validation.Length(1, 255)),
		validation.Field(&e.Type, validation.Required, validation.In(toInterfaces(EventTypes)...)),
		validation.Field(&e.Payload, validation.Required, validation.By(isJSON)),
	)
}

// OutboxEvent is a row of the event outbox. ProcessedAt is set once, by the fan-out engine.
type OutboxEvent struct {
	ID            int64           `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	EventUID      string          `json:"event_uid"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
}

// TestEventTarget is the payload of a test event. It addresses exactly one webhook.
type TestEventTarget struct {
	AppID     string `json:"appId"`
	WebhookID string `json:"webhookId"`
}

// TestTarget decodes the app and webhook a test event is addressed to.
func (e OutboxEvent) TestTarget() (TestEventTarget, error) {
	var target TestEventTarget
	if err := json.Unmarshal(e.Payload, &target); err != nil {
		return target, fmt.Errorf("decode test event payload: %w", err)
	}
	return target, nil
}

// GenerateEventUID builds a unique event uid of the form <prefix>:<unix-ms>:<uuid>.
func GenerateEventUID(prefix string, at time.Time) string {
	return fmt.Sprintf("%s:%d:%s", prefix, at.UnixMilli(), uuid.New().String())
}

func isJSON(value interface{}) error {
	raw, _ := value.(json.RawMessage)
	if !json.Valid(raw) {
		return validation.NewError("validation_invalid_json", "must be valid JSON")
	}
	return nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
