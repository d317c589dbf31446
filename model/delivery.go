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
	"errors"
	"fmt"
	"time"
)

// DeliveryStatus is the lifecycle state of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusSuccess    DeliveryStatus = "success"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// Response status codes recorded for attempts that produced no HTTP response.
const (
	ResponseStatusTimeout      = -1
	ResponseStatusNetworkError = -2
	ResponseStatusConfigError  = -3
)

// DefaultMaxDeliveryAttempts is the attempt cap used when none is configured.
const DefaultMaxDeliveryAttempts = 20

var (
	ErrInvalidDeliveryStatus     = errors.New("invalid delivery status")
	ErrInvalidDeliveryTransition = errors.New("invalid delivery transition")
)

// ParseDeliveryStatus validates a raw status read from the store.
func ParseDeliveryStatus(raw string) (DeliveryStatus, error) {
	status := DeliveryStatus(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDeliveryStatus, raw)
	}
	return status, nil
}

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusProcessing, DeliveryStatusSuccess, DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further attempts will be made.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

// CanTransitionTo reports whether the worker may move a delivery from s to next.
// processing -> processing is a reclaim after the lease expired.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	switch s {
	case DeliveryStatusPending:
		return next == DeliveryStatusProcessing
	case DeliveryStatusProcessing:
		return next == DeliveryStatusProcessing ||
			next == DeliveryStatusPending ||
			next == DeliveryStatusSuccess ||
			next == DeliveryStatusFailed
	default:
		return false
	}
}

func (s DeliveryStatus) String() string {
	return string(s)
}

// Delivery is one (webhook, event) work item. Retries made by the worker reschedule the
// same row; a manual redelivery creates a new row with RetryNumber + 1.
type Delivery struct {
	ID            int64          `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	LeaseUntil    *time.Time     `json:"lease_until,omitempty"`
	WebhookID     string         `json:"webhook_id"`
	EventID       int64          `json:"event_id"`
	Status        DeliveryStatus `json:"status"`
	AttemptsCount int            `json:"attempts_count"`
	RetryNumber   int            `json:"retry_number"`
	LastError     string         `json:"last_error,omitempty"`
}

// ClaimedDelivery is a delivery taken by the worker together with what it needs to
// execute the HTTP call.
type ClaimedDelivery struct {
	Delivery
	Event   OutboxEvent
	Webhook Webhook

	// ConfigError is set when the webhook configuration cannot be used to build a
	// request. The attempt is then recorded as a configuration failure.
	ConfigError error
}

// DeliveryAttempt is the append-only record of a single HTTP attempt.
type DeliveryAttempt struct {
	ID             int64     `json:"id"`
	DeliveryID     int64     `json:"delivery_id"`
	AttemptedAt    time.Time `json:"attempted_at"`
	AttemptNumber  int       `json:"attempt_number"`
	ResponseStatus int       `json:"response_status"`
	ResponseMs     int64     `json:"response_ms"`
	Error          string    `json:"error,omitempty"`
}

// AttemptOutcome is the classified result of one HTTP attempt.
type AttemptOutcome struct {
	ResponseStatus int
	Duration       time.Duration
	Error          string
}

// Succeeded reports a 2xx or 3xx response.
func (o AttemptOutcome) Succeeded() bool {
	return o.ResponseStatus >= 200 && o.ResponseStatus < 400
}

// DeliveryResolution is what the worker writes back after an attempt.
type DeliveryResolution struct {
	Attempt       DeliveryAttempt
	Status        DeliveryStatus
	AttemptsCount int
	NextAttemptAt time.Time
	LastError     string
}

// Resolve applies an attempt outcome to a processing delivery.
//
// The cap is checked against the count before this attempt, so with maxAttempts = N a
// delivery is attempted N+1 times before it becomes failed. The retry delay is computed
// from the count after this attempt.
func (d Delivery) Resolve(outcome AttemptOutcome, now time.Time, maxAttempts int, jitter Jitter) (DeliveryResolution, error) {
	attempts := d.AttemptsCount + 1
	resolution := DeliveryResolution{
		Attempt: DeliveryAttempt{
			DeliveryID:     d.ID,
			AttemptedAt:    now,
			AttemptNumber:  attempts,
			ResponseStatus: outcome.ResponseStatus,
			ResponseMs:     outcome.Duration.Milliseconds(),
			Error:          outcome.Error,
		},
		AttemptsCount: attempts,
		NextAttemptAt: d.NextAttemptAt,
	}

	switch {
	case outcome.Succeeded():
		resolution.Status = DeliveryStatusSuccess
	case d.AttemptsCount <= maxAttempts:
		resolution.Status = DeliveryStatusPending
		resolution.NextAttemptAt = now.Add(RetryDelay(attempts, jitter))
		resolution.LastError = outcome.Error
	default:
		resolution.Status = DeliveryStatusFailed
		resolution.LastError = outcome.Error
	}

	if d.Status != DeliveryStatusProcessing || !d.Status.CanTransitionTo(resolution.Status) {
		return DeliveryResolution{}, fmt.Errorf("%w: %s -> %s", ErrInvalidDeliveryTransition, d.Status, resolution.Status)
	}
	return resolution, nil
}
