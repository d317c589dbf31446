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

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxClaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outbox_claimed_total",
			Help: "Outbox rows claimed by a fan-out loop",
		},
		[]string{"outbox"}, // event|notification
	)

	FanOutCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_fanout_created_total",
			Help: "Rows created by a fan-out loop (webhook deliveries or app notifications)",
		},
		[]string{"outbox"},
	)

	DeliveriesClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_deliveries_claimed_total",
			Help: "Webhook deliveries leased by the delivery worker",
		},
	)

	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_delivery_attempts_total",
			Help: "Webhook delivery attempts by resulting delivery status and response class",
		},
		[]string{"status", "response"}, // pending|success|failed , 2xx|4xx|timeout|...
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_duration_seconds",
			Help:    "Duration of webhook HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	LeasesLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_delivery_leases_lost_total",
			Help: "Delivery outcomes discarded because the lease expired and was reclaimed",
		},
	)

	Wakeups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_loop_wakeups_total",
			Help: "Idle loop wakeups by loop and reason",
		},
		[]string{"loop", "reason"}, // notified|timed_out
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxClaimed,
		FanOutCreated,
		DeliveriesClaimed,
		DeliveryAttempts,
		DeliveryDuration,
		LeasesLost,
		Wakeups,
	)
}

// ResponseClass buckets a recorded response status for the attempts counter.
func ResponseClass(status int) string {
	switch status {
	case -1:
		return "timeout"
	case -2:
		return "network_error"
	case -3:
		return "config_error"
	}
	if status >= 100 && status < 600 {
		return strconv.Itoa(status/100) + "xx"
	}
	return "other"
}
