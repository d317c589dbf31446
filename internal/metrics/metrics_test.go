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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseClass(t *testing.T) {
	tests := map[int]string{
		-1:  "timeout",
		-2:  "network_error",
		-3:  "config_error",
		200: "2xx",
		302: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "other",
	}
	for status, expected := range tests {
		assert.Equal(t, expected, ResponseClass(status), "status %d", status)
	}
}

func TestMustRegister(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NotPanics(t, func() { MustRegister(registry) })

	before := testutil.ToFloat64(DeliveryAttempts.WithLabelValues("success", "2xx"))
	DeliveryAttempts.WithLabelValues("success", "2xx").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DeliveryAttempts.WithLabelValues("success", "2xx")))

	assert.Panics(t, func() { MustRegister(registry) })
}
