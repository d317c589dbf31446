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

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ecp-indexer/relay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := slackPayload("ECP Relay", errors.New(`claim failed: "quoted"`), at)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "Error From ECP Relay 🐞", msg.Blocks[0].Text.Text)
	assert.Equal(t, "*Error:*\nclaim failed: \"quoted\"", msg.Blocks[1].Fields[0].Text)
	assert.Equal(t, "*Time:*\n"+at.Format(time.RFC822), msg.Blocks[2].Fields[0].Text)
}

func TestNotifyError_SendsToSlack(t *testing.T) {
	var received int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		var msg slackMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Len(t, msg.Blocks, 3)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	config.MockConfig(&config.Configuration{
		ProjectName:  "ECP Relay",
		Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: server.URL}},
	})

	NotifyError(context.Background(), errors.New("delivery worker crashed"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&received))
}

func TestNotifyError_WithoutSlack(t *testing.T) {
	config.MockConfig(&config.Configuration{ProjectName: "ECP Relay"})

	assert.NotPanics(t, func() {
		NotifyError(context.Background(), errors.New("fan-out crashed"))
	})
}

func TestSlackNotification_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service"))
	}))
	defer server.Close()

	err := SlackNotification(context.Background(), server.URL, "ECP Relay", errors.New("boom"))
	assert.Error(t, err)
}
