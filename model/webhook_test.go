package model

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookAccepts_ReplayWatermark(t *testing.T) {
	w := Webhook{
		ID:                  "wh_1",
		AppID:               "app_1",
		EventFilter:         []string{EventTypeCommentAdded},
		EventOutboxPosition: 10,
		EventActivations:    map[string]int64{EventTypeCommentAdded: 25},
	}

	assert.False(t, w.Accepts(OutboxEvent{ID: 5, EventType: EventTypeCommentAdded}))
	assert.False(t, w.Accepts(OutboxEvent{ID: 25, EventType: EventTypeCommentAdded}))
	assert.True(t, w.Accepts(OutboxEvent{ID: 26, EventType: EventTypeCommentAdded}))
	assert.False(t, w.Accepts(OutboxEvent{ID: 26, EventType: EventTypeApprovalAdded}))
}

func TestWebhookAccepts_EmptyFilterUsesGlobalPosition(t *testing.T) {
	w := Webhook{ID: "wh_1", EventOutboxPosition: 10}

	assert.True(t, w.Subscribes(EventTypeApprovalRemoved))
	assert.Equal(t, int64(10), w.ReplayWatermark(EventTypeApprovalRemoved))
	assert.False(t, w.Accepts(OutboxEvent{ID: 10, EventType: EventTypeApprovalRemoved}))
	assert.True(t, w.Accepts(OutboxEvent{ID: 11, EventType: EventTypeApprovalRemoved}))
}

func TestWebhookAccepts_ActivationBelowGlobalPosition(t *testing.T) {
	w := Webhook{
		ID:                  "wh_1",
		EventOutboxPosition: 50,
		EventActivations:    map[string]int64{EventTypeCommentEdited: 20},
	}
	assert.Equal(t, int64(50), w.ReplayWatermark(EventTypeCommentEdited))
}

func TestWebhookAccepts_Paused(t *testing.T) {
	w := Webhook{ID: "wh_1", Paused: true}
	assert.False(t, w.Accepts(OutboxEvent{ID: 1, EventType: EventTypeCommentAdded}))
}

func TestWebhookAccepts_TestEventIsPointToPoint(t *testing.T) {
	payload, err := json.Marshal(TestEventTarget{AppID: "app_1", WebhookID: "wh_1"})
	require.NoError(t, err)
	event := OutboxEvent{ID: 3, EventType: EventTypeTest, Payload: payload}

	target := Webhook{ID: "wh_1", AppID: "app_1"}
	sibling := Webhook{ID: "wh_2", AppID: "app_1"}
	foreign := Webhook{ID: "wh_1", AppID: "app_2"}

	assert.True(t, target.Accepts(event))
	assert.False(t, sibling.Accepts(event))
	assert.False(t, foreign.Accepts(event))
	assert.False(t, target.Accepts(OutboxEvent{ID: 4, EventType: EventTypeTest, Payload: json.RawMessage(`"oops"`)}))
}

func TestWebhookAccepts_TestEventIgnoresFilterAndWatermark(t *testing.T) {
	payload, err := json.Marshal(TestEventTarget{AppID: "app_1", WebhookID: "wh_1"})
	require.NoError(t, err)
	event := OutboxEvent{ID: 10, EventType: EventTypeTest, Payload: payload}

	filtered := Webhook{
		ID:                  "wh_1",
		AppID:               "app_1",
		EventFilter:         []string{EventTypeCommentAdded},
		EventOutboxPosition: 50,
	}
	assert.True(t, filtered.Accepts(event))

	filtered.Paused = true
	assert.False(t, filtered.Accepts(event))
}

func TestParseWebhookAuth(t *testing.T) {
	auth, err := ParseWebhookAuth(nil)
	require.NoError(t, err)
	assert.Equal(t, AuthTypeNone, auth.Type())

	auth, err = ParseWebhookAuth([]byte(`{"type":"http-header","headerName":"X-Api-Key","headerValue":"secret"}`))
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodPost, "https://example.com", nil)
	auth.Apply(req)
	assert.Equal(t, "secret", req.Header.Get("X-Api-Key"))

	auth, err = ParseWebhookAuth([]byte(`{"type":"http-basic-auth","username":"user","password":"pass"}`))
	require.NoError(t, err)
	req, _ = http.NewRequest(http.MethodPost, "https://example.com", nil)
	auth.Apply(req)
	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "user", user)
	assert.Equal(t, "pass", pass)

	_, err = ParseWebhookAuth([]byte(`{"type":"http-header","headerName":""}`))
	assert.Error(t, err)

	_, err = ParseWebhookAuth([]byte(`{"type":"oauth"}`))
	assert.Error(t, err)
}

func TestEventValidate(t *testing.T) {
	valid := Event{UID: "comment.added:1:abc", Type: EventTypeCommentAdded, Payload: json.RawMessage(`{"id":"0x1"}`)}
	assert.NoError(t, valid.Validate())

	assert.Error(t, Event{UID: "x", Type: "comment.unknown", Payload: json.RawMessage(`{}`)}.Validate())
	assert.Error(t, Event{Type: EventTypeCommentAdded, Payload: json.RawMessage(`{}`)}.Validate())
	assert.Error(t, Event{UID: "x", Type: EventTypeCommentAdded, Payload: json.RawMessage(`{`)}.Validate())
}
