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

package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ecp-indexer/relay/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	HeaderWebhookID        = "X-ECP-Webhook-ID"
	HeaderWebhookTimestamp = "X-ECP-Webhook-Timestamp"
	HeaderWebhookSignature = "X-ECP-Webhook-Signature"

	signatureVersion = "v1"

	// maxErrorBody caps how much of a failed response body ends up in the attempt error.
	maxErrorBody = 512
	// maxDrainBody caps how much of a response is read before the connection is reused.
	maxDrainBody = 64 << 10
)

// Request is a single signed webhook call.
type Request struct {
	URL      string
	EventUID string
	Body     []byte
	Secret   string
	Auth     model.WebhookAuth
}

// Client sends signed webhook requests. Redirects are never followed and every
// request is bounded by the client timeout.
type Client struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a webhook client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		now: time.Now,
	}
}

// Sign returns the signature header value for body sent at timestamp.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Send performs one delivery attempt and classifies its outcome. It never returns an
// error: transport failures are reported through the outcome's response status.
func (c *Client) Send(ctx context.Context, r Request) model.AttemptOutcome {
	started := c.now()

	req, err := c.newRequest(ctx, r, started)
	if err != nil {
		return model.AttemptOutcome{
			ResponseStatus: model.ResponseStatusConfigError,
			Error:          err.Error(),
		}
	}

	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		err = errors.Wrap(err, "send webhook")
		logrus.WithFields(logrus.Fields{
			"url":       r.URL,
			"event_uid": r.EventUID,
			"error":     err,
		}).Debug("webhook request failed")
		return model.AttemptOutcome{
			ResponseStatus: classifyError(err),
			Duration:       elapsed,
			Error:          err.Error(),
		}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("failed to close webhook response body")
		}
	}()

	outcome := model.AttemptOutcome{
		ResponseStatus: resp.StatusCode,
		Duration:       elapsed,
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDrainBody))
	if !outcome.Succeeded() {
		outcome.Error = statusError(resp.StatusCode, body)
	}
	return outcome
}

func (c *Client) newRequest(ctx context.Context, r Request, at time.Time) (*http.Request, error) {
	if r.Auth == nil {
		r.Auth = model.NoAuth{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, errors.Wrap(err, "build webhook request")
	}

	timestamp := at.Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookID, r.EventUID)
	req.Header.Set(HeaderWebhookTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderWebhookSignature, Sign(r.Secret, timestamp, r.Body))
	r.Auth.Apply(req)
	return req, nil
}

// classifyError maps a transport error to the timeout or network response status.
func classifyError(err error) int {
	cause := errors.Cause(err)
	if errors.Is(cause, context.DeadlineExceeded) {
		return model.ResponseStatusTimeout
	}
	var netErr net.Error
	if errors.As(cause, &netErr) && netErr.Timeout() {
		return model.ResponseStatusTimeout
	}
	return model.ResponseStatusNetworkError
}

func statusError(status int, body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Sprintf("unexpected status code %d", status)
	}
	return fmt.Sprintf("unexpected status code %d: %s", status, bytes.TrimSpace(body))
}
