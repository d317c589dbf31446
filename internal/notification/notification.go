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
	"fmt"
	"net/http"
	"time"

	"github.com/ecp-indexer/relay/config"
	"github.com/ecp-indexer/relay/internal/request"
	"github.com/sirupsen/logrus"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(project string, err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("Error From %s 🐞", project), Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))}}},
	}}
}

// SlackNotification posts err to the Slack incoming webhook at webhookURL.
func SlackNotification(ctx context.Context, webhookURL, project string, err error) error {
	payload, e := request.ToJsonReq(slackPayload(project, err, time.Now()))
	if e != nil {
		return e
	}

	req, e := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, payload)
	if e != nil {
		return e
	}

	_, e = request.Call(req, nil)
	return e
}

// NotifyError reports an error that stopped a worker loop. The error is always logged;
// it is also sent to Slack when a webhook URL is configured. NotifyError blocks until
// the notification is sent or ctx is done, so it is safe to call right before exiting.
func NotifyError(ctx context.Context, systemError error) {
	logrus.Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		logrus.WithError(err).Warn("cannot load configuration for error notification")
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	if err := SlackNotification(ctx, conf.Notification.Slack.WebhookUrl, conf.ProjectName, systemError); err != nil {
		logrus.WithError(err).Error("failed to send slack notification")
	}
}
