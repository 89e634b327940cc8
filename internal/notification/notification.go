/*
Copyright 2024 Quotedesk Authors.

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

	"github.com/quotedesk/quotedesk/config"
	"github.com/quotedesk/quotedesk/internal/request"
	"github.com/sirupsen/logrus"
)

// slackMessage renders the block kit payload posted to the incoming webhook.
func slackMessage(title string, err error, at time.Time) map[string]interface{} {
	field := func(label, value string) map[string]interface{} {
		return map[string]interface{}{
			"type": "section",
			"fields": []map[string]string{
				{"type": "mrkdwn", "text": fmt.Sprintf("*%s:*\n%s", label, value)},
			},
		}
	}
	return map[string]interface{}{
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": title, "emoji": true},
			},
			field("Error", err.Error()),
			field("Time", at.Format(time.RFC822)),
		},
	}
}

// SlackNotifier posts error alerts to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
	Title      string
}

// Notify sends err to Slack. It is a no-op when no webhook is configured.
func (s *SlackNotifier) Notify(ctx context.Context, err error) error {
	if s.WebhookURL == "" || err == nil {
		return nil
	}
	title := s.Title
	if title == "" {
		title = "Error From Quotedesk"
	}

	payload, perr := request.ToJsonReq(slackMessage(title, err, time.Now()))
	if perr != nil {
		return perr
	}
	req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, payload)
	if rerr != nil {
		return rerr
	}

	// Slack answers with a plain "ok" body, so the response is not decoded.
	resp, cerr := request.Call(s.Client, req, nil)
	if cerr != nil {
		return cerr
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackNotification reports err to the webhook from the loaded configuration.
func SlackNotification(err error) {
	conf, cerr := config.Fetch()
	if cerr != nil {
		logrus.Error(cerr)
		return
	}
	notifier := &SlackNotifier{WebhookURL: conf.Notification.Slack.WebhookUrl}
	if nerr := notifier.Notify(context.Background(), err); nerr != nil {
		logrus.WithError(nerr).Error("failed to send slack notification")
	}
}

// NotifyError logs systemError and forwards it to Slack when configured.
// It does not block the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(err)
			return
		}
		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}
	}(systemError)
}

