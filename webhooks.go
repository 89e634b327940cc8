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

package quotedesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/quotedesk/quotedesk/internal/request"
	"github.com/quotedesk/quotedesk/model"
)

// NewWebhook is an outbound notification about a quote.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// WebhookEnqueuer queues outbound notifications.
type WebhookEnqueuer interface {
	EnqueueWebhook(ctx context.Context, hook NewWebhook) error
}

func approvalEventName(status model.CanonicalStatus) string {
	switch status {
	case model.StatusNotSubmitted, model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusCancelled:
		return "quote.approval." + string(status)
	default:
		return "quote.approval.unknown"
	}
}

// WebhookListener queues a quote.approval.<status> notification after every
// applied transition.
func WebhookListener(q WebhookEnqueuer) TransitionListener {
	return func(ctx context.Context, quote *model.Quote, status model.CanonicalStatus) {
		hook := NewWebhook{Event: approvalEventName(status), Payload: quote}
		if err := q.EnqueueWebhook(ctx, hook); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"quote_id": quote.QuoteID,
				"event":    hook.Event,
			}).Error("failed to queue webhook")
		}
	}
}

// WebhookDispatcher posts queued notifications to the configured endpoint.
type WebhookDispatcher struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// Send posts a single notification. Non 2xx answers are returned as errors
// so the task is retried.
func (d *WebhookDispatcher) Send(ctx context.Context, hook NewWebhook) error {
	if d.URL == "" {
		return nil
	}
	payload, err := request.ToJsonReq(hook)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, payload)
	if err != nil {
		return err
	}
	for key, value := range d.Headers {
		req.Header.Set(key, value)
	}

	var response map[string]interface{}
	resp, err := request.Call(d.Client, req, &response)
	if resp == nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s failed with status code %d", hook.Event, resp.StatusCode)
	}
	if err != nil {
		// receivers are not required to answer with JSON
		logrus.WithError(err).Debug("webhook response was not JSON")
	}
	logrus.WithField("event", hook.Event).Info("webhook notification sent")
	return nil
}

// ProcessWebhook is the asynq handler of the webhook queue.
func (d *WebhookDispatcher) ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	var hook NewWebhook
	if err := json.Unmarshal(task.Payload(), &hook); err != nil {
		return fmt.Errorf("decode webhook task: %v: %w", err, asynq.SkipRetry)
	}
	return d.Send(ctx, hook)
}
