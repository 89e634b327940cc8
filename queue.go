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
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/quotedesk/quotedesk/config"
	redis_db "github.com/quotedesk/quotedesk/internal/redis-db"
	"github.com/quotedesk/quotedesk/model"
)

// callbackRetention keeps finished callback tasks around so a redelivered
// event id is rejected by asynq as a task id conflict.
const callbackRetention = 24 * time.Hour

// Queue enqueues approval callbacks and outbound webhooks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      config.QueueConfig
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		conf:      conf.Queue,
	}, nil
}

// EnqueueCallback queues a verified event. The event id doubles as the task
// id; a redelivery while the first task is retained fails with
// asynq.ErrTaskIDConflict.
func (q *Queue) EnqueueCallback(ctx context.Context, event model.CallbackEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.conf.CallbackQueue, payload,
		asynq.TaskID(event.EventID),
		asynq.Queue(q.conf.CallbackQueue),
		asynq.MaxRetry(q.conf.MaxRetry),
		asynq.Retention(callbackRetention),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"task_id":  info.ID,
		"queue":    info.Queue,
	}).Info("approval event queued")
	return nil
}

// EnqueueWebhook queues an outbound status notification.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.conf.WebhookQueue, payload,
		asynq.Queue(q.conf.WebhookQueue),
		asynq.MaxRetry(q.conf.MaxRetry),
	)
	_, err = q.Client.EnqueueContext(ctx, task)
	return err
}

// Backlog reports pending and retrying task counts per configured queue.
// Queues that do not exist yet are reported as empty.
func (q *Queue) Backlog() map[string]int {
	backlog := make(map[string]int)
	for _, name := range []string{q.conf.CallbackQueue, q.conf.WebhookQueue} {
		info, err := q.Inspector.GetQueueInfo(name)
		if err != nil {
			backlog[name] = 0
			continue
		}
		backlog[name] = info.Pending + info.Retry
	}
	return backlog
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// HandleCallbackTask is the asynq handler of the callback queue.
func (p *EventPipeline) HandleCallbackTask(ctx context.Context, task *asynq.Task) error {
	var event model.CallbackEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("decode approval event task: %v: %w", err, asynq.SkipRetry)
	}
	outcome, err := p.Process(ctx, event)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"outcome":  outcome,
	}).Info("approval event processed")
	return nil
}
