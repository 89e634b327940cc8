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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk"
	"github.com/quotedesk/quotedesk/config"
	redis_db "github.com/quotedesk/quotedesk/internal/redis-db"
)

func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.CallbackQueue: 6,
		cfg.Queue.WebhookQueue:  3,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logrus.WithFields(logrus.Fields{
				"task":    task.Type(),
				"retried": retried,
				"max":     maxRetry,
			}).WithError(err).Error("task failed")
		}),
	}), nil
}

func initializeTaskHandlers(app *quotedeskInstance, mux *asynq.ServeMux) {
	dispatcher := &quotedesk.WebhookDispatcher{
		URL:     app.cnf.Notification.Webhook.Url,
		Headers: app.cnf.Notification.Webhook.Headers,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}

	mux.HandleFunc(app.cnf.Queue.CallbackQueue, app.core.Pipeline().HandleCallbackTask)
	mux.HandleFunc(app.cnf.Queue.WebhookQueue, dispatcher.ProcessWebhook)
}

// workerCommands starts the asynq workers for approval callbacks and outbound webhooks.
func workerCommands(app *quotedeskInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start quotedesk workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := app.cnf

			if conf.Redis.Dns == "" {
				log.Fatal("workers need redis: set redis.dns")
			}

			shutdown, err := initializeTracing(ctx, conf)
			if err != nil {
				log.Fatalf("error setting up tracing: %v", err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			if q := app.core.Queue(); q != nil {
				logrus.WithField("backlog", q.Backlog()).Info("starting workers")
				defer q.Close()
			}

			srv, err := initializeWorkerServer(conf, initializeQueues(conf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
