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
	"embed"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quotedesk/quotedesk/config"
	"github.com/quotedesk/quotedesk/database"
	"github.com/quotedesk/quotedesk/internal/cache"
	"github.com/quotedesk/quotedesk/internal/callback"
	"github.com/quotedesk/quotedesk/internal/notification"
	redis_db "github.com/quotedesk/quotedesk/internal/redis-db"
	"github.com/quotedesk/quotedesk/internal/remote"
	"github.com/quotedesk/quotedesk/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Quotedesk wires the approval core around a datasource.
type Quotedesk struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	queue      *Queue
	sync       *Synchronizer
	internal   *InternalProvider
	external   *ExternalProvider
	pipeline   *EventPipeline
	service    *ApprovalService
}

// Dependencies are the collaborators built from configuration. Nil fields
// disable the matching feature.
type Dependencies struct {
	Redis    redis.UniversalClient
	Queue    *Queue
	Remote   RemoteApprovals
	Verifier CallbackVerifier
	Alert    func(error)
}

// NewQuotedesk builds the service from the loaded configuration.
func NewQuotedesk(db database.IDataSource) (*Quotedesk, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	deps := Dependencies{Alert: notification.NotifyError}
	var tokenCache cache.Cache
	if conf.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient([]string{conf.Redis.Dns}, conf.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		deps.Redis = redisClient.Client()
		tokenCache = cache.NewCache(deps.Redis)

		deps.Queue, err = NewQueue(conf)
		if err != nil {
			return nil, err
		}
	}

	if conf.External.BaseURL != "" {
		opts := []remote.Option{}
		if tokenCache != nil {
			opts = append(opts, remote.WithCache(tokenCache))
		}
		deps.Remote = remote.NewClient(conf.External, opts...)
	}

	if conf.External.CallbackToken != "" && conf.External.CallbackAESKey != "" {
		crypter, err := callback.NewCrypter(conf.External.CallbackToken, conf.External.CallbackAESKey, conf.External.CorpID,
			callback.WithMaxSkew(time.Duration(conf.External.MaxClockSkew)*time.Second))
		if err != nil {
			return nil, newError(KindConfiguration, "callback crypter", err)
		}
		deps.Verifier = crypter
	}

	return New(db, conf, deps), nil
}

// New assembles the core from explicit dependencies.
func New(db database.IDataSource, conf *config.Configuration, deps Dependencies) *Quotedesk {
	q := &Quotedesk{datasource: db, redis: deps.Redis, queue: deps.Queue}

	q.sync = NewSynchronizer(db)
	if deps.Queue != nil && conf.Notification.Webhook.Url != "" {
		q.sync.OnTransition(WebhookListener(deps.Queue))
	}

	q.internal = NewInternalProvider(q.sync)
	q.external = NewExternalProvider(conf.External, deps.Remote, db, q.sync)

	q.pipeline = NewEventPipeline(deps.Verifier, db, q.sync)
	q.pipeline.OnIntegrityFailure(deps.Alert)
	if deps.Queue != nil && conf.Queue.AsyncCallback {
		q.pipeline.UseQueue(deps.Queue)
	}

	q.service = NewApprovalService(db, q.internal, q.external, q.pipeline, deps.Redis,
		time.Duration(conf.Lock.SubmitLockSec)*time.Second)

	logrus.WithFields(logrus.Fields{
		"external_available": q.external.IsAvailable(),
		"async_callbacks":    q.pipeline.queue != nil,
	}).Info("approval core initialised")
	return q
}

func (q *Quotedesk) Service() *ApprovalService { return q.service }
func (q *Quotedesk) Pipeline() *EventPipeline { return q.pipeline }
func (q *Quotedesk) Synchronizer() *Synchronizer { return q.sync }
func (q *Quotedesk) External() *ExternalProvider { return q.external }
func (q *Quotedesk) Queue() *Queue { return q.queue }
func (q *Quotedesk) Datasource() database.IDataSource { return q.datasource }

// CreateQuote stores a new draft quote.
func (q *Quotedesk) CreateQuote(ctx context.Context, quote model.Quote) (model.Quote, error) {
	quote.Currency = strings.ToUpper(strings.TrimSpace(quote.Currency))
	created, err := q.datasource.CreateQuote(ctx, quote)
	if err != nil {
		return model.Quote{}, fromDatasource("create quote", err)
	}
	return created, nil
}

func (q *Quotedesk) GetQuote(ctx context.Context, quoteID string) (*model.Quote, error) {
	quote, err := q.datasource.GetQuoteByID(ctx, quoteID)
	if err != nil {
		return nil, fromDatasource("get quote", err)
	}
	return quote, nil
}

func (q *Quotedesk) ListApprovalInstances(ctx context.Context, quoteID string) ([]model.InstanceMapping, error) {
	if _, err := q.GetQuote(ctx, quoteID); err != nil {
		return nil, err
	}
	return q.datasource.ListMappingsByQuoteID(ctx, quoteID)
}

func (q *Quotedesk) ListApprovalEvents(ctx context.Context, quoteID string) ([]model.ApprovalEvent, error) {
	if _, err := q.GetQuote(ctx, quoteID); err != nil {
		return nil, err
	}
	return q.datasource.ListEventsByQuoteID(ctx, quoteID)
}

// SweepConsistency checks every quote and returns the inconsistent ones
// along with the number of quotes checked. Nothing is corrected.
func (q *Quotedesk) SweepConsistency(ctx context.Context, batchSize int) ([]model.ConsistencyReport, int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var inconsistent []model.ConsistencyReport
	checked := 0
	for offset := 0; ; offset += batchSize {
		quotes, err := q.datasource.GetAllQuotes(ctx, batchSize, offset)
		if err != nil {
			return nil, checked, err
		}
		for i := range quotes {
			checked++
			if report := q.sync.report(&quotes[i]); !report.Consistent {
				inconsistent = append(inconsistent, *report)
			}
		}
		if len(quotes) < batchSize {
			break
		}
	}
	return inconsistent, checked, nil
}
