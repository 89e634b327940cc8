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
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quotedesk/quotedesk/database"
	redlock "github.com/quotedesk/quotedesk/internal/lock"
	"github.com/quotedesk/quotedesk/model"
)

var serviceTracer = otel.Tracer("quotedesk.approval")

// ApprovalService picks the provider for a quote and delegates to it.
// Callers never talk to a provider directly.
type ApprovalService struct {
	datasource database.IDataSource
	internal   Provider
	external   Provider
	pipeline   *EventPipeline
	redis      redis.UniversalClient
	lockTTL    time.Duration
}

// NewApprovalService wires the two providers. redisClient may be nil, in which
// case concurrent submissions are only guarded by the quote's stored state.
func NewApprovalService(ds database.IDataSource, internal, external Provider, pipeline *EventPipeline, redisClient redis.UniversalClient, lockTTL time.Duration) *ApprovalService {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &ApprovalService{
		datasource: ds,
		internal:   internal,
		external:   external,
		pipeline:   pipeline,
		redis:      redisClient,
		lockTTL:    lockTTL,
	}
}

// selectForSubmission applies the selection policy: external when available.
func (s *ApprovalService) selectForSubmission() Provider {
	if s.external != nil && s.external.IsAvailable() {
		return s.external
	}
	return s.internal
}

// providerFor routes decisions on an existing round. A quote with an open
// remote instance stays external even if the flag was turned off since.
func (s *ApprovalService) providerFor(ctx context.Context, quoteID string) (Provider, error) {
	mapping, err := s.datasource.GetLatestMappingByQuoteID(ctx, quoteID)
	if err != nil {
		if isNotFound(err) {
			return s.internal, nil
		}
		return nil, err
	}
	if !mapping.Status.IsTerminal() && s.external != nil {
		return s.external, nil
	}
	return s.internal, nil
}

func (s *ApprovalService) getQuote(ctx context.Context, quoteID string) (*model.Quote, error) {
	quote, err := s.datasource.GetQuoteByID(ctx, quoteID)
	if err != nil {
		return nil, fromDatasource("get quote", err)
	}
	return quote, nil
}

// SubmitForApproval starts an approval round for the quote.
func (s *ApprovalService) SubmitForApproval(ctx context.Context, quoteID string) (model.InstanceRef, error) {
	ctx, span := serviceTracer.Start(ctx, "SubmitForApproval")
	defer span.End()
	span.SetAttributes(attribute.String("quote.id", quoteID))

	if s.redis != nil {
		locker := redlock.NewLocker(s.redis, redlock.QuoteSubmitKey(quoteID), "")
		if err := locker.Lock(ctx, s.lockTTL); err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				return model.InstanceRef{}, newErrorf(KindConflict, "submit", "quote %s is already being submitted", quoteID)
			}
			return model.InstanceRef{}, errors.Wrap(err, "failed to acquire submit lock")
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.WithError(err).WithField("quote_id", quoteID).Warn("failed to release submit lock")
			}
		}()
	}

	quote, err := s.getQuote(ctx, quoteID)
	if err != nil {
		return model.InstanceRef{}, err
	}

	provider := s.selectForSubmission()
	span.SetAttributes(attribute.String("approval.provider", string(provider.Kind())))
	logrus.WithFields(logrus.Fields{
		"quote_id": quoteID,
		"provider": provider.Kind(),
	}).Info("submitting quote for approval")

	ref, err := provider.Submit(ctx, quote)
	if err != nil {
		span.RecordError(err)
		return model.InstanceRef{}, err
	}

	if ref.Provider == model.ProviderExternal && s.pipeline != nil {
		if _, err := s.pipeline.ReplayOrphans(ctx, ref.InstanceID); err != nil {
			logrus.WithError(err).WithField("instance_id", ref.InstanceID).Error("failed to adopt orphan approval events")
		}
	}
	return ref, nil
}

// Approve approves the quote's current approval round.
func (s *ApprovalService) Approve(ctx context.Context, quoteID, actor, comment string) (model.ApprovalResult, error) {
	ctx, span := serviceTracer.Start(ctx, "Approve")
	defer span.End()

	quote, provider, err := s.resolve(ctx, quoteID)
	if err != nil {
		return model.ApprovalResult{}, err
	}
	span.SetAttributes(attribute.String("quote.id", quoteID), attribute.String("approval.provider", string(provider.Kind())))
	return provider.Approve(ctx, quote, actor, comment)
}

// Reject rejects the quote's current approval round.
func (s *ApprovalService) Reject(ctx context.Context, quoteID, actor, reason string) (model.ApprovalResult, error) {
	ctx, span := serviceTracer.Start(ctx, "Reject")
	defer span.End()

	quote, provider, err := s.resolve(ctx, quoteID)
	if err != nil {
		return model.ApprovalResult{}, err
	}
	span.SetAttributes(attribute.String("quote.id", quoteID), attribute.String("approval.provider", string(provider.Kind())))
	return provider.Reject(ctx, quote, actor, reason)
}

func (s *ApprovalService) resolve(ctx context.Context, quoteID string) (*model.Quote, Provider, error) {
	quote, err := s.getQuote(ctx, quoteID)
	if err != nil {
		return nil, nil, err
	}
	provider, err := s.providerFor(ctx, quoteID)
	if err != nil {
		return nil, nil, err
	}
	return quote, provider, nil
}
