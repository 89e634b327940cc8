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
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quotedesk/quotedesk/config"
	"github.com/quotedesk/quotedesk/database"
	"github.com/quotedesk/quotedesk/internal/remote"
	"github.com/quotedesk/quotedesk/model"
)

// RemoteApprovals is the part of the remote API client the provider uses.
type RemoteApprovals interface {
	Submit(ctx context.Context, app remote.Application) (string, error)
	Decide(ctx context.Context, d remote.DecisionRequest) (*remote.DecisionResponse, error)
}

// ExternalProvider delegates approval to the remote approval system and
// persists the instance mapping for every submission.
type ExternalProvider struct {
	cfg        config.ExternalConfig
	client     RemoteApprovals
	datasource database.IDataSource
	sync       *Synchronizer
	enabled    atomic.Bool
}

func NewExternalProvider(cfg config.ExternalConfig, client RemoteApprovals, ds database.IDataSource, sync *Synchronizer) *ExternalProvider {
	p := &ExternalProvider{cfg: cfg, client: client, datasource: ds, sync: sync}
	p.enabled.Store(cfg.Enabled)
	return p
}

func (p *ExternalProvider) Kind() model.ProviderKind { return model.ProviderExternal }

// SetEnabled flips the feature flag. Only later selections are affected.
func (p *ExternalProvider) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
	logrus.WithField("enabled", enabled).Info("external approval provider flag changed")
}

// IsAvailable reports whether the flag is on and every required setting is present.
func (p *ExternalProvider) IsAvailable() bool {
	return p.enabled.Load() && p.configured()
}

func (p *ExternalProvider) configured() bool {
	return p.client != nil && len(p.cfg.MissingFields()) == 0
}

func (p *ExternalProvider) requireConfigured(op string) error {
	if p.client == nil {
		return newErrorf(KindConfiguration, op, "remote approval client is not configured")
	}
	if missing := p.cfg.MissingFields(); len(missing) > 0 {
		return newErrorf(KindConfiguration, op, "missing external settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (p *ExternalProvider) Submit(ctx context.Context, quote *model.Quote) (model.InstanceRef, error) {
	const op = "external submit"
	if err := p.requireConfigured(op); err != nil {
		return model.InstanceRef{}, err
	}
	if !quote.Submittable() {
		return model.InstanceRef{}, newErrorf(KindConflict, op,
			"quote %s cannot be submitted while approval is %s", quote.QuoteID, quote.ApprovalStatus)
	}

	instanceID, err := p.client.Submit(ctx, remote.Application{
		CreatorUserID: p.cfg.CreatorUserID,
		TemplateID:    p.cfg.TemplateID,
		Title:         quote.Title,
		Amount:        quote.Amount,
		Currency:      quote.Currency,
		Description:   quote.Description,
		ThirdPartyNo:  quote.Number,
	})
	if err != nil {
		return model.InstanceRef{}, remoteError(op, err)
	}

	result, err := p.sync.ApplyStatus(ctx, quote.QuoteID, model.StatusPending, WithNewMapping(model.InstanceMapping{
		QuoteID:      quote.QuoteID,
		InstanceID:   instanceID,
		ThirdPartyNo: quote.Number,
		Status:       model.StatusPending,
	}))
	if err != nil {
		// the remote instance exists but cannot be traced back; its callbacks become orphans
		logrus.WithFields(logrus.Fields{
			"quote_id":    quote.QuoteID,
			"instance_id": instanceID,
		}).WithError(err).Error("failed to persist approval instance mapping")
		return model.InstanceRef{}, err
	}
	mapping := result.Mapping

	logrus.WithFields(logrus.Fields{
		"quote_id":    quote.QuoteID,
		"instance_id": instanceID,
	}).Info("quote submitted to remote approval")

	return model.InstanceRef{
		Provider:     model.ProviderExternal,
		QuoteID:      quote.QuoteID,
		InstanceID:   mapping.InstanceID,
		ThirdPartyNo: mapping.ThirdPartyNo,
	}, nil
}

func (p *ExternalProvider) Approve(ctx context.Context, quote *model.Quote, actor, comment string) (model.ApprovalResult, error) {
	return p.decide(ctx, quote, remote.DecisionApprove, actor, comment)
}

func (p *ExternalProvider) Reject(ctx context.Context, quote *model.Quote, actor, reason string) (model.ApprovalResult, error) {
	return p.decide(ctx, quote, remote.DecisionReject, actor, reason)
}

// decide forwards the decision. The remote stays the system of record, so
// the quote only changes when the answer is a synchronous acknowledgement.
func (p *ExternalProvider) decide(ctx context.Context, quote *model.Quote, decision, actor, comment string) (model.ApprovalResult, error) {
	op := "external " + decision
	if err := p.requireConfigured(op); err != nil {
		return model.ApprovalResult{}, err
	}

	mapping, err := p.datasource.GetLatestMappingByQuoteID(ctx, quote.QuoteID)
	if err != nil {
		return model.ApprovalResult{}, fromDatasource(op, err)
	}

	resp, err := p.client.Decide(ctx, remote.DecisionRequest{
		InstanceID: mapping.InstanceID,
		Decision:   decision,
		Operator:   actor,
		Comment:    comment,
	})
	if err != nil {
		return model.ApprovalResult{}, remoteError(op, err)
	}

	result := model.ApprovalResult{
		Provider: model.ProviderExternal,
		QuoteID:  quote.QuoteID,
		Status:   mapping.Status,
	}
	if !resp.Synchronous {
		return result, nil
	}

	status, ok := TranslateRemoteStatus(resp.Status)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"quote_id":      quote.QuoteID,
			"instance_id":   mapping.InstanceID,
			"remote_status": resp.Status,
		}).Warn("synchronous decision returned an unmapped remote status")
		return result, nil
	}

	opts := []ApplyOption{WithInstance(mapping.InstanceID), WithActor(actor)}
	if status == model.StatusRejected {
		opts = append(opts, WithReason(comment))
	}
	applied, err := p.sync.ApplyStatus(ctx, quote.QuoteID, status, opts...)
	if err != nil {
		return model.ApprovalResult{}, err
	}
	result.Confirmed = applied.Outcome == model.OutcomeApplied ||
		(applied.Outcome == model.OutcomeIgnored && applied.Mapping != nil && applied.Mapping.Status == status)
	if result.Confirmed {
		result.Status = status
	}
	return result, nil
}

// remoteError classifies a remote client failure.
func remoteError(op string, err error) error {
	wrapped := errors.Wrap(err, "remote approval call failed")
	switch {
	case errors.Is(err, remote.ErrNoInstance):
		return newError(KindRemoteNoInstance, op, wrapped)
	case errors.Is(err, remote.ErrRejected):
		return newError(KindRemoteRejected, op, wrapped)
	default:
		return newError(KindRemoteUnavailable, op, wrapped)
	}
}
