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

	"github.com/sirupsen/logrus"

	"github.com/quotedesk/quotedesk/model"
)

// InternalProvider runs the approval state machine locally. Every call is a
// synchronous status change through the synchronizer.
type InternalProvider struct {
	sync *Synchronizer
}

func NewInternalProvider(sync *Synchronizer) *InternalProvider {
	return &InternalProvider{sync: sync}
}

func (p *InternalProvider) Kind() model.ProviderKind { return model.ProviderInternal }

func (p *InternalProvider) IsAvailable() bool { return true }

func (p *InternalProvider) Submit(ctx context.Context, quote *model.Quote) (model.InstanceRef, error) {
	if !quote.Submittable() {
		return model.InstanceRef{}, newErrorf(KindConflict, "internal submit",
			"quote %s cannot be submitted while approval is %s", quote.QuoteID, quote.ApprovalStatus)
	}
	if _, err := p.sync.ApplyStatus(ctx, quote.QuoteID, model.StatusPending); err != nil {
		return model.InstanceRef{}, err
	}
	return model.InstanceRef{Provider: model.ProviderInternal, QuoteID: quote.QuoteID}, nil
}

func (p *InternalProvider) Approve(ctx context.Context, quote *model.Quote, actor, comment string) (model.ApprovalResult, error) {
	return p.decide(ctx, quote, model.StatusApproved, actor, comment, WithActor(actor))
}

func (p *InternalProvider) Reject(ctx context.Context, quote *model.Quote, actor, reason string) (model.ApprovalResult, error) {
	return p.decide(ctx, quote, model.StatusRejected, actor, reason, WithReason(reason))
}

func (p *InternalProvider) decide(ctx context.Context, quote *model.Quote, status model.CanonicalStatus, actor, comment string, opt ApplyOption) (model.ApprovalResult, error) {
	if quote.ApprovalStatus != model.ApprovalPending {
		return model.ApprovalResult{}, newErrorf(KindConflict, "internal decision",
			"quote %s is not awaiting approval (approval status %s)", quote.QuoteID, quote.ApprovalStatus)
	}
	if _, err := p.sync.ApplyStatus(ctx, quote.QuoteID, status, opt); err != nil {
		return model.ApprovalResult{}, err
	}

	logrus.WithFields(logrus.Fields{
		"quote_id": quote.QuoteID,
		"status":   status,
		"actor":    actor,
		"comment":  comment,
	}).Info("internal approval decision recorded")

	return model.ApprovalResult{
		Provider:  model.ProviderInternal,
		QuoteID:   quote.QuoteID,
		Status:    status,
		Confirmed: true,
	}, nil
}
