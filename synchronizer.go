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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quotedesk/quotedesk/database"
	"github.com/quotedesk/quotedesk/model"
)

var syncTracer = otel.Tracer("quotedesk.synchronizer")

// TransitionListener is told about every transition that changed a quote.
type TransitionListener func(ctx context.Context, quote *model.Quote, status model.CanonicalStatus)

// Synchronizer is the only writer of a quote's lifecycle and approval status.
type Synchronizer struct {
	datasource database.IDataSource
	listeners  []TransitionListener
	now        func() time.Time
}

func NewSynchronizer(ds database.IDataSource) *Synchronizer {
	return &Synchronizer{datasource: ds, now: func() time.Time { return time.Now().UTC() }}
}

// OnTransition registers a listener. It must be called before the synchronizer is shared.
func (s *Synchronizer) OnTransition(l TransitionListener) {
	s.listeners = append(s.listeners, l)
}

type applyOptions struct {
	event        *model.ApprovalEvent
	instanceID   string
	actor        string
	reason       string
	adoptEventID string
	newMapping   *model.InstanceMapping
}

// ApplyOption configures a single ApplyStatus call.
type ApplyOption func(*applyOptions)

// WithEvent journals event in the same transaction as the status change.
// A repeated event id makes the call a no-op.
func WithEvent(event model.ApprovalEvent) ApplyOption {
	return func(o *applyOptions) {
		o.event = &event
		if o.instanceID == "" {
			o.instanceID = event.InstanceID
		}
	}
}

// WithInstance scopes the change to an approval instance so the instance
// mapping is updated and the terminal rule applies.
func WithInstance(instanceID string) ApplyOption {
	return func(o *applyOptions) { o.instanceID = instanceID }
}

// WithActor records who approved.
func WithActor(actor string) ApplyOption {
	return func(o *applyOptions) { o.actor = actor }
}

// WithReason records why the quote was rejected.
func WithReason(reason string) ApplyOption {
	return func(o *applyOptions) { o.reason = reason }
}

// WithAdoptedEvent claims a journaled orphan event instead of inserting one.
func WithAdoptedEvent(eventID string) ApplyOption {
	return func(o *applyOptions) { o.adoptEventID = eventID }
}

// WithNewMapping creates the instance mapping in the same transaction and
// scopes the status change to it.
func WithNewMapping(mapping model.InstanceMapping) ApplyOption {
	return func(o *applyOptions) {
		o.newMapping = &mapping
		o.instanceID = mapping.InstanceID
	}
}

// ApplyStatus moves the quote to the stored pair of status. Both status fields
// and the journal row are written in one transaction. A duplicate event is
// reported as OutcomeDuplicate, not as an error.
func (s *Synchronizer) ApplyStatus(ctx context.Context, quoteID string, status model.CanonicalStatus, opts ...ApplyOption) (*model.TransitionResult, error) {
	ctx, span := syncTracer.Start(ctx, "ApplyStatus")
	defer span.End()

	var o applyOptions
	for _, opt := range opts {
		opt(&o)
	}

	pair, ok := status.Target()
	if !ok {
		return nil, newErrorf(KindUnmappedStatus, "apply status", "status %q has no stored pair", status)
	}

	t := model.StatusTransition{
		QuoteID:      quoteID,
		Status:       status,
		Pair:         pair,
		InstanceID:   o.instanceID,
		Event:        o.event,
		AdoptEventID: o.adoptEventID,
		NewMapping:   o.newMapping,
	}
	model.ApplyTransitionAudit(&t, o.actor, o.reason, s.now())
	if t.Event != nil {
		t.Event.QuoteID = quoteID
		t.Event.Status = status
		if t.Event.ReceivedAt.IsZero() {
			t.Event.ReceivedAt = s.now()
		}
	}

	span.SetAttributes(
		attribute.String("quote.id", quoteID),
		attribute.String("approval.status", string(status)),
	)

	result, err := s.datasource.ApplyStatusTransition(ctx, t)
	if err != nil {
		span.RecordError(err)
		return nil, fromDatasource("apply status", err)
	}
	span.SetAttributes(attribute.String("approval.outcome", string(result.Outcome)))

	fields := logrus.Fields{
		"quote_id":    quoteID,
		"status":      status,
		"instance_id": o.instanceID,
		"outcome":     result.Outcome,
	}
	if o.event != nil {
		fields["event_id"] = o.event.EventID
	}
	switch result.Outcome {
	case model.OutcomeApplied:
		logrus.WithFields(fields).Info("approval status applied")
		if result.Quote != nil {
			for _, l := range s.listeners {
				l(ctx, result.Quote, status)
			}
		}
	case model.OutcomeIgnored:
		if result.Mapping != nil && result.Mapping.Status != status {
			fields["instance_status"] = result.Mapping.Status
			logrus.WithFields(fields).Warn("status change for a terminal approval instance ignored")
		} else {
			logrus.WithFields(fields).Debug("approval status unchanged")
		}
	default:
		logrus.WithFields(fields).Info("approval status not applied")
	}
	return result, nil
}

// CheckStatusConsistency reports whether the stored pair is one of the
// sanctioned combinations. It never modifies the quote.
func (s *Synchronizer) CheckStatusConsistency(ctx context.Context, quoteID string) (*model.ConsistencyReport, error) {
	ctx, span := syncTracer.Start(ctx, "CheckStatusConsistency")
	defer span.End()

	quote, err := s.datasource.GetQuoteByID(ctx, quoteID)
	if err != nil {
		return nil, fromDatasource("check consistency", err)
	}
	return s.report(quote), nil
}

func (s *Synchronizer) report(quote *model.Quote) *model.ConsistencyReport {
	report := &model.ConsistencyReport{
		QuoteID:    quote.QuoteID,
		Pair:       quote.Pair(),
		Consistent: quote.Pair().IsConsistent(),
		CheckedAt:  s.now(),
	}
	if !report.Consistent {
		logrus.WithFields(logrus.Fields{
			"quote_id":        quote.QuoteID,
			"status":          quote.Status,
			"approval_status": quote.ApprovalStatus,
			"kind":            KindInconsistentState,
		}).Warn("quote status pair is inconsistent")
	}
	return report
}
