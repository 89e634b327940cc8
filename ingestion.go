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
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quotedesk/quotedesk/database"
	"github.com/quotedesk/quotedesk/internal/apierror"
	"github.com/quotedesk/quotedesk/model"
)

var ingestTracer = otel.Tracer("quotedesk.ingestion")

// CallbackVerifier checks and decrypts callbacks from the remote system.
type CallbackVerifier interface {
	VerifyURL(signature, timestamp, nonce, echostr string) ([]byte, error)
	DecryptMessage(signature, timestamp, nonce string, body []byte) ([]byte, error)
}

// CallbackEnqueuer hands verified events to the background workers.
type CallbackEnqueuer interface {
	EnqueueCallback(ctx context.Context, event model.CallbackEvent) error
}

// SignedRequest is a callback as received on the wire.
type SignedRequest struct {
	Signature string
	Timestamp string
	Nonce     string
	Body      []byte
}

// EventPipeline turns remote callbacks into status changes, each event at most once.
type EventPipeline struct {
	verifier   CallbackVerifier
	datasource database.IDataSource
	sync       *Synchronizer
	queue      CallbackEnqueuer
	alert      func(error)
	now        func() time.Time
}

func NewEventPipeline(verifier CallbackVerifier, ds database.IDataSource, sync *Synchronizer) *EventPipeline {
	return &EventPipeline{
		verifier:   verifier,
		datasource: ds,
		sync:       sync,
		alert:      func(error) {},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// UseQueue switches Accept to asynchronous processing.
func (p *EventPipeline) UseQueue(q CallbackEnqueuer) {
	p.queue = q
}

// OnIntegrityFailure sets the security alert hook.
func (p *EventPipeline) OnIntegrityFailure(alert func(error)) {
	if alert != nil {
		p.alert = alert
	}
}

func (p *EventPipeline) integrityFailure(op string, err error, fields logrus.Fields) error {
	fields["security_review"] = true
	logrus.WithFields(fields).WithError(err).Warn("approval callback failed verification")
	wrapped := newError(KindIntegrity, op, err)
	p.alert(wrapped)
	return wrapped
}

// VerifyURL answers the remote system's URL verification handshake.
func (p *EventPipeline) VerifyURL(ctx context.Context, signature, timestamp, nonce, echostr string) ([]byte, error) {
	if p.verifier == nil {
		return nil, newErrorf(KindConfiguration, "verify callback url", "callback credentials are not configured")
	}
	plain, err := p.verifier.VerifyURL(signature, timestamp, nonce, echostr)
	if err != nil {
		return nil, p.integrityFailure("verify callback url", err, logrus.Fields{"timestamp": timestamp, "nonce": nonce})
	}
	return plain, nil
}

// Accept verifies a callback and then processes or enqueues it. Only
// configuration and integrity failures are returned; anything after
// verification is logged so the sender always receives the same ack.
func (p *EventPipeline) Accept(ctx context.Context, req SignedRequest) error {
	ctx, span := ingestTracer.Start(ctx, "Accept approval callback")
	defer span.End()

	if p.verifier == nil {
		return newErrorf(KindConfiguration, "accept callback", "callback credentials are not configured")
	}
	plain, err := p.verifier.DecryptMessage(req.Signature, req.Timestamp, req.Nonce, req.Body)
	if err != nil {
		span.RecordError(err)
		return p.integrityFailure("accept callback", err, logrus.Fields{"timestamp": req.Timestamp, "nonce": req.Nonce})
	}

	event, err := model.ParseCallbackEvent(plain)
	if err != nil {
		logrus.WithError(err).Error("verified approval callback could not be decoded")
		return nil
	}
	span.SetAttributes(
		attribute.String("approval.event_id", event.EventID),
		attribute.String("approval.instance_id", event.InstanceID),
	)

	if p.queue != nil {
		err := p.queue.EnqueueCallback(ctx, *event)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, asynq.ErrTaskIDConflict):
			logrus.WithField("event_id", event.EventID).Info("approval event already queued")
			return nil
		default:
			logrus.WithError(err).WithField("event_id", event.EventID).Warn("failed to queue approval event, processing inline")
		}
	}

	if _, err := p.Process(ctx, *event); err != nil {
		logrus.WithError(err).WithField("event_id", event.EventID).Error("failed to process approval event")
	}
	return nil
}

// Process applies one verified event. Errors are infrastructure failures
// worth retrying; every business outcome is reported through the result.
func (p *EventPipeline) Process(ctx context.Context, event model.CallbackEvent) (model.EventOutcome, error) {
	ctx, span := ingestTracer.Start(ctx, "Process approval event")
	defer span.End()
	span.SetAttributes(
		attribute.String("approval.event_id", event.EventID),
		attribute.String("approval.instance_id", event.InstanceID),
		attribute.Int("approval.remote_status", event.RemoteStatus),
	)

	fields := logrus.Fields{
		"event_id":      event.EventID,
		"instance_id":   event.InstanceID,
		"remote_status": event.RemoteStatus,
	}

	exists, err := p.datasource.EventExists(ctx, event.EventID)
	if err != nil {
		return "", err
	}
	if exists {
		logrus.WithFields(fields).Info("duplicate approval event")
		return model.OutcomeDuplicate, nil
	}

	journal, err := p.journalEntry(event)
	if err != nil {
		return "", err
	}
	status, known := TranslateRemoteStatus(event.RemoteStatus)
	if known {
		journal.Status = status
	}

	mapping, err := p.datasource.GetMappingByInstanceID(ctx, event.InstanceID)
	if err != nil {
		if !isNotFound(err) {
			return "", err
		}
		journal.Outcome = model.OutcomeOrphan
		journal.Orphan = true
		inserted, err := p.datasource.RecordEvent(ctx, journal)
		if err != nil {
			return "", err
		}
		if !inserted {
			return model.OutcomeDuplicate, nil
		}
		// the submission may have committed its mapping after the lookup and
		// replayed orphans before this one was journaled
		if mapping, err := p.datasource.GetMappingByInstanceID(ctx, event.InstanceID); err == nil {
			fields["quote_id"] = mapping.QuoteID
			logrus.WithFields(fields).Info("approval instance mapped while journaling, adopting event")
			return p.adopt(ctx, mapping, journal)
		} else if !isNotFound(err) {
			return "", err
		}
		fields["kind"] = KindUnknownInstance
		logrus.WithFields(fields).Warn("approval event for unknown instance journaled as orphan")
		return model.OutcomeOrphan, nil
	}

	if !known {
		journal.QuoteID = mapping.QuoteID
		journal.Outcome = model.OutcomeIgnored
		inserted, err := p.datasource.RecordEvent(ctx, journal)
		if err != nil {
			return "", err
		}
		if !inserted {
			return model.OutcomeDuplicate, nil
		}
		fields["kind"] = KindUnmappedStatus
		logrus.WithFields(fields).Warn("approval event carries an unmapped remote status")
		return model.OutcomeIgnored, nil
	}

	result, err := p.sync.ApplyStatus(ctx, mapping.QuoteID, status,
		WithEvent(journal),
		WithInstance(mapping.InstanceID),
		WithActor(event.Actor),
		WithReason(event.Comment),
	)
	if err != nil {
		return "", err
	}
	return result.Outcome, nil
}

// ReplayOrphans adopts events journaled before the instance mapping existed
// and applies them in receipt order.
func (p *EventPipeline) ReplayOrphans(ctx context.Context, instanceID string) (int, error) {
	orphans, err := p.datasource.ListOrphanEvents(ctx, instanceID)
	if err != nil || len(orphans) == 0 {
		return 0, err
	}
	mapping, err := p.datasource.GetMappingByInstanceID(ctx, instanceID)
	if err != nil {
		return 0, fromDatasource("replay orphans", err)
	}

	adopted := 0
	for _, orphan := range orphans {
		outcome, err := p.adopt(ctx, mapping, orphan)
		if err != nil {
			return adopted, err
		}
		if outcome != model.OutcomeDuplicate && outcome != model.OutcomeOrphan {
			adopted++
		}
	}

	logrus.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"quote_id":    mapping.QuoteID,
		"adopted":     adopted,
	}).Info("orphan approval events adopted")
	return adopted, nil
}

// adopt claims one journaled orphan for mapping and applies its status. An
// orphan whose remote status has no canonical meaning stays an orphan.
func (p *EventPipeline) adopt(ctx context.Context, mapping *model.InstanceMapping, orphan model.ApprovalEvent) (model.EventOutcome, error) {
	status := orphan.Status
	if !status.IsValid() {
		var ok bool
		if status, ok = TranslateRemoteStatus(orphan.RemoteStatus); !ok {
			return model.OutcomeOrphan, nil
		}
	}

	var source model.CallbackEvent
	if len(orphan.Payload) > 0 {
		if err := json.Unmarshal(orphan.Payload, &source); err != nil {
			logrus.WithFields(logrus.Fields{
				"event_id":    orphan.EventID,
				"instance_id": mapping.InstanceID,
			}).WithError(err).Warn("orphan event payload is unreadable, adopting without actor or comment")
		}
	}

	result, err := p.sync.ApplyStatus(ctx, mapping.QuoteID, status,
		WithInstance(mapping.InstanceID),
		WithAdoptedEvent(orphan.EventID),
		WithActor(source.Actor),
		WithReason(source.Comment),
	)
	if err != nil {
		return "", err
	}
	return result.Outcome, nil
}

func (p *EventPipeline) journalEntry(event model.CallbackEvent) (model.ApprovalEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return model.ApprovalEvent{}, err
	}
	return model.ApprovalEvent{
		EventID:      event.EventID,
		InstanceID:   event.InstanceID,
		RemoteStatus: event.RemoteStatus,
		Payload:      payload,
		ReceivedAt:   p.now(),
	}, nil
}

func isNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr apierror.APIError
	return errors.As(err, &apiErr) && apiErr.Code == apierror.ErrNotFound
}
