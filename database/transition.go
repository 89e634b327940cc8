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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quotedesk/quotedesk/internal/apierror"
	"github.com/quotedesk/quotedesk/model"
)

// ApplyStatusTransition journals the source event (if any) and writes the
// quote's status pair in a single transaction.
//
// The journal insert runs first with ON CONFLICT DO NOTHING. A concurrent
// delivery of the same event id blocks on the unique index until this
// transaction finishes and then inserts nothing, which is reported as
// OutcomeDuplicate with no other side effect.
//
// A NewMapping is inserted inside the same transaction and becomes the
// instance the transition is scoped to.
//
// When the transition is scoped to an instance, the mapping row is locked. A
// terminal mapping is closed: any further status for it is OutcomeIgnored and
// leaves the quote alone, since the quote may have moved on through a later
// internal round that created no mapping.
// Events for a mapping that is no longer the quote's latest only move the
// mapping (OutcomeSuperseded).
func (d Datasource) ApplyStatusTransition(ctx context.Context, t model.StatusTransition) (*model.TransitionResult, error) {
	ctx, span := otel.Tracer("quotedesk.database").Start(ctx, "Applying status transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("quote.id", t.QuoteID),
		attribute.String("approval.status", string(t.Status)),
		attribute.String("approval.instance_id", t.InstanceID),
	)

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	eventID, duplicate, err := claimEvent(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return &model.TransitionResult{Outcome: model.OutcomeDuplicate}, nil
	}

	result := &model.TransitionResult{Outcome: model.OutcomeApplied}
	mappingChanged := false

	if t.NewMapping != nil {
		created, err := insertMapping(ctx, tx, *t.NewMapping)
		if err != nil {
			return nil, err
		}
		t.InstanceID = created.InstanceID
	}

	if t.InstanceID != "" {
		mapping, err := scanMapping(tx.QueryRowContext(ctx, `
			SELECT `+mappingColumns+`
			FROM quotedesk.approval_instances
			WHERE instance_id = $1
			FOR UPDATE
		`, t.InstanceID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apierror.NewAPIError(apierror.ErrNotFound, "Approval instance not found", err)
			}
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock approval instance", err)
		}
		if t.QuoteID == "" {
			t.QuoteID = mapping.QuoteID
		} else if t.QuoteID != mapping.QuoteID {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Approval instance belongs to another quote",
				fmt.Sprintf("instance %s maps to %s, not %s", t.InstanceID, mapping.QuoteID, t.QuoteID))
		}
		result.Mapping = mapping

		if mapping.Status.IsTerminal() {
			result.Outcome = model.OutcomeIgnored
			return finishTransition(ctx, tx, eventID, result)
		}

		if mapping.Status != t.Status {
			mappingChanged = true
			mapping.Status = t.Status
			mapping.UpdatedAt = time.Now().UTC()
			_, err = tx.ExecContext(ctx, `
				UPDATE quotedesk.approval_instances SET status = $2, updated_at = $3 WHERE instance_id = $1
			`, mapping.InstanceID, mapping.Status, mapping.UpdatedAt)
			if err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update approval instance", err)
			}
		}

		var latest string
		err = tx.QueryRowContext(ctx, `
			SELECT instance_id
			FROM quotedesk.approval_instances
			WHERE quote_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		`, mapping.QuoteID).Scan(&latest)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve latest approval instance", err)
		}
		if latest != mapping.InstanceID {
			result.Outcome = model.OutcomeSuperseded
			return finishTransition(ctx, tx, eventID, result)
		}
	}

	quote, err := scanQuote(tx.QueryRowContext(ctx, `
		SELECT `+quoteColumns+`
		FROM quotedesk.quotes
		WHERE quote_id = $1
		FOR UPDATE
	`, t.QuoteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Quote not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock quote", err)
	}
	result.Quote = quote

	if quote.Pair() == t.Pair && !mappingChanged {
		result.Outcome = model.OutcomeIgnored
		return finishTransition(ctx, tx, eventID, result)
	}

	quote.Status = t.Pair.Lifecycle
	quote.ApprovalStatus = t.Pair.Approval
	quote.ApprovedBy = t.ApprovedBy
	quote.ApprovedAt = t.ApprovedAt
	quote.RejectionReason = t.RejectionReason
	quote.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE quotedesk.quotes
		SET status = $2, approval_status = $3, approved_by = $4, approved_at = $5, rejection_reason = $6, updated_at = $7
		WHERE quote_id = $1
	`, quote.QuoteID, quote.Status, quote.ApprovalStatus, nullString(quote.ApprovedBy), nullTime(quote.ApprovedAt),
		nullString(quote.RejectionReason), quote.UpdatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update quote status", err)
	}

	return finishTransition(ctx, tx, eventID, result)
}

// claimEvent journals or adopts the source event. duplicate is true when the
// event was already claimed by another transition.
func claimEvent(ctx context.Context, tx *sql.Tx, t model.StatusTransition) (eventID string, duplicate bool, err error) {
	var res sql.Result
	switch {
	case t.Event != nil:
		event := *t.Event
		event.Outcome = model.OutcomeApplied
		eventID = event.EventID
		res, err = insertEvent(ctx, tx, event)
	case t.AdoptEventID != "":
		eventID = t.AdoptEventID
		res, err = tx.ExecContext(ctx, `
			UPDATE quotedesk.approval_events
			SET quote_id = $2, orphan = FALSE, outcome = $3
			WHERE event_id = $1 AND orphan = TRUE
		`, t.AdoptEventID, t.QuoteID, model.OutcomeApplied)
	default:
		return "", false, nil
	}
	if err != nil {
		return "", false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to journal approval event", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to journal approval event", err)
	}
	return eventID, n == 0, nil
}

func finishTransition(ctx context.Context, tx *sql.Tx, eventID string, result *model.TransitionResult) (*model.TransitionResult, error) {
	if eventID != "" && result.Outcome != model.OutcomeApplied {
		_, err := tx.ExecContext(ctx, `UPDATE quotedesk.approval_events SET outcome = $2 WHERE event_id = $1`, eventID, result.Outcome)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record event outcome", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit status transition", err)
	}
	return result, nil
}
