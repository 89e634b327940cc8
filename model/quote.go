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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the business document routed through approval. The approval core
// only writes Status, ApprovalStatus and the audit fields.
type Quote struct {
	QuoteID         string          `json:"quote_id"`
	Number          string          `json:"number"`
	Title           string          `json:"title"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description,omitempty"`
	RequesterID     string          `json:"requester_id,omitempty"`
	Status          LifecycleStatus `json:"status"`
	ApprovalStatus  ApprovalStatus  `json:"approval_status"`
	ApprovedBy      string          `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Pair returns the stored (lifecycle, approval) combination.
func (q *Quote) Pair() StatusPair {
	return StatusPair{Lifecycle: q.Status, Approval: q.ApprovalStatus}
}

// Submittable reports whether a new approval round may start for the quote.
func (q *Quote) Submittable() bool {
	switch q.ApprovalStatus {
	case ApprovalNotSubmitted, ApprovalRejected, ApprovalCancelled:
		return true
	default:
		return false
	}
}

// StatusTransition is the single unit of work the synchronizer hands to the
// datasource. Everything in it is applied in one database transaction.
type StatusTransition struct {
	QuoteID         string
	Status          CanonicalStatus
	Pair            StatusPair
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectionReason string

	// InstanceID scopes the transition to an external approval instance. The
	// mapping row is locked and the terminal rule is enforced against it.
	InstanceID string

	// Event is journaled with ON CONFLICT DO NOTHING; a conflict turns the
	// whole transition into a no-op.
	Event *ApprovalEvent

	// AdoptEventID claims a previously journaled orphan instead of inserting.
	AdoptEventID string

	// NewMapping is inserted before the instance is locked, so a submission
	// either records both the mapping and the pending quote or neither.
	NewMapping *InstanceMapping
}

// TransitionResult reports what the datasource did with a transition.
type TransitionResult struct {
	Outcome EventOutcome
	Quote   *Quote
	Mapping *InstanceMapping
}
