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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LifecycleStatus is the user facing status of a quote.
type LifecycleStatus string

const (
	LifecycleDraft     LifecycleStatus = "draft"
	LifecyclePending   LifecycleStatus = "pending"
	LifecycleApproved  LifecycleStatus = "approved"
	LifecycleRejected  LifecycleStatus = "rejected"
	LifecycleCancelled LifecycleStatus = "cancelled"
)

// ApprovalStatus is the approval specific status of a quote.
type ApprovalStatus string

const (
	ApprovalNotSubmitted ApprovalStatus = "not_submitted"
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalCancelled    ApprovalStatus = "cancelled"
)

// CanonicalStatus is the closed vocabulary every provider normalizes to.
// The synchronizer understands nothing else.
type CanonicalStatus string

const (
	StatusNotSubmitted CanonicalStatus = "not_submitted"
	StatusPending      CanonicalStatus = "pending"
	StatusApproved     CanonicalStatus = "approved"
	StatusRejected     CanonicalStatus = "rejected"
	StatusCancelled    CanonicalStatus = "cancelled"
)

// StatusPair is the (lifecycle, approval) combination stored on a quote.
type StatusPair struct {
	Lifecycle LifecycleStatus `json:"lifecycle_status"`
	Approval  ApprovalStatus  `json:"approval_status"`
}

// statusTable is the only sanctioned mapping from canonical status to stored pair.
var statusTable = map[CanonicalStatus]StatusPair{
	StatusNotSubmitted: {LifecycleDraft, ApprovalNotSubmitted},
	StatusPending:      {LifecyclePending, ApprovalPending},
	StatusApproved:     {LifecycleApproved, ApprovalApproved},
	StatusRejected:     {LifecycleRejected, ApprovalRejected},
	StatusCancelled:    {LifecycleCancelled, ApprovalCancelled},
}

// ParseCanonicalStatus converts a string into a CanonicalStatus.
func ParseCanonicalStatus(s string) (CanonicalStatus, error) {
	status := CanonicalStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := statusTable[status]; !ok {
		return "", fmt.Errorf("unknown approval status %q", s)
	}
	return status, nil
}

// IsValid reports whether the status belongs to the canonical set.
func (s CanonicalStatus) IsValid() bool {
	_, ok := statusTable[s]
	return ok
}

// IsTerminal reports whether no further transition is expected for an approval
// instance. A terminal instance no longer moves its quote, not even with its
// own status again.
func (s CanonicalStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Target returns the stored pair for the canonical status.
func (s CanonicalStatus) Target() (StatusPair, bool) {
	pair, ok := statusTable[s]
	return pair, ok
}

// IsConsistent reports whether the pair is one of the sanctioned combinations.
func (p StatusPair) IsConsistent() bool {
	_, ok := p.Canonical()
	return ok
}

// Canonical returns the canonical status the pair was produced from.
func (p StatusPair) Canonical() (CanonicalStatus, bool) {
	for status, pair := range statusTable {
		if pair == p {
			return status, true
		}
	}
	return "", false
}

// ProviderKind identifies one of the two approval backends.
type ProviderKind string

const (
	ProviderInternal ProviderKind = "internal"
	ProviderExternal ProviderKind = "external"
)

// InstanceMapping links a quote to the remote approval instance created for one submission.
type InstanceMapping struct {
	MappingID    string          `json:"mapping_id"`
	QuoteID      string          `json:"quote_id"`
	InstanceID   string          `json:"instance_id"`
	ThirdPartyNo string          `json:"third_party_no"`
	Status       CanonicalStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EventOutcome records what ingestion did with a journaled event.
type EventOutcome string

const (
	OutcomeApplied    EventOutcome = "applied"
	OutcomeIgnored    EventOutcome = "ignored"
	OutcomeSuperseded EventOutcome = "superseded"
	OutcomeOrphan     EventOutcome = "orphan"
	OutcomeDuplicate  EventOutcome = "duplicate"
)

// ApprovalEvent is one row of the append-only event journal.
type ApprovalEvent struct {
	EventID      string          `json:"event_id"`
	InstanceID   string          `json:"instance_id"`
	QuoteID      string          `json:"quote_id,omitempty"`
	RemoteStatus int             `json:"remote_status"`
	Status       CanonicalStatus `json:"status,omitempty"`
	Outcome      EventOutcome    `json:"outcome"`
	Orphan       bool            `json:"orphan"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// InstanceRef is what a provider returns after a successful submission.
type InstanceRef struct {
	Provider     ProviderKind `json:"provider"`
	QuoteID      string       `json:"quote_id"`
	InstanceID   string       `json:"instance_id,omitempty"`
	ThirdPartyNo string       `json:"third_party_no,omitempty"`
}

// ApprovalResult is returned by approve and reject. Confirmed is false when the
// decision was forwarded and the final state is awaited from a callback.
type ApprovalResult struct {
	Provider  ProviderKind    `json:"provider"`
	QuoteID   string          `json:"quote_id"`
	Status    CanonicalStatus `json:"status"`
	Confirmed bool            `json:"confirmed"`
}

// ConsistencyReport is the read-only diagnostic for a quote's status pair.
type ConsistencyReport struct {
	QuoteID    string     `json:"quote_id"`
	Pair       StatusPair `json:"pair"`
	Consistent bool       `json:"consistent"`
	CheckedAt  time.Time  `json:"checked_at"`
}
