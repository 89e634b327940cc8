package quotedesk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quotedesk/quotedesk/internal/apierror"
	"github.com/quotedesk/quotedesk/model"
)

// memoryDatasource is an in-memory IDataSource with the same transition
// semantics as the postgres implementation. A single mutex plays the role of
// the row locks.
type memoryDatasource struct {
	mu       sync.Mutex
	quotes   map[string]*model.Quote
	mappings []*model.InstanceMapping
	events   []*model.ApprovalEvent
	seq      int

	// failQuoteWrite makes the quote update of a transition fail, which
	// discards everything the transition staged.
	failQuoteWrite error

	// onMappingMiss runs once, outside the lock, after a mapping lookup
	// found nothing.
	onMappingMiss func()
}

func newMemoryDatasource() *memoryDatasource {
	return &memoryDatasource{quotes: map[string]*model.Quote{}}
}

func notFound(msg string) error {
	return apierror.APIError{Code: apierror.ErrNotFound, Message: msg}
}

func (m *memoryDatasource) CreateQuote(_ context.Context, quote model.Quote) (model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if quote.QuoteID == "" {
		quote.QuoteID = fmt.Sprintf("qte_%d", m.seq)
	}
	quote.Status = model.LifecycleDraft
	quote.ApprovalStatus = model.ApprovalNotSubmitted
	quote.CreatedAt = time.Now().UTC()
	quote.UpdatedAt = quote.CreatedAt
	stored := quote
	m.quotes[quote.QuoteID] = &stored
	return quote, nil
}

// putQuote stores a quote as is, including inconsistent pairs.
func (m *memoryDatasource) putQuote(q model.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.QuoteID] = &q
}

func (m *memoryDatasource) GetQuoteByID(_ context.Context, id string) (*model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, notFound("Quote not found")
	}
	cp := *q
	return &cp, nil
}

func (m *memoryDatasource) GetAllQuotes(_ context.Context, limit, offset int) ([]model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.quotes))
	for id := range m.quotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []model.Quote
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, *m.quotes[ids[i]])
	}
	return out, nil
}

func (m *memoryDatasource) mappingLocked(instanceID string) *model.InstanceMapping {
	for _, mp := range m.mappings {
		if mp.InstanceID == instanceID {
			return mp
		}
	}
	return nil
}

func (m *memoryDatasource) latestLocked(quoteID string) *model.InstanceMapping {
	var latest *model.InstanceMapping
	for _, mp := range m.mappings {
		if mp.QuoteID == quoteID {
			latest = mp
		}
	}
	return latest
}

func (m *memoryDatasource) GetMappingByInstanceID(_ context.Context, instanceID string) (*model.InstanceMapping, error) {
	m.mu.Lock()
	mp := m.mappingLocked(instanceID)
	if mp == nil {
		hook := m.onMappingMiss
		m.onMappingMiss = nil
		m.mu.Unlock()
		if hook != nil {
			hook()
		}
		return nil, notFound("Approval instance not found")
	}
	cp := *mp
	m.mu.Unlock()
	return &cp, nil
}

func (m *memoryDatasource) GetLatestMappingByQuoteID(_ context.Context, quoteID string) (*model.InstanceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp := m.latestLocked(quoteID)
	if mp == nil {
		return nil, notFound("Approval instance not found")
	}
	cp := *mp
	return &cp, nil
}

func (m *memoryDatasource) ListMappingsByQuoteID(_ context.Context, quoteID string) ([]model.InstanceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.InstanceMapping
	for _, mp := range m.mappings {
		if mp.QuoteID == quoteID {
			out = append(out, *mp)
		}
	}
	return out, nil
}

func (m *memoryDatasource) eventLocked(eventID string) *model.ApprovalEvent {
	for _, e := range m.events {
		if e.EventID == eventID {
			return e
		}
	}
	return nil
}

func (m *memoryDatasource) EventExists(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventLocked(eventID) != nil, nil
}

func (m *memoryDatasource) RecordEvent(_ context.Context, event model.ApprovalEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventLocked(event.EventID) != nil {
		return false, nil
	}
	stored := event
	m.events = append(m.events, &stored)
	return true, nil
}

func (m *memoryDatasource) ListOrphanEvents(_ context.Context, instanceID string) ([]model.ApprovalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ApprovalEvent
	for _, e := range m.events {
		if e.Orphan && e.InstanceID == instanceID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memoryDatasource) ListEventsByQuoteID(_ context.Context, quoteID string) ([]model.ApprovalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ApprovalEvent
	for _, e := range m.events {
		if e.QuoteID == quoteID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memoryDatasource) ApplyStatusTransition(_ context.Context, t model.StatusTransition) (*model.TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// staged changes are only committed at the end, like the sql transaction
	var claimed *model.ApprovalEvent
	switch {
	case t.Event != nil:
		if m.eventLocked(t.Event.EventID) != nil {
			return &model.TransitionResult{Outcome: model.OutcomeDuplicate}, nil
		}
		ev := *t.Event
		ev.Outcome = model.OutcomeApplied
		claimed = &ev
	case t.AdoptEventID != "":
		existing := m.eventLocked(t.AdoptEventID)
		if existing == nil || !existing.Orphan {
			return &model.TransitionResult{Outcome: model.OutcomeDuplicate}, nil
		}
		claimed = existing
	}

	result := &model.TransitionResult{Outcome: model.OutcomeApplied}
	mappingChanged := false
	var mapping, created *model.InstanceMapping
	if t.NewMapping != nil {
		if m.mappingLocked(t.NewMapping.InstanceID) != nil {
			return nil, apierror.APIError{Code: apierror.ErrConflict, Message: "Approval instance is already mapped"}
		}
		nm := *t.NewMapping
		m.seq++
		nm.MappingID = fmt.Sprintf("map_%d", m.seq)
		if nm.Status == "" {
			nm.Status = model.StatusPending
		}
		nm.CreatedAt = time.Now().UTC()
		nm.UpdatedAt = nm.CreatedAt
		created = &nm
		t.InstanceID = nm.InstanceID
	}
	finish := func() (*model.TransitionResult, error) {
		if created != nil {
			m.mappings = append(m.mappings, created)
		}
		if mappingChanged {
			mapping.Status = t.Status
			mapping.UpdatedAt = time.Now().UTC()
		}
		if claimed != nil {
			if t.Event != nil {
				claimed.Outcome = result.Outcome
				m.events = append(m.events, claimed)
			} else {
				claimed.QuoteID = t.QuoteID
				claimed.Orphan = false
				claimed.Outcome = result.Outcome
			}
		}
		return result, nil
	}

	if t.InstanceID != "" {
		mapping = created
		if mapping == nil {
			mapping = m.mappingLocked(t.InstanceID)
		}
		if mapping == nil {
			return nil, notFound("Approval instance not found")
		}
		if t.QuoteID == "" {
			t.QuoteID = mapping.QuoteID
		} else if t.QuoteID != mapping.QuoteID {
			return nil, apierror.APIError{Code: apierror.ErrConflict, Message: "Approval instance belongs to another quote"}
		}
		cp := *mapping
		result.Mapping = &cp
		if mapping.Status.IsTerminal() {
			result.Outcome = model.OutcomeIgnored
			return finish()
		}
		if mapping.Status != t.Status {
			mappingChanged = true
			result.Mapping.Status = t.Status
		}
		if created == nil && m.latestLocked(mapping.QuoteID) != mapping {
			result.Outcome = model.OutcomeSuperseded
			return finish()
		}
	}

	quote, ok := m.quotes[t.QuoteID]
	if !ok {
		return nil, notFound("Quote not found")
	}
	if quote.Pair() == t.Pair && !mappingChanged {
		cp := *quote
		result.Quote = &cp
		result.Outcome = model.OutcomeIgnored
		return finish()
	}

	if m.failQuoteWrite != nil {
		return nil, m.failQuoteWrite
	}
	quote.Status = t.Pair.Lifecycle
	quote.ApprovalStatus = t.Pair.Approval
	quote.ApprovedBy = t.ApprovedBy
	quote.ApprovedAt = t.ApprovedAt
	quote.RejectionReason = t.RejectionReason
	quote.UpdatedAt = time.Now().UTC()
	cp := *quote
	result.Quote = &cp
	return finish()
}

func (m *memoryDatasource) eventsFor(instanceID string) []model.ApprovalEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ApprovalEvent
	for _, e := range m.events {
		if e.InstanceID == instanceID {
			out = append(out, *e)
		}
	}
	return out
}
