package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID prefixed with the given module name, e.g. "qte_<uuid>".
func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}

// ApplyTransitionAudit fills the audit fields a canonical status requires and
// clears the ones it does not.
func ApplyTransitionAudit(t *StatusTransition, actor, reason string, now time.Time) {
	t.ApprovedBy = ""
	t.ApprovedAt = nil
	t.RejectionReason = ""

	switch t.Status {
	case StatusApproved:
		t.ApprovedBy = actor
		at := now
		t.ApprovedAt = &at
	case StatusRejected:
		t.RejectionReason = reason
	}
}
