package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/quotedesk/quotedesk/internal/apierror"
	"github.com/quotedesk/quotedesk/model"
)

const mappingColumns = `mapping_id, quote_id, instance_id, third_party_no, status, created_at, updated_at`

const eventColumns = `event_id, instance_id, quote_id, remote_status, status, outcome, orphan, payload, received_at`

func scanMapping(row rowScanner) (*model.InstanceMapping, error) {
	m := model.InstanceMapping{}
	err := row.Scan(&m.MappingID, &m.QuoteID, &m.InstanceID, &m.ThirdPartyNo, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanEvent(row rowScanner) (*model.ApprovalEvent, error) {
	e := model.ApprovalEvent{}
	var quoteID, status sql.NullString
	var payload []byte
	err := row.Scan(&e.EventID, &e.InstanceID, &quoteID, &e.RemoteStatus, &status, &e.Outcome, &e.Orphan, &payload, &e.ReceivedAt)
	if err != nil {
		return nil, err
	}
	e.QuoteID = quoteID.String
	e.Status = model.CanonicalStatus(status.String)
	if len(payload) > 0 {
		e.Payload = payload
	}
	return &e, nil
}

// insertMapping persists the link between a quote and a remote instance.
func insertMapping(ctx context.Context, db execer, mapping model.InstanceMapping) (model.InstanceMapping, error) {
	mapping.MappingID = model.GenerateUUIDWithSuffix("map")
	if mapping.Status == "" {
		mapping.Status = model.StatusPending
	}
	mapping.CreatedAt = time.Now().UTC()
	mapping.UpdatedAt = mapping.CreatedAt

	_, err := db.ExecContext(ctx, `
		INSERT INTO quotedesk.approval_instances (mapping_id, quote_id, instance_id, third_party_no, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, mapping.MappingID, mapping.QuoteID, mapping.InstanceID, mapping.ThirdPartyNo, mapping.Status, mapping.CreatedAt, mapping.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return model.InstanceMapping{}, apierror.NewAPIError(apierror.ErrConflict, "Approval instance is already mapped", err)
		}
		return model.InstanceMapping{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create instance mapping", err)
	}
	return mapping, nil
}

func (d Datasource) GetMappingByInstanceID(ctx context.Context, instanceID string) (*model.InstanceMapping, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM quotedesk.approval_instances WHERE instance_id = $1`, instanceID)
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Approval instance not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve approval instance", err)
	}
	return m, nil
}

// GetLatestMappingByQuoteID returns the mapping of the most recent submission of the quote.
func (d Datasource) GetLatestMappingByQuoteID(ctx context.Context, quoteID string) (*model.InstanceMapping, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mappingColumns+`
		FROM quotedesk.approval_instances
		WHERE quote_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, quoteID)
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Quote has no approval instance", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve approval instance", err)
	}
	return m, nil
}

func (d Datasource) ListMappingsByQuoteID(ctx context.Context, quoteID string) ([]model.InstanceMapping, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+mappingColumns+`
		FROM quotedesk.approval_instances
		WHERE quote_id = $1
		ORDER BY created_at ASC, id ASC
	`, quoteID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve approval instances", err)
	}
	defer rows.Close()

	mappings := []model.InstanceMapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan approval instance", err)
		}
		mappings = append(mappings, *m)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over approval instances", err)
	}
	return mappings, nil
}

func (d Datasource) EventExists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM quotedesk.approval_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check event journal", err)
	}
	return exists, nil
}

// RecordEvent journals an event outside of a status transition (orphans). The
// unique event id makes a second insert a no-op reported as false.
func (d Datasource) RecordEvent(ctx context.Context, event model.ApprovalEvent) (bool, error) {
	res, err := insertEvent(ctx, d.Conn, event)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to journal approval event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to journal approval event", err)
	}
	return n == 1, nil
}

func (d Datasource) ListOrphanEvents(ctx context.Context, instanceID string) ([]model.ApprovalEvent, error) {
	return d.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM quotedesk.approval_events
		WHERE instance_id = $1 AND orphan = TRUE
		ORDER BY received_at ASC, id ASC
	`, instanceID)
}

func (d Datasource) ListEventsByQuoteID(ctx context.Context, quoteID string) ([]model.ApprovalEvent, error) {
	return d.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM quotedesk.approval_events
		WHERE quote_id = $1
		ORDER BY received_at ASC, id ASC
	`, quoteID)
}

func (d Datasource) queryEvents(ctx context.Context, query string, arg string) ([]model.ApprovalEvent, error) {
	rows, err := d.Conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve approval events", err)
	}
	defer rows.Close()

	events := []model.ApprovalEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan approval event", err)
		}
		events = append(events, *e)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over approval events", err)
	}
	return events, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, event model.ApprovalEvent) (sql.Result, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	var payload interface{}
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}
	return db.ExecContext(ctx, `
		INSERT INTO quotedesk.approval_events (event_id, instance_id, quote_id, remote_status, status, outcome, orphan, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.InstanceID, nullString(event.QuoteID), event.RemoteStatus, nullString(string(event.Status)),
		event.Outcome, event.Orphan, payload, event.ReceivedAt)
}
