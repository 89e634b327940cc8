package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/quotedesk/quotedesk/internal/apierror"
	"github.com/quotedesk/quotedesk/model"
)

const quoteColumns = `quote_id, number, title, amount, currency, description, requester_id,
	status, approval_status, approved_by, approved_at, rejection_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuote(row rowScanner) (*model.Quote, error) {
	q := model.Quote{}
	var description, requesterID, approvedBy, rejectionReason sql.NullString
	var approvedAt sql.NullTime

	err := row.Scan(
		&q.QuoteID, &q.Number, &q.Title, &q.Amount, &q.Currency, &description, &requesterID,
		&q.Status, &q.ApprovalStatus, &approvedBy, &approvedAt, &rejectionReason, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.Description = description.String
	q.RequesterID = requesterID.String
	q.ApprovedBy = approvedBy.String
	q.RejectionReason = rejectionReason.String
	if approvedAt.Valid {
		at := approvedAt.Time
		q.ApprovedAt = &at
	}
	return &q, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CreateQuote inserts a new quote in draft / not_submitted state.
func (d Datasource) CreateQuote(ctx context.Context, quote model.Quote) (model.Quote, error) {
	ctx, span := otel.Tracer("quotedesk.database").Start(ctx, "Saving quote to db")
	defer span.End()

	quote.QuoteID = model.GenerateUUIDWithSuffix("qte")
	quote.Status = model.LifecycleDraft
	quote.ApprovalStatus = model.ApprovalNotSubmitted
	quote.CreatedAt = time.Now().UTC()
	quote.UpdatedAt = quote.CreatedAt

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO quotedesk.quotes (quote_id, number, title, amount, currency, description, requester_id,
			status, approval_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, quote.QuoteID, quote.Number, quote.Title, quote.Amount, quote.Currency,
		nullString(quote.Description), nullString(quote.RequesterID),
		quote.Status, quote.ApprovalStatus, quote.CreatedAt, quote.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return model.Quote{}, apierror.NewAPIError(apierror.ErrConflict, "Quote with this number already exists", err)
		}
		return model.Quote{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create quote", err)
	}

	return quote, nil
}

func (d Datasource) GetQuoteByID(ctx context.Context, id string) (*model.Quote, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotedesk.quotes WHERE quote_id = $1`, id)
	q, err := scanQuote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Quote not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve quote", err)
	}
	return q, nil
}

func (d Datasource) GetAllQuotes(ctx context.Context, limit, offset int) ([]model.Quote, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+quoteColumns+`
		FROM quotedesk.quotes
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve quotes", err)
	}
	defer rows.Close()

	quotes := []model.Quote{}
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan quote data", err)
		}
		quotes = append(quotes, *q)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over quotes", err)
	}
	return quotes, nil
}
