package verification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/everifyng/everify-backend/db"
	"github.com/sqlc-dev/pqtype"
)

var ErrRequestNotFound = errors.New("verification request not found")

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

type CreateRequestParams struct {
	UserID                int64
	VerificationServiceID int64
	Reference             string
	SearchParameter       string
	AmountCharged         string
	Source                string
	IPAddress             string
}

func (r *Repository) Insert(ctx context.Context, q db.Executor, arg CreateRequestParams) (*Request, error) {
	req := &Request{
		UserID:                arg.UserID,
		VerificationServiceID: arg.VerificationServiceID,
		Reference:             arg.Reference,
		SearchParameter:       arg.SearchParameter,
		Status:                StatusProcessing,
		Source:                arg.Source,
	}
	if err := req.AmountCharged.Scan(arg.AmountCharged); err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	if arg.IPAddress != "" {
		req.IPAddress = sql.NullString{String: arg.IPAddress, Valid: true}
	}
	row := q.QueryRowxContext(ctx, `
		INSERT INTO verification_requests
			(user_id, verification_service_id, reference, search_parameter, amount_charged, status, source, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		req.UserID, req.VerificationServiceID, req.Reference, req.SearchParameter,
		req.AmountCharged, req.Status, req.Source, req.IPAddress,
	)
	if err := row.Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert verification request: %w", err)
	}
	return req, nil
}

func (r *Repository) LinkTransaction(ctx context.Context, q db.Executor, requestID, transactionID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE verification_requests SET transaction_id = $1, updated_at = now() WHERE id = $2`,
		transactionID, requestID,
	)
	if err != nil {
		return fmt.Errorf("link transaction: %w", err)
	}
	return nil
}

func (r *Repository) MarkCompleted(ctx context.Context, q db.Executor, requestID, providerID int64, responseData pqtype.NullRawMessage) error {
	_, err := q.ExecContext(ctx, `
		UPDATE verification_requests
		SET status = $1, service_provider_id = $2, response_data = $3, completed_at = now(), updated_at = now()
		WHERE id = $4`,
		StatusCompleted, providerID, responseData, requestID,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, q db.Executor, requestID int64, errorMessage string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE verification_requests
		SET status = $1, error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $3`,
		StatusFailed, errorMessage, requestID,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *Repository) GetForUpdate(ctx context.Context, q db.Executor, requestID int64) (*Request, error) {
	var req Request
	err := q.GetContext(ctx, &req, `SELECT * FROM verification_requests WHERE id = $1 FOR UPDATE`, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get verification request: %w", err)
	}
	return &req, nil
}

func (r *Repository) GetByReference(ctx context.Context, q db.Executor, userID int64, reference string) (*Request, error) {
	var req Request
	err := q.GetContext(ctx, &req, `
		SELECT * FROM verification_requests WHERE user_id = $1 AND reference = $2`,
		userID, reference,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get verification request: %w", err)
	}
	return &req, nil
}

type HistoryFilter struct {
	ServiceSlug string
	Status      string
	Limit       int
	Offset      int
}

func (f HistoryFilter) conditions() (string, []interface{}) {
	clauses := []string{"vr.user_id = $1"}
	args := []interface{}{}
	n := 2
	if f.ServiceSlug != "" {
		clauses = append(clauses, fmt.Sprintf("vs.slug = $%d", n))
		args = append(args, f.ServiceSlug)
		n++
	}
	if f.Status != "" {
		clauses = append(clauses, fmt.Sprintf("vr.status = $%d", n))
		args = append(args, f.Status)
	}
	return strings.Join(clauses, " AND "), args
}

func (r *Repository) List(ctx context.Context, q db.Executor, userID int64, filter HistoryFilter) ([]Request, error) {
	where, extra := filter.conditions()
	args := append([]interface{}{userID}, extra...)
	query := fmt.Sprintf(`
		SELECT vr.* FROM verification_requests vr
		JOIN verification_services vs ON vs.id = vr.verification_service_id
		WHERE %s
		ORDER BY vr.created_at DESC
		LIMIT %d OFFSET %d`, where, filter.Limit, filter.Offset)
	requests := []Request{}
	if err := q.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("list verification requests: %w", err)
	}
	return requests, nil
}

func (r *Repository) Count(ctx context.Context, q db.Executor, userID int64, filter HistoryFilter) (int64, error) {
	where, extra := filter.conditions()
	args := append([]interface{}{userID}, extra...)
	query := fmt.Sprintf(`
		SELECT count(*) FROM verification_requests vr
		JOIN verification_services vs ON vs.id = vr.verification_service_id
		WHERE %s`, where)
	var count int64
	if err := q.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count verification requests: %w", err)
	}
	return count, nil
}
