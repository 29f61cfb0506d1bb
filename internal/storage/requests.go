package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hookvault/hookvault/internal/models"
)

func requestInsertArgs(r *models.Request) ([]any, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	headers, err := json.Marshal(r.Headers)
	if err != nil {
		return nil, err
	}
	queryParams, err := json.Marshal(r.QueryParams)
	if err != nil {
		return nil, err
	}
	return []any{r.ID, r.EndpointID, r.Method, r.Path, headers, r.Body,
		queryParams, r.ContentType, r.IP, r.Size, r.ReceivedAt}, nil
}

const insertRequestQuery = `
	INSERT INTO requests (id, endpoint_id, method, path, headers, body,
		query_params, content_type, ip, size, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// InsertRequest stores one captured request.
func (s *Storage) InsertRequest(ctx context.Context, r *models.Request) error {
	const op = "storage.InsertRequest"

	args, err := requestInsertArgs(r)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.DB.ExecContext(ctx, insertRequestQuery, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// InsertRequests stores a batch of captured requests in one transaction, so
// a batch is either fully captured or not at all.
func (s *Storage) InsertRequests(ctx context.Context, requests []*models.Request) error {
	const op = "storage.InsertRequests"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range requests {
		args, err := requestInsertArgs(r)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := tx.ExecContext(ctx, insertRequestQuery, args...); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetRequest returns a captured request by id, or models.ErrNotFound.
func (s *Storage) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	const op = "storage.GetRequest"

	r := &models.Request{}
	var headers, queryParams []byte
	var body, contentType sql.NullString
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, endpoint_id, method, path, headers, body, query_params,
			content_type, ip, size, received_at
		FROM requests WHERE id = $1`, requestID).
		Scan(&r.ID, &r.EndpointID, &r.Method, &r.Path, &headers, &body,
			&queryParams, &contentType, &r.IP, &r.Size, &r.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(headers, &r.Headers); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(queryParams, &r.QueryParams); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if body.Valid {
		r.Body = &body.String
	}
	if contentType.Valid {
		r.ContentType = &contentType.String
	}
	return r, nil
}

// CountRequestsByEndpoint returns the true stored request count for an
// endpoint, as opposed to the denormalized counter.
func (s *Storage) CountRequestsByEndpoint(ctx context.Context, endpointID string) (int, error) {
	const op = "storage.CountRequestsByEndpoint"

	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE endpoint_id = $1`, endpointID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// DeleteRequestsByEndpoint removes up to limit requests of an endpoint,
// oldest first, returning how many went.
func (s *Storage) DeleteRequestsByEndpoint(ctx context.Context, endpointID string, limit int) (int64, error) {
	const op = "storage.DeleteRequestsByEndpoint"

	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM requests
		WHERE id IN (
			SELECT id FROM requests
			WHERE endpoint_id = $1
			ORDER BY received_at
			LIMIT $2
		)`,
		endpointID, limit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

// DeleteRequestsOlderThan removes up to limit requests of an endpoint older
// than the cutoff, oldest first. Requests at or after the cutoff are never
// touched.
func (s *Storage) DeleteRequestsOlderThan(ctx context.Context, endpointID string, cutoff time.Time, limit int) (int64, error) {
	const op = "storage.DeleteRequestsOlderThan"

	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM requests
		WHERE id IN (
			SELECT id FROM requests
			WHERE endpoint_id = $1 AND received_at < $2
			ORDER BY received_at
			LIMIT $3
		)`,
		endpointID, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}
