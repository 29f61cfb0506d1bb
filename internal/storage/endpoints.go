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

const endpointColumns = `id, slug, user_id, name, is_ephemeral, expires_at,
		mock_status, mock_body, mock_headers, request_count, created_at`

func scanEndpoint(row interface{ Scan(...any) error }) (*models.Endpoint, error) {
	e := &models.Endpoint{}
	var userID, name, mockBody sql.NullString
	var expiresAt sql.NullTime
	var mockStatus sql.NullInt64
	var mockHeaders []byte
	if err := row.Scan(&e.ID, &e.Slug, &userID, &name, &e.IsEphemeral, &expiresAt,
		&mockStatus, &mockBody, &mockHeaders, &e.RequestCount, &e.CreatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		e.UserID = &userID.String
	}
	if name.Valid {
		e.Name = &name.String
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	if mockStatus.Valid {
		mock := &models.MockResponse{
			Status:  int(mockStatus.Int64),
			Body:    mockBody.String,
			Headers: map[string]string{},
		}
		if len(mockHeaders) > 0 {
			if err := json.Unmarshal(mockHeaders, &mock.Headers); err != nil {
				return nil, err
			}
		}
		e.MockResponse = mock
	}
	return e, nil
}

// CreateEndpoint inserts a new endpoint and returns its id.
func (s *Storage) CreateEndpoint(ctx context.Context, e *models.Endpoint) (string, error) {
	const op = "storage.CreateEndpoint"

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var mockStatus *int
	var mockBody *string
	var mockHeaders []byte
	if e.MockResponse != nil {
		mockStatus = &e.MockResponse.Status
		mockBody = &e.MockResponse.Body
		b, err := json.Marshal(e.MockResponse.Headers)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		mockHeaders = b
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO endpoints (id, slug, user_id, name, is_ephemeral, expires_at,
			mock_status, mock_body, mock_headers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Slug, e.UserID, e.Name, e.IsEphemeral, e.ExpiresAt,
		mockStatus, mockBody, mockHeaders)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return e.ID, nil
}

// GetEndpointBySlug returns an endpoint by its slug, or models.ErrNotFound.
func (s *Storage) GetEndpointBySlug(ctx context.Context, slug string) (*models.Endpoint, error) {
	const op = "storage.GetEndpointBySlug"

	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE slug = $1`
	e, err := scanEndpoint(s.DB.QueryRowContext(ctx, query, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// IncrementRequestCount adds count to the denormalized request counter.
// Missing rows are a silent no-op.
func (s *Storage) IncrementRequestCount(ctx context.Context, endpointID string, count int) (int64, error) {
	const op = "storage.IncrementRequestCount"

	res, err := s.DB.ExecContext(ctx, `
		UPDATE endpoints SET request_count = request_count + $2 WHERE id = $1`,
		endpointID, count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

// DecrementRequestCount subtracts count from the counter, flooring at zero.
func (s *Storage) DecrementRequestCount(ctx context.Context, endpointID string, count int) (int64, error) {
	const op = "storage.DecrementRequestCount"

	res, err := s.DB.ExecContext(ctx, `
		UPDATE endpoints
		SET request_count = GREATEST(request_count - $2, 0)
		WHERE id = $1`,
		endpointID, count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

// ListExpiredEndpoints pages ephemeral endpoints past their TTL, ordered by
// id for cursor resumption.
func (s *Storage) ListExpiredEndpoints(ctx context.Context, now time.Time, cursor string, limit int) ([]*models.Endpoint, error) {
	const op = "storage.ListExpiredEndpoints"

	query := `SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE is_ephemeral = TRUE AND expires_at < $1
		  AND ($2 = '' OR id > $2::uuid)
		ORDER BY id
		LIMIT $3`
	rows, err := s.DB.QueryContext(ctx, query, now, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var endpoints []*models.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return endpoints, nil
}

// ListEndpointsByUser pages a user's endpoints, ordered by id.
func (s *Storage) ListEndpointsByUser(ctx context.Context, userID string, cursor string, limit int) ([]*models.Endpoint, error) {
	const op = "storage.ListEndpointsByUser"

	query := `SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE user_id = $1 AND ($2 = '' OR id > $2::uuid)
		ORDER BY id
		LIMIT $3`
	rows, err := s.DB.QueryContext(ctx, query, userID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var endpoints []*models.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return endpoints, nil
}

// DeleteEndpoint removes the endpoint row. Leftover requests are drained by
// a follow-up reaper pass.
func (s *Storage) DeleteEndpoint(ctx context.Context, endpointID string) error {
	const op = "storage.DeleteEndpoint"

	_, err := s.DB.ExecContext(ctx, `DELETE FROM endpoints WHERE id = $1`, endpointID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteEndpointsByUser removes up to limit of a user's endpoints, returning
// how many went.
func (s *Storage) DeleteEndpointsByUser(ctx context.Context, userID string, limit int) (int64, error) {
	const op = "storage.DeleteEndpointsByUser"

	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM endpoints
		WHERE id IN (
			SELECT id FROM endpoints WHERE user_id = $1 ORDER BY id LIMIT $2
		)`,
		userID, limit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}
