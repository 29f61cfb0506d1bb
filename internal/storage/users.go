package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hookvault/hookvault/internal/models"
)

const userColumns = `id, email, plan, requests_used, request_limit, period_start,
		period_end, cancel_at_period_end, subscription_status,
		polar_customer_id, polar_subscription_id, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var periodStart, periodEnd sql.NullTime
	var subscriptionStatus, polarCustomerID, polarSubscriptionID sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.Plan, &u.RequestsUsed, &u.RequestLimit,
		&periodStart, &periodEnd, &u.CancelAtPeriodEnd, &subscriptionStatus,
		&polarCustomerID, &polarSubscriptionID, &u.CreatedAt); err != nil {
		return nil, err
	}
	if periodStart.Valid {
		u.PeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		u.PeriodEnd = &periodEnd.Time
	}
	if subscriptionStatus.Valid {
		u.SubscriptionStatus = &subscriptionStatus.String
	}
	if polarCustomerID.Valid {
		u.PolarCustomerID = &polarCustomerID.String
	}
	if polarSubscriptionID.Valid {
		u.PolarSubscriptionID = &polarSubscriptionID.String
	}
	return u, nil
}

// GetUser returns a user by id, or models.ErrNotFound.
func (s *Storage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.GetUser"

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// ActivateFreePeriod starts a fresh quota period for a free user in one
// conditional update. Returns false when the guard did not match, which means
// a concurrent caller already activated a period (or the user is not free):
// the caller should re-read instead of retrying.
func (s *Storage) ActivateFreePeriod(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	const op = "storage.ActivateFreePeriod"

	res, err := s.DB.ExecContext(ctx, `
		UPDATE users
		SET period_start = $2, period_end = $3, requests_used = 0
		WHERE id = $1 AND plan = 'free'
		  AND (period_end IS NULL OR period_end <= $4)`,
		userID, start, end, start)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows == 1, nil
}

// ResetFreePeriod clears the period fields and usage, returning the user to
// the lazy "no period" state. No-op for deleted or upgraded users.
func (s *Storage) ResetFreePeriod(ctx context.Context, userID string) (bool, error) {
	const op = "storage.ResetFreePeriod"

	res, err := s.DB.ExecContext(ctx, `
		UPDATE users
		SET period_start = NULL, period_end = NULL, requests_used = 0
		WHERE id = $1 AND plan = 'free'`,
		userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows == 1, nil
}

// IncrementUsage adds count to a user's requests_used. Missing rows are a
// silent no-op; the returned count says how many rows matched.
func (s *Storage) IncrementUsage(ctx context.Context, userID string, count int) (int64, error) {
	const op = "storage.IncrementUsage"

	res, err := s.DB.ExecContext(ctx, `
		UPDATE users SET requests_used = requests_used + $2 WHERE id = $1`,
		userID, count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

// ListProUsersWithExpiredPeriod pages pro users whose period has passed,
// ordered by id for cursor resumption.
func (s *Storage) ListProUsersWithExpiredPeriod(ctx context.Context, now time.Time, cursor string, limit int) ([]*models.User, error) {
	const op = "storage.ListProUsersWithExpiredPeriod"

	query := `SELECT ` + userColumns + `
		FROM users
		WHERE plan = 'pro' AND period_end IS NOT NULL AND period_end < $1
		  AND ($2 = '' OR id > $2::uuid)
		ORDER BY id
		LIMIT $3`
	rows, err := s.DB.QueryContext(ctx, query, now, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// ListUserIDsByPlan pages user ids on a plan for the retention sweep.
func (s *Storage) ListUserIDsByPlan(ctx context.Context, plan string, cursor string, limit int) ([]string, error) {
	const op = "storage.ListUserIDsByPlan"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM users
		WHERE plan = $1 AND ($2 = '' OR id > $2::uuid)
		ORDER BY id
		LIMIT $3`,
		plan, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

// DowngradeUser moves a pro user back to the free tier in one patch: plan,
// limit and usage reset, all period and subscription fields cleared.
func (s *Storage) DowngradeUser(ctx context.Context, userID string, freeLimit int) error {
	const op = "storage.DowngradeUser"

	_, err := s.DB.ExecContext(ctx, `
		UPDATE users
		SET plan = 'free', request_limit = $2, requests_used = 0,
		    period_start = NULL, period_end = NULL,
		    cancel_at_period_end = FALSE, subscription_status = NULL,
		    polar_subscription_id = NULL
		WHERE id = $1`,
		userID, freeLimit)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RollProPeriod advances a pro user's billing period: the old end becomes the
// new start, usage resets, plan and limit stay untouched.
func (s *Storage) RollProPeriod(ctx context.Context, userID string, newStart, newEnd time.Time) error {
	const op = "storage.RollProPeriod"

	_, err := s.DB.ExecContext(ctx, `
		UPDATE users
		SET period_start = $2, period_end = $3, requests_used = 0
		WHERE id = $1`,
		userID, newStart, newEnd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteUser removes the user row. Last phase of account deletion.
func (s *Storage) DeleteUser(ctx context.Context, userID string) error {
	const op = "storage.DeleteUser"

	_, err := s.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
