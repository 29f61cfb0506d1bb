package storage

import (
	"context"
	"fmt"
)

// Batched deletes for the account-deletion collateral tables. Each removes up
// to limit rows for the user and reports how many went, so the orchestrator
// can tell a drained phase (rows < limit) from one that needs another pass.

// DeleteAPIKeysByUser removes up to limit of a user's API keys.
func (s *Storage) DeleteAPIKeysByUser(ctx context.Context, userID string, limit int) (int64, error) {
	const op = "storage.DeleteAPIKeysByUser"
	return s.deleteCollateral(ctx, op, "api_keys", userID, limit)
}

// DeleteSessionsByUser removes up to limit of a user's sessions.
func (s *Storage) DeleteSessionsByUser(ctx context.Context, userID string, limit int) (int64, error) {
	const op = "storage.DeleteSessionsByUser"
	return s.deleteCollateral(ctx, op, "sessions", userID, limit)
}

// DeleteAuthAccountsByUser removes up to limit of a user's auth accounts.
func (s *Storage) DeleteAuthAccountsByUser(ctx context.Context, userID string, limit int) (int64, error) {
	const op = "storage.DeleteAuthAccountsByUser"
	return s.deleteCollateral(ctx, op, "auth_accounts", userID, limit)
}

func (s *Storage) deleteCollateral(ctx context.Context, op, table, userID string, limit int) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id IN (
			SELECT id FROM %s WHERE user_id = $1 ORDER BY id LIMIT $2
		)`, table, table)
	res, err := s.DB.ExecContext(ctx, query, userID, limit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}
