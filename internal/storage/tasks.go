package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hookvault/hookvault/internal/models"
)

// InsertDeferredTask stores a timed task to be promoted to the queue when
// run_at passes.
func (s *Storage) InsertDeferredTask(ctx context.Context, kind string, payload []byte, runAt time.Time) (string, error) {
	const op = "storage.InsertDeferredTask"

	id := uuid.New().String()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO deferred_tasks (id, kind, payload, run_at)
		VALUES ($1, $2, $3, $4)`,
		id, kind, payload, runAt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// ListDueTasks returns up to limit tasks whose run_at has passed, oldest
// first.
func (s *Storage) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.DeferredTask, error) {
	const op = "storage.ListDueTasks"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, kind, payload, run_at, created_at
		FROM deferred_tasks
		WHERE run_at <= $1
		ORDER BY run_at
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.DeferredTask
	for rows.Next() {
		t := &models.DeferredTask{}
		if err := rows.Scan(&t.ID, &t.Kind, &t.Payload, &t.RunAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// DeleteDeferredTask removes a promoted task row.
func (s *Storage) DeleteDeferredTask(ctx context.Context, taskID string) error {
	const op = "storage.DeleteDeferredTask"

	_, err := s.DB.ExecContext(ctx, `DELETE FROM deferred_tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
