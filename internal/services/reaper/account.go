package reaper

import (
	"context"
	"fmt"

	"github.com/hookvault/hookvault/internal/metrics"
	"github.com/hookvault/hookvault/internal/tasks"
)

// RunAccountDeletion executes one step of the phase-ordered cascading
// account deletion. Each phase drains in full batches, republishing itself
// while a batch comes back full; only a drained phase advances to the next.
// The user row is the very last thing deleted, so no later step can fail to
// find its parent.
func (s *Service) RunAccountDeletion(ctx context.Context, task tasks.AccountDeletionTask) error {
	const op = "reaper.RunAccountDeletion"

	phase := task.Phase
	if phase == "" {
		phase = tasks.PhaseRequests
	}

	switch phase {
	case tasks.PhaseRequests:
		return s.deleteAccountRequests(ctx, task.UserID)
	case tasks.PhaseEndpoints:
		return s.deleteAccountEndpoints(ctx, task.UserID)
	case tasks.PhaseAPIKeys:
		return s.deleteAccountCollateral(ctx, task.UserID, phase, s.repo.DeleteAPIKeysByUser)
	case tasks.PhaseSessions:
		return s.deleteAccountCollateral(ctx, task.UserID, phase, s.repo.DeleteSessionsByUser)
	case tasks.PhaseAuthAccounts:
		return s.deleteAccountCollateral(ctx, task.UserID, phase, s.repo.DeleteAuthAccountsByUser)
	case tasks.PhaseUser:
		if err := s.repo.DeleteUser(ctx, task.UserID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown phase %s", op, phase)
	}
}

// deleteAccountRequests removes one batch of stored requests per endpoint of
// the user. Repeats the phase while any endpoint yields a full batch.
func (s *Service) deleteAccountRequests(ctx context.Context, userID string) error {
	const op = "reaper.deleteAccountRequests"

	mayHaveMore := false
	cursor := ""
	for {
		endpoints, err := s.repo.ListEndpointsByUser(ctx, userID, cursor, ParentPageSize)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if len(endpoints) == 0 {
			break
		}
		for _, e := range endpoints {
			deleted, err := s.repo.DeleteRequestsByEndpoint(ctx, e.ID, DeleteBatchSize)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			metrics.ReapedRequestsTotal.WithLabelValues("account").Add(float64(deleted))
			if deleted == DeleteBatchSize {
				mayHaveMore = true
			}
		}
		if len(endpoints) < ParentPageSize {
			break
		}
		cursor = endpoints[len(endpoints)-1].ID
	}

	next := tasks.PhaseEndpoints
	if mayHaveMore {
		next = tasks.PhaseRequests
	}
	return s.advance(userID, next)
}

// deleteAccountEndpoints removes one batch of the user's endpoints,
// invalidating their cached boundary views first.
func (s *Service) deleteAccountEndpoints(ctx context.Context, userID string) error {
	const op = "reaper.deleteAccountEndpoints"

	page, err := s.repo.ListEndpointsByUser(ctx, userID, "", DeleteBatchSize)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, e := range page {
		s.invalidateEndpoint(e.Slug)
	}

	deleted, err := s.repo.DeleteEndpointsByUser(ctx, userID, DeleteBatchSize)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.ReapedEndpointsTotal.WithLabelValues("account").Add(float64(deleted))

	next := tasks.PhaseAPIKeys
	if deleted == DeleteBatchSize {
		next = tasks.PhaseEndpoints
	}
	return s.advance(userID, next)
}

// deleteAccountCollateral drains one batch of a collateral table.
func (s *Service) deleteAccountCollateral(ctx context.Context, userID, phase string,
	del func(ctx context.Context, userID string, limit int) (int64, error)) error {
	const op = "reaper.deleteAccountCollateral"

	deleted, err := del(ctx, userID, DeleteBatchSize)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	next := nextPhase(phase)
	if deleted == DeleteBatchSize {
		next = phase
	}
	return s.advance(userID, next)
}

func nextPhase(phase string) string {
	switch phase {
	case tasks.PhaseAPIKeys:
		return tasks.PhaseSessions
	case tasks.PhaseSessions:
		return tasks.PhaseAuthAccounts
	case tasks.PhaseAuthAccounts:
		return tasks.PhaseUser
	default:
		return tasks.PhaseUser
	}
}

func (s *Service) advance(userID, phase string) error {
	return s.pub.Publish(tasks.KeyAccount, tasks.AccountDeletionTask{
		UserID: userID,
		Phase:  phase,
	})
}
