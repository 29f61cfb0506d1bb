package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookvault/hookvault/internal/models"
)

func TestStorage_ActivateFreePeriod(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(models.FreePeriod)

	t.Run("activates for a free user with no period", func(t *testing.T) {
		userID := factory.CreateUser(t, models.PlanFree, 0, models.FreeRequestLimit, nil, nil)

		activated, err := storage.ActivateFreePeriod(ctx, userID, now, end)
		require.NoError(t, err)
		assert.True(t, activated)

		u := factory.GetUserRow(t, userID)
		require.NotNil(t, u.PeriodEnd)
		assert.WithinDuration(t, end, *u.PeriodEnd, time.Second)
		assert.Equal(t, 0, u.RequestsUsed)
	})

	t.Run("second activation loses while the period is active", func(t *testing.T) {
		userID := factory.CreateUser(t, models.PlanFree, 0, models.FreeRequestLimit, nil, nil)

		activated, err := storage.ActivateFreePeriod(ctx, userID, now, end)
		require.NoError(t, err)
		require.True(t, activated)

		again, err := storage.ActivateFreePeriod(ctx, userID, now.Add(time.Second), end.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, again, "active period must not be replaced")
	})

	t.Run("expired period is replaced", func(t *testing.T) {
		oldStart := now.Add(-48 * time.Hour)
		oldEnd := now.Add(-24 * time.Hour)
		userID := factory.CreateUser(t, models.PlanFree, 37, models.FreeRequestLimit, &oldStart, &oldEnd)

		activated, err := storage.ActivateFreePeriod(ctx, userID, now, end)
		require.NoError(t, err)
		assert.True(t, activated)

		u := factory.GetUserRow(t, userID)
		assert.Equal(t, 0, u.RequestsUsed, "usage resets with the new period")
	})

	t.Run("pro user is never activated", func(t *testing.T) {
		userID := factory.CreateUser(t, models.PlanPro, 0, models.ProRequestLimit, nil, nil)

		activated, err := storage.ActivateFreePeriod(ctx, userID, now, end)
		require.NoError(t, err)
		assert.False(t, activated)
	})
}

func TestStorage_Counters(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)

	t.Run("usage increments accumulate", func(t *testing.T) {
		userID := factory.CreateUser(t, models.PlanFree, 0, models.FreeRequestLimit, nil, nil)

		rows, err := storage.IncrementUsage(ctx, userID, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		_, err = storage.IncrementUsage(ctx, userID, 2)
		require.NoError(t, err)

		u := factory.GetUserRow(t, userID)
		assert.Equal(t, 5, u.RequestsUsed)
	})

	t.Run("usage increment for a deleted user touches no rows", func(t *testing.T) {
		rows, err := storage.IncrementUsage(ctx, "00000000-0000-0000-0000-000000000000", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rows)
	})

	t.Run("request count decrement floors at zero", func(t *testing.T) {
		endpointID := factory.CreateEndpoint(t, "counter-hook", nil, true, nil)

		_, err := storage.IncrementRequestCount(ctx, endpointID, 4)
		require.NoError(t, err)

		_, err = storage.DecrementRequestCount(ctx, endpointID, 10)
		require.NoError(t, err)

		e, err := storage.GetEndpointBySlug(ctx, "counter-hook")
		require.NoError(t, err)
		assert.Equal(t, 0, e.RequestCount)
	})
}

func TestStorage_DeleteRequestsByEndpoint(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	now := time.Now().UTC()

	endpointID := factory.CreateEndpoint(t, "busy-hook", nil, true, nil)
	for i := range 7 {
		factory.CreateRequest(t, endpointID, now.Add(-time.Duration(i)*time.Minute))
	}

	deleted, err := storage.DeleteRequestsByEndpoint(ctx, endpointID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	remaining, err := storage.CountRequestsByEndpoint(ctx, endpointID)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	// Oldest rows go first; the survivors are the two newest.
	rows, err := storage.DB.Query(`SELECT received_at FROM requests WHERE endpoint_id = $1`, endpointID)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var receivedAt time.Time
		require.NoError(t, rows.Scan(&receivedAt))
		assert.True(t, receivedAt.After(now.Add(-2*time.Minute).Add(-time.Second)))
	}
	require.NoError(t, rows.Err())

	deleted, err = storage.DeleteRequestsByEndpoint(ctx, endpointID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestStorage_DeleteRequestsOlderThan(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	now := time.Now().UTC()

	endpointID := factory.CreateEndpoint(t, "aging-hook", nil, false, nil)
	factory.CreateRequest(t, endpointID, now.Add(-10*24*time.Hour))
	factory.CreateRequest(t, endpointID, now.Add(-8*24*time.Hour))
	factory.CreateRequest(t, endpointID, now.Add(-time.Hour))

	deleted, err := storage.DeleteRequestsOlderThan(ctx, endpointID, now.Add(-models.FreeRetention), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := storage.CountRequestsByEndpoint(ctx, endpointID)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestStorage_ListExpiredEndpoints(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	expired1 := factory.CreateEndpoint(t, "expired-a", nil, true, &past)
	expired2 := factory.CreateEndpoint(t, "expired-b", nil, true, &past)
	factory.CreateEndpoint(t, "alive", nil, true, &future)
	factory.CreateEndpoint(t, "persistent", nil, false, nil)

	page, err := storage.ListExpiredEndpoints(ctx, now, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 2)

	got := map[string]bool{page[0].ID: true, page[1].ID: true}
	assert.True(t, got[expired1])
	assert.True(t, got[expired2])

	// Cursor pagination walks the same set without overlap.
	first, err := storage.ListExpiredEndpoints(ctx, now, "", 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := storage.ListExpiredEndpoints(ctx, now, first[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestStorage_AccountDeletionPhases(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)

	userID := factory.CreateUser(t, models.PlanFree, 0, models.FreeRequestLimit, nil, nil)
	for i := range 3 {
		factory.CreateEndpoint(t, fmt.Sprintf("user-hook-%d", i), &userID, false, nil)
	}
	factory.CreateCollateral(t, "api_keys", userID)
	factory.CreateCollateral(t, "sessions", userID)
	factory.CreateCollateral(t, "sessions", userID)
	factory.CreateCollateral(t, "auth_accounts", userID)

	deleted, err := storage.DeleteEndpointsByUser(ctx, userID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	deleted, err = storage.DeleteEndpointsByUser(ctx, userID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = storage.DeleteAPIKeysByUser(ctx, userID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	deleted, err = storage.DeleteSessionsByUser(ctx, userID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	deleted, err = storage.DeleteAuthAccountsByUser(ctx, userID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	require.NoError(t, storage.DeleteUser(ctx, userID))
	_, err = storage.GetUser(ctx, userID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStorage_DeferredTasks(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	dueID, err := storage.InsertDeferredTask(ctx, "period.reset", []byte(`{"userId":"u-1"}`), now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = storage.InsertDeferredTask(ctx, "period.reset", []byte(`{"userId":"u-2"}`), now.Add(time.Hour))
	require.NoError(t, err)

	due, err := storage.ListDueTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, dueID, due[0].ID)
	assert.JSONEq(t, `{"userId":"u-1"}`, string(due[0].Payload))

	require.NoError(t, storage.DeleteDeferredTask(ctx, dueID))
	due, err = storage.ListDueTasks(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStorage_BillingQueries(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	now := time.Now().UTC().Truncate(time.Second)

	lapsedEnd := now.Add(-time.Hour)
	lapsedStart := lapsedEnd.Add(-models.BillingCycle)
	activeEnd := now.Add(time.Hour)

	lapsed := factory.CreateUser(t, models.PlanPro, 500, models.ProRequestLimit, &lapsedStart, &lapsedEnd)
	factory.CreateUser(t, models.PlanPro, 100, models.ProRequestLimit, &lapsedStart, &activeEnd)
	factory.CreateUser(t, models.PlanFree, 10, models.FreeRequestLimit, nil, &lapsedEnd)

	users, err := storage.ListProUsersWithExpiredPeriod(ctx, now, "", 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, lapsed, users[0].ID)

	t.Run("roll pro period resets usage", func(t *testing.T) {
		newEnd := lapsedEnd.Add(models.BillingCycle)
		require.NoError(t, storage.RollProPeriod(ctx, lapsed, lapsedEnd, newEnd))

		u := factory.GetUserRow(t, lapsed)
		assert.Equal(t, 0, u.RequestsUsed)
		require.NotNil(t, u.PeriodEnd)
		assert.WithinDuration(t, newEnd, *u.PeriodEnd, time.Second)
	})

	t.Run("downgrade moves the user to the free plan", func(t *testing.T) {
		require.NoError(t, storage.DowngradeUser(ctx, lapsed, models.FreeRequestLimit))

		u := factory.GetUserRow(t, lapsed)
		assert.Equal(t, models.PlanFree, u.Plan)
		assert.Equal(t, models.FreeRequestLimit, u.RequestLimit)
		assert.Equal(t, 0, u.RequestsUsed)
		assert.Nil(t, u.PeriodEnd)
	})
}
