package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStore_CreateOrGetSlot(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("creates pending slot", func(t *testing.T) {
		p, created, err := store.CreateOrGetSlot(ctx, "demo", "Demo App")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, uuid.Nil, p.ID)
		assert.Equal(t, StatusPending, p.Status)
		assert.Equal(t, "Demo App", p.DisplayName)
		assert.False(t, p.Promoted())
	})

	t.Run("returns existing slot", func(t *testing.T) {
		first, _, err := store.CreateOrGetSlot(ctx, "again", "")
		require.NoError(t, err)
		assert.Equal(t, "again", first.DisplayName, "display name defaults to slug")

		second, created, err := store.CreateOrGetSlot(ctx, "again", "Other name")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "again", second.DisplayName)
	})

	t.Run("invalid slug", func(t *testing.T) {
		_, _, err := store.CreateOrGetSlot(ctx, "Not Valid", "")
		assert.ErrorIs(t, err, ErrInvalidSlug)
	})
}

func TestSQLStore_Promote(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("first promotion activates slot without history", func(t *testing.T) {
		p := promoteTestVersion(t, store, "demo", "v1")
		assert.Equal(t, "v1", p.CurrentVersion)
		assert.Equal(t, StatusActive, p.Status)
		assert.Equal(t, "/srv/sites/demo/v1", p.StoragePath)
		assert.NotNil(t, p.PromotedAt)

		history, err := store.ListHistory(ctx, "demo")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("second promotion appends previous version", func(t *testing.T) {
		p := promoteTestVersion(t, store, "demo", "v2")
		assert.Equal(t, "v2", p.CurrentVersion)

		history, err := store.ListHistory(ctx, "demo")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "v1", history[0].Version)
		assert.Equal(t, "/srv/sites/demo/v1", history[0].StoragePath)
		assert.NotNil(t, history[0].PromotedAt)
	})

	t.Run("promoting the current version is a no-op", func(t *testing.T) {
		p, err := store.Promote(ctx, "demo", "v2", testParams("demo", "v2"))
		require.NoError(t, err)
		assert.Equal(t, "v2", p.CurrentVersion)

		history, err := store.ListHistory(ctx, "demo")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("stale expected version", func(t *testing.T) {
		_, err := store.Promote(ctx, "demo", "v1", testParams("demo", "v3"))
		assert.ErrorIs(t, err, ErrConcurrentModification)

		p, err := store.GetActive(ctx, "demo")
		require.NoError(t, err)
		assert.Equal(t, "v2", p.CurrentVersion)
	})

	t.Run("unknown slug", func(t *testing.T) {
		_, err := store.Promote(ctx, "missing", "", testParams("missing", "v1"))
		assert.ErrorIs(t, err, ErrProjectNotFound)
	})

	t.Run("incomplete params", func(t *testing.T) {
		_, err := store.Promote(ctx, "demo", "v2", PromoteParams{Version: "v3"})
		assert.ErrorIs(t, err, ErrInvalidPromotion)
	})

	t.Run("inactive project stays inactive", func(t *testing.T) {
		promoteTestVersion(t, store, "quiet", "v1")
		_, err := store.SetStatus(ctx, "quiet", StatusInactive)
		require.NoError(t, err)

		p := promoteTestVersion(t, store, "quiet", "v2")
		assert.Equal(t, StatusInactive, p.Status)
	})

	t.Run("error project becomes active", func(t *testing.T) {
		promoteTestVersion(t, store, "broken", "v1")
		_, err := store.SetStatus(ctx, "broken", StatusError)
		require.NoError(t, err)

		p := promoteTestVersion(t, store, "broken", "v2")
		assert.Equal(t, StatusActive, p.Status)
	})

	t.Run("deleting project cannot be promoted", func(t *testing.T) {
		promoteTestVersion(t, store, "going", "v1")
		_, err := store.MarkDeleting(ctx, "going")
		require.NoError(t, err)

		_, err = store.Promote(ctx, "going", "v1", testParams("going", "v2"))
		assert.ErrorIs(t, err, ErrProjectDeleting)
	})
}

func TestSQLStore_ConcurrentPromote(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	promoteTestVersion(t, store, "race", "base")

	const writers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []string
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			version := fmt.Sprintf("v%d", i)
			_, err := store.Promote(ctx, "race", "base", testParams("race", version))
			if err == nil {
				mu.Lock()
				successes = append(successes, version)
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrConcurrentModification), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	require.Len(t, successes, 1)
	p, err := store.GetActive(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, successes[0], p.CurrentVersion)

	history, err := store.ListHistory(ctx, "race")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "base", history[0].Version)
}

func TestSQLStore_GetActive(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateOrGetSlot(ctx, "pending", "")
	require.NoError(t, err)

	_, err = store.GetActive(ctx, "pending")
	assert.ErrorIs(t, err, ErrProjectNotFound, "unpromoted slots are never visible")

	_, err = store.GetActive(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	promoteTestVersion(t, store, "live", "v1")
	p, err := store.GetActive(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "v1", p.CurrentVersion)

	pending, err := store.GetBySlug(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)
}

func TestSQLStore_SetStatus(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	promoteTestVersion(t, store, "demo", "v1")

	p, err := store.SetStatus(ctx, "demo", StatusInactive)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, p.Status)

	p, err = store.SetStatus(ctx, "demo", StatusInactive)
	require.NoError(t, err, "setting the same status is idempotent")
	assert.Equal(t, StatusInactive, p.Status)

	p, err = store.SetStatus(ctx, "demo", StatusActive)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)

	_, err = store.SetStatus(ctx, "demo", StatusDeleting)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = store.SetStatus(ctx, "demo", StatusPending)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, _, err = store.CreateOrGetSlot(ctx, "slot", "")
	require.NoError(t, err)
	_, err = store.SetStatus(ctx, "slot", StatusActive)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.SetStatus(ctx, "missing", StatusActive)
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = store.MarkDeleting(ctx, "demo")
	require.NoError(t, err)
	_, err = store.SetStatus(ctx, "demo", StatusActive)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSQLStore_Update(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	promoteTestVersion(t, store, "demo", "v1")

	p, err := store.Update(ctx, "demo", SetDisplayName("Renamed"))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.DisplayName)

	got, err := store.GetBySlug(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)
	assert.Equal(t, "v1", got.CurrentVersion, "update must not touch version fields")

	_, err = store.Update(ctx, "demo", SetDisplayName(""))
	assert.ErrorIs(t, err, ErrInvalidDisplayName)

	_, err = store.Update(ctx, "missing", SetDisplayName("x"))
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = store.MarkDeleting(ctx, "demo")
	require.NoError(t, err)
	_, err = store.Update(ctx, "demo", SetDisplayName("Too late"))
	assert.ErrorIs(t, err, ErrProjectDeleting)
}

func TestSQLStore_TwoPhaseDelete(t *testing.T) {
	db, store := setupTestStore(t)
	ctx := context.Background()

	promoteTestVersion(t, store, "demo", "v1")
	promoteTestVersion(t, store, "demo", "v2")

	err := store.Purge(ctx, "demo")
	assert.ErrorIs(t, err, ErrInvalidTransition, "purge requires the deleting marker")

	p, err := store.MarkDeleting(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleting, p.Status)

	again, err := store.MarkDeleting(ctx, "demo")
	require.NoError(t, err, "marking twice resumes the delete")
	assert.Equal(t, StatusDeleting, again.Status)

	active, err := store.GetActive(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleting, active.Status, "readers see the marker and stop resolving")

	require.NoError(t, store.Purge(ctx, "demo"))

	_, err = store.GetBySlug(ctx, "demo")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	var historyRows int64
	require.NoError(t, db.Model(&HistoryEntry{}).Count(&historyRows).Error)
	assert.Zero(t, historyRows)

	assert.ErrorIs(t, store.Purge(ctx, "demo"), ErrProjectNotFound)
	_, err = store.MarkDeleting(ctx, "demo")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSQLStore_DiscardSlot(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateOrGetSlot(ctx, "slot", "")
	require.NoError(t, err)
	require.NoError(t, store.DiscardSlot(ctx, "slot"))
	_, err = store.GetBySlug(ctx, "slot")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	promoteTestVersion(t, store, "live", "v1")
	require.NoError(t, store.DiscardSlot(ctx, "live"))
	_, err = store.GetBySlug(ctx, "live")
	assert.NoError(t, err, "promoted projects are never discarded")

	assert.NoError(t, store.DiscardSlot(ctx, "missing"))
}

func TestSQLStore_ListAndCount(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	promoteTestVersion(t, store, "alpha", "v1")
	promoteTestVersion(t, store, "bravo", "v1")
	promoteTestVersion(t, store, "charlie", "v1")
	_, err := store.Update(ctx, "bravo", SetDisplayName("zulu bravo"))
	require.NoError(t, err)
	_, err = store.SetStatus(ctx, "charlie", StatusInactive)
	require.NoError(t, err)
	_, _, err = store.CreateOrGetSlot(ctx, "delta", "")
	require.NoError(t, err)

	t.Run("all projects", func(t *testing.T) {
		projects, err := store.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Len(t, projects, 4)

		count, err := store.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})

	t.Run("by status", func(t *testing.T) {
		projects, err := store.List(ctx, Filter{Status: StatusActive})
		require.NoError(t, err)
		assert.Len(t, projects, 2)

		count, err := store.Count(ctx, Filter{Status: StatusInactive})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("by query", func(t *testing.T) {
		projects, err := store.List(ctx, Filter{Query: "zulu"})
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "bravo", projects[0].Slug)

		count, err := store.Count(ctx, Filter{Query: "a", Status: StatusActive})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("ordered by name with paging", func(t *testing.T) {
		projects, err := store.List(ctx, Filter{Order: OrderName, Limit: 2})
		require.NoError(t, err)
		require.Len(t, projects, 2)
		assert.Equal(t, "alpha", projects[0].Slug)
		assert.Equal(t, "charlie", projects[1].Slug)

		projects, err = store.List(ctx, Filter{Order: OrderName, Desc: true, Limit: 1, Offset: 0})
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "bravo", projects[0].Slug)

		count, err := store.Count(ctx, Filter{Order: OrderName, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 4, count, "count ignores paging")
	})
}

func TestSQLStore_History(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2", "v3", "v4"} {
		promoteTestVersion(t, store, "demo", v)
	}

	history, err := store.ListHistory(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "v3", history[0].Version)
	assert.Equal(t, "v1", history[2].Version)

	entry, err := store.GetHistoryVersion(ctx, "demo", "v2")
	require.NoError(t, err)
	assert.Equal(t, "/srv/sites/demo/v2", entry.StoragePath)

	_, err = store.GetHistoryVersion(ctx, "demo", "v9")
	assert.ErrorIs(t, err, ErrVersionNotFound)

	_, err = store.ListHistory(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSQLStore_PruneHistory(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2", "v3", "v4"} {
		promoteTestVersion(t, store, "demo", v)
	}

	removed, err := store.PruneHistory(ctx, "demo", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v2", "v1"}, removed)

	history, err := store.ListHistory(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "v3", history[0].Version)

	removed, err = store.PruneHistory(ctx, "demo", 5)
	require.NoError(t, err)
	assert.Empty(t, removed)

	t.Run("current version is never pruned", func(t *testing.T) {
		// Rolling back to v3 leaves v3 both current and in history.
		p, err := store.Promote(ctx, "demo", "v4", testParams("demo", "v3"))
		require.NoError(t, err)
		assert.Equal(t, "v3", p.CurrentVersion)

		removed, err := store.PruneHistory(ctx, "demo", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"v4"}, removed)

		history, err := store.ListHistory(ctx, "demo")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "v3", history[0].Version)
	})

	_, err = store.PruneHistory(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
