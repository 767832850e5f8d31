package project

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/testutil"
)

// setupTestStore creates a test database and project store for testing.
func setupTestStore(t *testing.T) (*gorm.DB, *SQLStore) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Project{}, &HistoryEntry{})

	log := logger.NewTestLogger()
	store := NewSQLStore(db, log)

	return db, store
}

// promoteTestVersion creates the slot if needed and promotes version on top of
// whatever is current.
func promoteTestVersion(t *testing.T, store *SQLStore, slug, version string) *Project {
	t.Helper()
	ctx := context.Background()

	slot, _, err := store.CreateOrGetSlot(ctx, slug, "")
	require.NoError(t, err)

	p, err := store.Promote(ctx, slug, slot.CurrentVersion, testParams(slug, version))
	require.NoError(t, err)
	return p
}

func testParams(slug, version string) PromoteParams {
	return PromoteParams{
		Version:     version,
		StoragePath: "/srv/sites/" + slug + "/" + version,
		EntryPoint:  "index.html",
		SizeBytes:   int64(len(version)) * 100,
		FileCount:   2,
	}
}
