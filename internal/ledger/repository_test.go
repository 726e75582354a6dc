package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrisk/valuation-service/internal/database"
	"github.com/finrisk/valuation-service/internal/domain"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: "file::memory:?cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRepository_AppendRejectsNonPositiveQuantity(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	_, err := repo.Append(context.Background(), domain.Buy, "AAPL", 0, 150)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.InvalidInstrument))
}

func TestRepository_AppendAndAll(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	tx1, err := repo.Append(ctx, domain.Buy, "AAPL", 100, 150)
	require.NoError(t, err)
	tx2, err := repo.Append(ctx, domain.Buy, "AAPL", 50, 160)
	require.NoError(t, err)
	tx3, err := repo.Append(ctx, domain.Sell, "AAPL", 120, 0)
	require.NoError(t, err)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, tx1.ID, all[0].ID)
	assert.Equal(t, tx2.ID, all[1].ID)
	assert.Equal(t, tx3.ID, all[2].ID)
}

func TestRepository_RecentOrdersMostRecentFirstAndCaps(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Append(ctx, domain.Buy, "AAPL", 1, 100)
		require.NoError(t, err)
	}

	recent, err := repo.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, all[len(all)-1].ID, recent[0].ID)
}

func TestRepository_ClearAll(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Append(ctx, domain.Buy, "AAPL", 10, 100)
	require.NoError(t, err)

	require.NoError(t, repo.ClearAll(ctx))

	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
