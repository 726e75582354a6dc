package provconfig

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrisk/valuation-service/internal/database"
)

var testDBCounter int

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	testDBCounter++
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:provconfig_test_%d?mode=memory&cache=shared", testDBCounter),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db)
}

func TestBootstrap_SeedsOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Bootstrap(ctx, "https://api.example", "wss://ws.example", "key-1", "secret-1"))

	rec, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example", rec.APIURL)
	assert.Equal(t, "key-1", rec.APIKey)

	// A second bootstrap never overwrites the persisted row.
	require.NoError(t, repo.Bootstrap(ctx, "https://other.example", "wss://other.example", "key-2", "secret-2"))
	rec, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example", rec.APIURL)
	assert.Equal(t, "key-1", rec.APIKey)
}

func TestUpdate_PartialLeavesOtherFieldUntouched(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Bootstrap(ctx, "https://api.example", "wss://ws.example", "key-1", "secret-1"))

	newKey := "key-2"
	rec, err := repo.Update(ctx, &newKey, nil)
	require.NoError(t, err)
	assert.Equal(t, "key-2", rec.APIKey)
	assert.Equal(t, "secret-1", rec.WebhookSecret)
	require.NotNil(t, rec.APIKeyUpdatedAt)
	assert.Nil(t, rec.WebhookSecretUpdatedAt)
}

func TestRedact_HidesSecretValues(t *testing.T) {
	rec := Record{APIURL: "https://api.example", WSURL: "wss://ws.example", APIKey: "key-1"}
	pub := rec.Redact()

	assert.Equal(t, "https://api.example", pub.APIURL)
	assert.True(t, pub.HasAPIKey)
	assert.False(t, pub.HasWebhookSecret)
}
