package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrisk/valuation-service/internal/database"
	"github.com/finrisk/valuation-service/internal/domain"
	"github.com/finrisk/valuation-service/internal/events"
	"github.com/finrisk/valuation-service/internal/instruments"
	"github.com/finrisk/valuation-service/internal/ledger"
)

var testDBCounter int

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	testDBCounter++
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:ingest_test_%d?mode=memory&cache=shared", testDBCounter),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDecodeFrames_Array(t *testing.T) {
	frames, err := decodeFrames([]byte(`[{"symbol":"AAPL","price":190.5},{"symbol":"MSFT","price":410.1}]`))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "AAPL", frames[0].Symbol)
	assert.Equal(t, 410.1, frames[1].Price)
}

func TestDecodeFrames_SingleObjectFallsBackToOneElementSlice(t *testing.T) {
	frames, err := decodeFrames([]byte(`{"symbol":"AAPL","price":190.5}`))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "AAPL", frames[0].Symbol)
}

func TestDecodeFrames_MalformedErrors(t *testing.T) {
	_, err := decodeFrames([]byte(`not json`))
	assert.True(t, domain.IsKind(err, domain.Serialization))
}

func TestCalculateBackoff_DoublesThenCaps(t *testing.T) {
	assert.Equal(t, baseReconnectDelay, calculateBackoff(1))
	assert.Equal(t, 2*baseReconnectDelay, calculateBackoff(2))
	assert.Equal(t, 4*baseReconnectDelay, calculateBackoff(3))
	assert.Equal(t, maxReconnectDelay, calculateBackoff(10))
}

func TestTradeFrame_ToTick_DefaultsTimestampWhenAbsent(t *testing.T) {
	fr := tradeFrame{Symbol: "AAPL", Price: 100}
	tick := fr.toTick()
	assert.Equal(t, "AAPL", tick.Symbol)
	assert.WithinDuration(t, time.Now().UTC(), tick.Timestamp, time.Second)
}

func TestTradeFrame_ToTick_UsesProvidedTimestamp(t *testing.T) {
	millis := int64(1700000000000)
	fr := tradeFrame{Symbol: "AAPL", Price: 100, T: &millis}
	tick := fr.toTick()
	assert.Equal(t, time.UnixMilli(millis).UTC(), tick.Timestamp)
}

func TestRetryBuffer_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.msgpack")
	buf := NewRetryBuffer(path)

	ticks := []domain.TickPoint{
		{Symbol: "AAPL", Price: 190, Timestamp: time.Now().UTC()},
	}
	require.NoError(t, buf.Save(ticks))

	loaded, err := buf.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "AAPL", loaded[0].Symbol)
}

func TestRetryBuffer_LoadMissingFileIsNotAnError(t *testing.T) {
	buf := NewRetryBuffer(filepath.Join(t.TempDir(), "missing.msgpack"))
	loaded, err := buf.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRetryBuffer_SaveEmptyClearsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.msgpack")
	buf := NewRetryBuffer(path)
	require.NoError(t, buf.Save([]domain.TickPoint{{Symbol: "AAPL", Price: 1}}))
	require.NoError(t, buf.Save(nil))

	loaded, err := buf.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFeed_AbsorbBatchPersistsUpsertsAndPublishesSnapshot(t *testing.T) {
	db := newTestDB(t)
	registry := instruments.NewRegistry(db)
	history := instruments.NewHistory(db)
	txLedger := ledger.NewRepository(db)
	snapshotBus := events.NewSnapshotBus(zerolog.Nop())
	tickBus := events.NewTickBus(zerolog.Nop())

	ctx := context.Background()
	_, err := txLedger.Append(ctx, domain.Buy, "AAPL", 10, 100)
	require.NoError(t, err)

	f := New(Config{
		Registry:    registry,
		History:     history,
		Ledger:      txLedger,
		SnapshotBus: snapshotBus,
		TickBus:     tickBus,
		RetryBuffer: NewRetryBuffer(filepath.Join(t.TempDir(), "retry.msgpack")),
		Log:         zerolog.Nop(),
	})

	tickCh, unsubscribe := tickBus.Subscribe()
	defer unsubscribe()

	f.absorbBatch(ctx, []tradeFrame{{Symbol: "AAPL", Price: 190}})

	select {
	case tick := <-tickCh:
		assert.Equal(t, "AAPL", tick.Symbol)
		assert.Equal(t, 190.0, tick.Price)
	case <-time.After(time.Second):
		t.Fatal("expected a tick to be published")
	}

	prices, err := registry.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 190.0, prices["AAPL"])

	since, err := history.Since(ctx, "AAPL", time.Hour)
	require.NoError(t, err)
	require.Len(t, since, 1)

	snap, ok := snapshotBus.Latest()
	require.True(t, ok)
	assert.Equal(t, 1900.0, snap.PortfolioValue)
}

func TestFeed_StateTransitionsStartDisconnected(t *testing.T) {
	f := New(Config{Log: zerolog.Nop(), RetryBuffer: NewRetryBuffer(filepath.Join(t.TempDir(), "retry.msgpack"))})
	assert.Equal(t, Disconnected, f.State())
}
