package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrisk/valuation-service/internal/domain"
)

func TestSnapshotBus_PublishFanOut(t *testing.T) {
	bus := NewSnapshotBus(zerolog.Nop())

	chA, unsubA := bus.Subscribe()
	defer unsubA()
	chB, unsubB := bus.Subscribe()
	defer unsubB()

	snap := domain.PortfolioSnapshot{PortfolioValue: 100}
	bus.Publish(snap)

	for _, ch := range []<-chan domain.PortfolioSnapshot{chA, chB} {
		select {
		case got := <-ch:
			assert.Equal(t, 100.0, got.PortfolioValue)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestSnapshotBus_LatestCachedForNewSubscriber(t *testing.T) {
	bus := NewSnapshotBus(zerolog.Nop())
	_, ok := bus.Latest()
	assert.False(t, ok)

	bus.Publish(domain.PortfolioSnapshot{PortfolioValue: 42})

	got, ok := bus.Latest()
	require.True(t, ok)
	assert.Equal(t, 42.0, got.PortfolioValue)
}

func TestSnapshotBus_SlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	bus := NewSnapshotBus(zerolog.Nop())
	ch, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < snapshotBufferSize+10; i++ {
			bus.Publish(domain.PortfolioSnapshot{PortfolioValue: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	<-ch // drain one so the test doesn't leak a goroutine warning
}

func TestTickBus_PublishFanOut(t *testing.T) {
	bus := NewTickBus(zerolog.Nop())
	ch, unsub := bus.Subscribe()
	defer unsub()

	bus.Publish(domain.TickPoint{Symbol: "AAPL", Price: 123})

	select {
	case got := <-ch:
		assert.Equal(t, "AAPL", got.Symbol)
		assert.Equal(t, 123.0, got.Price)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestTickBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewTickBus(zerolog.Nop())
	ch, unsub := bus.Subscribe()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
}
