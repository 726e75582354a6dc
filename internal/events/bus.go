// Package events implements a multi-producer, multi-subscriber fan-out
// for PortfolioSnapshot values, plus a parallel bus for per-symbol tick
// events, each logging dropped sends over a subscriber registry.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/finrisk/valuation-service/internal/domain"
)

// snapshotBufferSize bounds each subscriber's channel. A slow subscriber
// that falls behind misses intermediate snapshots rather than blocking
// the publisher — snapshots are self-contained, so this is "latest-wins"
// semantics.
const snapshotBufferSize = 4

// SnapshotBus fans PortfolioSnapshot values out to subscribers. The most
// recent snapshot is cached so a new subscriber gets an immediate
// baseline on connect: it receives exactly one initial snapshot
// reflecting a state at or before its connect time.
type SnapshotBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan domain.PortfolioSnapshot
	nextID      int
	latest      *domain.PortfolioSnapshot
	log         zerolog.Logger
}

func NewSnapshotBus(log zerolog.Logger) *SnapshotBus {
	return &SnapshotBus{
		subscribers: make(map[int]chan domain.PortfolioSnapshot),
		log:         log.With().Str("component", "snapshot_bus").Logger(),
	}
}

// Publish broadcasts a snapshot to every subscriber and caches it as the
// latest known state. Sends are non-blocking: a full subscriber channel
// drops the snapshot rather than stalling the publisher. Sending while
// holding the lock keeps an unsubscribing client from closing its
// channel mid-send.
func (b *SnapshotBus) Publish(snap domain.PortfolioSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = &snap
	for _, ch := range b.subscribers {
		select {
		case ch <- snap:
		default:
			b.log.Warn().Msg("subscriber channel full, dropping snapshot")
		}
	}
}

// Latest returns the cached snapshot, or false if none has been
// published yet.
func (b *SnapshotBus) Latest() (domain.PortfolioSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return domain.PortfolioSnapshot{}, false
	}
	return *b.latest, true
}

// Subscribe registers a new subscriber and returns its channel and an
// unsubscribe function the caller must invoke on disconnect.
func (b *SnapshotBus) Subscribe() (<-chan domain.PortfolioSnapshot, func()) {
	ch := make(chan domain.PortfolioSnapshot, snapshotBufferSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// tickBufferSize is larger than the snapshot bus's: ticks arrive far
// more frequently than rebuilt snapshots and a /price-stream client
// tolerates a slightly deeper queue before ticks start being dropped.
const tickBufferSize = 64

// TickBus fans individual TickPoint events out to per-symbol subscribers
// (GET /price-stream), independent of the snapshot bus.
type TickBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan domain.TickPoint
	nextID      int
	log         zerolog.Logger
}

func NewTickBus(log zerolog.Logger) *TickBus {
	return &TickBus{
		subscribers: make(map[int]chan domain.TickPoint),
		log:         log.With().Str("component", "tick_bus").Logger(),
	}
}

func (b *TickBus) Publish(tick domain.TickPoint) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- tick:
		default:
			b.log.Warn().Str("symbol", tick.Symbol).Msg("tick subscriber channel full, dropping tick")
		}
	}
}

func (b *TickBus) Subscribe() (<-chan domain.TickPoint, func()) {
	ch := make(chan domain.TickPoint, tickBufferSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}
