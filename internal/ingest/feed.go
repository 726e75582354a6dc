// Package ingest implements a reconnecting
// WebSocket client that subscribes to every symbol in the Instrument
// Registry, appends each trade print to Tick History, upserts the
// Instrument Registry's latest price, and republishes a rebuilt
// PortfolioSnapshot once a batch of frames has been absorbed.
package ingest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/finrisk/valuation-service/internal/builder"
	"github.com/finrisk/valuation-service/internal/domain"
	"github.com/finrisk/valuation-service/internal/events"
	"github.com/finrisk/valuation-service/internal/instruments"
	"github.com/finrisk/valuation-service/internal/ledger"
	"github.com/finrisk/valuation-service/internal/lots"
)

// State is where the feed sits in the connection state machine:
// Disconnected -> Connecting -> Subscribing -> Streaming -> Disconnected.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Subscribing  State = "subscribing"
	Streaming    State = "streaming"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	// Reconnection starts fast and backs off to a 30s ceiling, reset to
	// the base on every successful connection.
	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 30 * time.Second
)

// createHTTP1Client forces HTTP/1.1 over TLS ALPN. A provider fronted by
// Cloudflare will otherwise negotiate HTTP/2, which doesn't support the
// WebSocket upgrade handshake.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// tradeFrame is one print off the wire: {"symbol": "AAPL", "price": 190.2,
// "t": 1700000000000}. T is an optional unix-millisecond timestamp; when
// absent the frame is stamped with the time it was received.
type tradeFrame struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	T      *int64  `json:"t,omitempty"`
}

// Feed is the long-lived market-data consumer.
type Feed struct {
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	registry    *instruments.Registry
	history     *instruments.History
	ledger      *ledger.Repository
	snapshotBus *events.SnapshotBus
	tickBus     *events.TickBus
	retryBuf    *RetryBuffer

	log zerolog.Logger

	stateMu sync.RWMutex
	state   State

	stopChan chan struct{}
	stopped  bool

	pendingMu sync.Mutex
	pending   []domain.TickPoint
}

// Config bundles the Feed's collaborators.
type Config struct {
	URL         string
	Registry    *instruments.Registry
	History     *instruments.History
	Ledger      *ledger.Repository
	SnapshotBus *events.SnapshotBus
	TickBus     *events.TickBus
	RetryBuffer *RetryBuffer
	Log         zerolog.Logger
}

// New constructs a Feed from cfg.
func New(cfg Config) *Feed {
	return &Feed{
		url:         cfg.URL,
		httpClient:  createHTTP1Client(),
		registry:    cfg.Registry,
		history:     cfg.History,
		ledger:      cfg.Ledger,
		snapshotBus: cfg.SnapshotBus,
		tickBus:     cfg.TickBus,
		retryBuf:    cfg.RetryBuffer,
		log:         cfg.Log.With().Str("component", "ingest_feed").Logger(),
		state:       Disconnected,
		stopChan:    make(chan struct{}),
	}
}

func (f *Feed) setState(s State) {
	f.stateMu.Lock()
	f.state = s
	f.stateMu.Unlock()
}

// State reports the feed's current connection state.
func (f *Feed) State() State {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state
}

// Start runs the connect/stream/reconnect loop until ctx is cancelled or
// Stop is called. It replays any ticks left in the retry buffer from a
// previous run before dialing.
func (f *Feed) Start(ctx context.Context) {
	f.replayRetryBuffer(ctx)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			f.setState(Disconnected)
			return
		case <-f.stopChan:
			f.setState(Disconnected)
			return
		default:
		}

		connected, err := f.connectAndStream(ctx)
		if err != nil {
			f.log.Warn().Err(err).Int("attempt", attempt+1).Msg("ingest feed connection ended")
		}

		// A successful connection resets the backoff; a failed dial keeps
		// climbing.
		if connected {
			attempt = 0
		}
		attempt++
		delay := calculateBackoff(attempt)
		f.log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnecting to feed")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			f.setState(Disconnected)
			return
		case <-f.stopChan:
			f.setState(Disconnected)
			return
		}
	}
}

// Stop signals the feed to stop reconnecting and closes any open
// connection.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.mu.Unlock()
	close(f.stopChan)
	f.disconnect()
}

// connectAndStream dials, subscribes to every known symbol, and reads
// frames until the connection drops or the context is cancelled. The
// returned bool reports whether the dial succeeded, which Start uses to
// decide whether to reset its backoff counter.
func (f *Feed) connectAndStream(ctx context.Context) (bool, error) {
	f.setState(Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, f.url, &websocket.DialOptions{HTTPClient: f.httpClient})
	if err != nil {
		return false, domain.NewError(domain.Network, "dial feed", err)
	}

	connCtx, connCancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.conn = conn
	f.connCtx = connCtx
	f.cancelFunc = connCancel
	f.mu.Unlock()
	defer f.disconnect()

	f.setState(Subscribing)
	symbols, err := f.subscribe(connCtx)
	if err != nil {
		return true, err
	}
	f.log.Info().Strs("symbols", symbols).Msg("subscribed to feed")

	f.setState(Streaming)
	_, err = f.readLoop(connCtx)
	return true, err
}

// subscribe sends a subscription frame naming every symbol currently in
// the instrument registry.
func (f *Feed) subscribe(ctx context.Context) ([]string, error) {
	rows, err := f.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(rows))
	for _, row := range rows {
		symbols = append(symbols, row.Symbol)
	}

	data, err := json.Marshal(map[string]any{"action": "subscribe", "symbols": symbols})
	if err != nil {
		return nil, domain.NewError(domain.Serialization, "marshal subscribe frame", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return nil, domain.NewError(domain.Network, "no active connection", nil)
	}
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return nil, domain.NewError(domain.Network, "write subscribe frame", err)
	}
	return symbols, nil
}

// readLoop reads frames until the connection closes. Each read may carry
// a batch of trade frames (a JSON array); once a batch is fully absorbed
// the lot engine is replayed and a fresh snapshot published, coalescing
// what would otherwise be one publish per tick.
func (f *Feed) readLoop(ctx context.Context) (bool, error) {
	streamed := false
	for {
		select {
		case <-f.stopChan:
			return streamed, nil
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return streamed, domain.NewError(domain.Network, "connection closed", nil)
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				f.log.Info().Msg("feed closed normally")
				return streamed, nil
			}
			if ctx.Err() != nil {
				return streamed, nil
			}
			return streamed, domain.NewError(domain.Network, "read feed frame", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		frames, err := decodeFrames(message)
		if err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed frame batch")
			continue
		}
		if len(frames) == 0 {
			continue
		}

		f.absorbBatch(ctx, frames)
		streamed = true
	}
}

func decodeFrames(message []byte) ([]tradeFrame, error) {
	var frames []tradeFrame
	if err := json.Unmarshal(message, &frames); err == nil {
		return frames, nil
	}
	var single tradeFrame
	if err := json.Unmarshal(message, &single); err != nil {
		return nil, domain.NewError(domain.Serialization, "decode trade frame", err)
	}
	return []tradeFrame{single}, nil
}

// absorbBatch persists every frame in the batch plus anything still
// pending from an earlier failed batch, then rebuilds and publishes one
// snapshot. A tick that fails to persist stays in the pending set and is
// retried on the next batch and across restarts, rather than being
// dropped.
func (f *Feed) absorbBatch(ctx context.Context, frames []tradeFrame) {
	f.pendingMu.Lock()
	toTry := make([]domain.TickPoint, len(f.pending), len(f.pending)+len(frames))
	copy(toTry, f.pending)
	f.pendingMu.Unlock()
	for _, fr := range frames {
		toTry = append(toTry, fr.toTick())
	}

	var failed []domain.TickPoint
	for _, tick := range toTry {
		if err := f.persistTick(ctx, tick); err != nil {
			f.log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("failed to persist tick, buffering for retry")
			failed = append(failed, tick)
			continue
		}
		f.tickBus.Publish(tick)
	}

	f.pendingMu.Lock()
	f.pending = failed
	f.pendingMu.Unlock()
	if err := f.retryBuf.Save(failed); err != nil {
		f.log.Error().Err(err).Msg("failed to persist retry buffer")
	}

	f.rebuildAndPublish(ctx)
}

func (f *Feed) persistTick(ctx context.Context, tick domain.TickPoint) error {
	if err := f.history.Append(ctx, tick); err != nil {
		return err
	}
	return f.registry.Upsert(ctx, tick.Symbol, tick.Price)
}

// rebuildAndPublish redrives the lot replay and snapshot build from
// current state and publishes the result on the snapshot bus.
func (f *Feed) rebuildAndPublish(ctx context.Context) {
	transactions, err := f.ledger.All(ctx)
	if err != nil {
		f.log.Error().Err(err).Msg("failed to load transactions for snapshot rebuild")
		return
	}
	prices, err := f.registry.Prices(ctx)
	if err != nil {
		f.log.Error().Err(err).Msg("failed to load prices for snapshot rebuild")
		return
	}
	snap := builder.Build(lots.Replay(transactions), prices)
	f.snapshotBus.Publish(snap)
}

// replayRetryBuffer loads ticks left over from a previous run as the
// initial pending set, then attempts to flush them immediately so a
// restart doesn't wait for the next live batch to recover them.
func (f *Feed) replayRetryBuffer(ctx context.Context) {
	pending, err := f.retryBuf.Load()
	if err != nil {
		f.log.Warn().Err(err).Msg("failed to load retry buffer")
		return
	}
	if len(pending) == 0 {
		return
	}
	f.pendingMu.Lock()
	f.pending = pending
	f.pendingMu.Unlock()
	f.absorbBatch(ctx, nil)
}

func (f *Feed) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelFunc != nil {
		f.cancelFunc()
		f.cancelFunc = nil
	}
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "")
		f.conn = nil
	}
	f.connCtx = nil
	f.setStateLocked(Disconnected)
}

func (f *Feed) setStateLocked(s State) {
	f.stateMu.Lock()
	f.state = s
	f.stateMu.Unlock()
}

func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

func (fr tradeFrame) toTick() domain.TickPoint {
	ts := time.Now().UTC()
	if fr.T != nil {
		ts = time.UnixMilli(*fr.T).UTC()
	}
	return domain.TickPoint{Symbol: fr.Symbol, Price: fr.Price, Timestamp: ts}
}
