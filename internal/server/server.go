// Package server implements the HTTP transport: a thin chi layer that
// parses requests, delegates to the core subsystems, translates
// domain.Error kinds to status codes, and encodes JSON responses.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appconfig "github.com/finrisk/valuation-service/internal/config"
	"github.com/finrisk/valuation-service/internal/database"
	"github.com/finrisk/valuation-service/internal/events"
	"github.com/finrisk/valuation-service/internal/finnhub"
	"github.com/finrisk/valuation-service/internal/ingest"
	"github.com/finrisk/valuation-service/internal/instruments"
	"github.com/finrisk/valuation-service/internal/ledger"
	"github.com/finrisk/valuation-service/internal/portfolio"
	"github.com/finrisk/valuation-service/internal/provconfig"
	"github.com/finrisk/valuation-service/internal/risk"
)

// Config holds the Server's collaborators: every core subsystem it
// fronts, plus the ambient pieces (logger, app config, port).
type Config struct {
	Port int
	Log  zerolog.Logger
	DB   *database.DB

	Ledger      *ledger.Repository
	Registry    *instruments.Registry
	History     *instruments.History
	SnapshotBus *events.SnapshotBus
	TickBus     *events.TickBus
	Feed        *ingest.Feed

	RiskEngine      *risk.Engine
	PortfolioValuer *portfolio.Valuator

	ProviderConfig *provconfig.Repository
	FinnhubClient  *finnhub.Client

	Config  *appconfig.Config
	DevMode bool
}

// Server is the HTTP transport over the core subsystems.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	port   int
	start  time.Time

	db          *database.DB
	ledger      *ledger.Repository
	registry    *instruments.Registry
	history     *instruments.History
	snapshotBus *events.SnapshotBus
	tickBus     *events.TickBus
	feed        *ingest.Feed

	riskEngine      *risk.Engine
	portfolioValuer *portfolio.Valuator

	providerConfig *provconfig.Repository
	finnhub        *finnhub.Client

	cfg *appconfig.Config

	positions *positionStore
}

// New builds a Server wired to cfg's collaborators and registers every
// route in the HTTP surface.
func New(cfg Config) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		log:             cfg.Log.With().Str("component", "server").Logger(),
		port:            cfg.Port,
		start:           time.Now().UTC(),
		db:              cfg.DB,
		ledger:          cfg.Ledger,
		registry:        cfg.Registry,
		history:         cfg.History,
		snapshotBus:     cfg.SnapshotBus,
		tickBus:         cfg.TickBus,
		feed:            cfg.Feed,
		riskEngine:      cfg.RiskEngine,
		portfolioValuer: cfg.PortfolioValuer,
		providerConfig:  cfg.ProviderConfig,
		finnhub:         cfg.FinnhubClient,
		cfg:             cfg.Config,
		positions:       newPositionStore(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // no write deadline: SSE streams stay open until the client disconnects
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Get("/portfolio", s.handleGetPortfolio)
	s.router.Post("/portfolio/positions", s.handleAddPosition)
	s.router.Put("/portfolio/positions/{id}", s.handleUpdatePosition)
	s.router.Delete("/portfolio/positions/{id}", s.handleDeletePosition)
	s.router.Get("/portfolio/analysis/risk", s.handlePortfolioRisk)
	s.router.Get("/portfolio/analysis/performance", s.handlePortfolioPerformance)

	s.router.Get("/transactions", s.handleGetTransactions)
	s.router.Post("/transactions", s.handleAddTransaction)
	s.router.Delete("/transactions", s.handleClearTransactions)

	s.router.Get("/instruments", s.handleGetInstruments)
	s.router.Post("/instruments", s.handleUpsertInstrument)
	s.router.Delete("/instruments/{symbol}", s.handleDeleteInstrument)
	s.router.Get("/instruments/{symbol}/history", s.handleInstrumentHistory)
	s.router.Post("/instruments/subscribe", s.handleSubscribeInstrument)

	s.router.Get("/symbols", s.handleGetSymbols)
	s.router.Get("/symbols/search", s.handleSearchSymbols)

	s.router.Get("/admin/provider-config", s.handleGetProviderConfig)
	s.router.Put("/admin/provider-config", s.handleUpdateProviderConfig)

	s.router.Get("/stream", s.handleSnapshotStream)
	s.router.Get("/price-stream", s.handlePriceStream)
}

// Start begins serving HTTP requests; blocks until the listener fails.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// positionStore holds the declarative "legacy path" position list:
// not persisted, since the schema has no table for it — it exists
// purely so the portfolio valuator and risk engine have an HTTP entry
// point distinct from the ledger-driven FIFO lots.
type positionStore struct {
	mu        sync.RWMutex
	positions map[string]portfolio.Position
}

func newPositionStore() *positionStore {
	return &positionStore{positions: make(map[string]portfolio.Position)}
}

func (p *positionStore) add(instrumentID string, quantity float64, avgCost *float64) portfolio.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := portfolio.Position{
		ID:           uuid.NewString(),
		InstrumentID: instrumentID,
		Quantity:     quantity,
		AvgCost:      avgCost,
	}
	p.positions[pos.ID] = pos
	return pos
}

func (p *positionStore) update(id string, quantity float64) (portfolio.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[id]
	if !ok {
		return portfolio.Position{}, false
	}
	pos.Quantity = quantity
	p.positions[id] = pos
	return pos, true
}

func (p *positionStore) remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.positions[id]; !ok {
		return false
	}
	delete(p.positions, id)
	return true
}

func (p *positionStore) all() []portfolio.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]portfolio.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out
}
