package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/finrisk/valuation-service/internal/builder"
	appconfig "github.com/finrisk/valuation-service/internal/config"
	"github.com/finrisk/valuation-service/internal/domain"
	"github.com/finrisk/valuation-service/internal/lots"
	"github.com/finrisk/valuation-service/internal/portfolio"
	"github.com/finrisk/valuation-service/internal/valuation"
)

// writeJSON encodes data as the response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes a {"error": message} body at status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondErr translates a domain.Error's Kind into a status code and
// writes it; non-domain errors are 500s.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("request failed")
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		return http.StatusInternalServerError
	}
	switch derr.Kind {
	case domain.InvalidInstrument, domain.Serialization, domain.DateTime:
		return http.StatusBadRequest
	case domain.Portfolio:
		if strings.Contains(derr.Message, "open lots") {
			return http.StatusConflict
		}
		return http.StatusNotFound
	case domain.Network:
		return http.StatusBadGateway
	default: // MarketData, PricingModel, RiskCalculation, Configuration
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewError(domain.Serialization, "decode request body", err)
	}
	return nil
}

// rebuildAndPublish redrives the lot replay and snapshot build from the
// current transaction log and instrument registry and republishes the
// result on the broadcast bus, matching the "mutation -> persist ->
// replay -> rebuild -> publish" data flow every handler-side mutation
// follows.
func (s *Server) rebuildAndPublish(ctx context.Context) error {
	txs, err := s.ledger.All(ctx)
	if err != nil {
		return err
	}
	prices, err := s.registry.Prices(ctx)
	if err != nil {
		return err
	}
	s.snapshotBus.Publish(builder.Build(lots.Replay(txs), prices))
	return nil
}

// openQuantity is the delete guard's OpenQuantityFunc: it replays the
// full log and sums a symbol's remaining lot quantity.
func (s *Server) openQuantity(ctx context.Context, symbol string) (float64, error) {
	txs, err := s.ledger.All(ctx)
	if err != nil {
		return 0, err
	}
	return lots.OpenQuantity(lots.Replay(txs), symbol), nil
}

// handleHealth is GET /health: liveness plus a resource snapshot
// (host memory used %, CPU%, uptime, DB reachability).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Conn.PingContext(ctx); err != nil {
			dbOK = false
		}
	}

	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	memPercent := 0.0
	if err == nil {
		memPercent = memStat.UsedPercent
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !dbOK {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	feedState := ""
	if s.feed != nil {
		feedState = string(s.feed.State())
	}

	s.writeJSON(w, httpStatus, map[string]interface{}{
		"status":      status,
		"uptime_s":    time.Since(s.start).Seconds(),
		"db_ok":       dbOK,
		"cpu_percent": cpuPercent[0],
		"mem_percent": memPercent,
		"feed_state":  feedState,
	})
}

// handleGetPortfolio is GET /portfolio: the cached latest snapshot, or a
// freshly built one if nothing has been published yet (e.g. an empty
// ledger at process start).
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshotBus.Latest(); ok {
		s.writeJSON(w, http.StatusOK, snap)
		return
	}
	txs, err := s.ledger.All(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	prices, err := s.registry.Prices(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, builder.Build(lots.Replay(txs), prices))
}

// --- Declarative "legacy path" positions ---

type addPositionRequest struct {
	InstrumentID string   `json:"instrument_id"`
	Quantity     float64  `json:"quantity"`
	AvgCost      *float64 `json:"avg_cost,omitempty"`
}

func (s *Server) handleAddPosition(w http.ResponseWriter, r *http.Request) {
	var req addPositionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InstrumentID == "" || req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "instrument_id and a positive quantity are required")
		return
	}
	pos := s.positions.add(req.InstrumentID, req.Quantity, req.AvgCost)
	s.writeJSON(w, http.StatusCreated, pos)
}

func (s *Server) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Quantity float64 `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pos, ok := s.positions.update(id, req.Quantity)
	if !ok {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	s.writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleDeletePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.positions.remove(id) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// valuePositions runs the declarative position set through the portfolio
// valuator, pricing every referenced instrument as a Stock at its
// instrument registry price. Valuator.Value takes a single MarketContext
// per call, so the representative spot is the mean current price across
// the positions' distinct instruments.
func (s *Server) valuePositions(ctx context.Context) (portfolio.Valuation, error) {
	legacy := s.positions.all()
	if len(legacy) == 0 {
		return portfolio.Valuation{}, nil
	}

	prices, err := s.registry.Prices(ctx)
	if err != nil {
		return portfolio.Valuation{}, err
	}

	positions := make([]portfolio.Position, len(legacy))
	instruments := make(map[string]domain.Instrument, len(legacy))
	var priceSum float64
	var priceCount int
	for i, p := range legacy {
		positions[i] = portfolio.Position{ID: p.ID, InstrumentID: p.InstrumentID, Quantity: p.Quantity, AvgCost: p.AvgCost}
		if _, ok := instruments[p.InstrumentID]; !ok {
			instruments[p.InstrumentID] = &domain.Stock{IDValue: p.InstrumentID, Symbol: p.InstrumentID, Curr: "USD", Shares: 1}
		}
		if price, ok := prices[p.InstrumentID]; ok {
			priceSum += price
			priceCount++
		}
	}
	spot := 0.0
	if priceCount > 0 {
		spot = priceSum / float64(priceCount)
	}

	mctx := domain.MarketContext{RiskFreeRate: 0.04, SpotPrice: &spot, Timestamp: time.Now().UTC()}
	return s.portfolioValuer.Value(positions, instruments, valuation.NewAnalyticValuator(), mctx, "USD")
}

func (s *Server) handlePortfolioRisk(w http.ResponseWriter, r *http.Request) {
	val, err := s.valuePositions(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, val.RiskMetrics)
}

func (s *Server) handlePortfolioPerformance(w http.ResponseWriter, r *http.Request) {
	val, err := s.valuePositions(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, val.Performance)
}

// --- Transaction log ---

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.Recent(r.Context(), 200)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

type addTransactionRequest struct {
	Kind     string  `json:"type"`
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req addTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := domain.TransactionKind(strings.ToUpper(req.Kind))
	if kind != domain.Buy && kind != domain.Sell {
		writeError(w, http.StatusBadRequest, "type must be BUY or SELL")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	tx, err := s.ledger.Append(r.Context(), kind, strings.ToUpper(req.Symbol), req.Quantity, req.Price)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.rebuildAndPublish(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("failed to rebuild snapshot after transaction")
	}
	s.writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleClearTransactions(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.ClearAll(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.rebuildAndPublish(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("failed to rebuild snapshot after clearing transactions")
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Instrument registry / tick history ---

func (s *Server) handleGetInstruments(w http.ResponseWriter, r *http.Request) {
	rows, err := s.registry.List(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

type upsertInstrumentRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func (s *Server) handleUpsertInstrument(w http.ResponseWriter, r *http.Request) {
	var req upsertInstrumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	symbol := strings.ToUpper(req.Symbol)
	if err := s.registry.Upsert(r.Context(), symbol, req.Price); err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.rebuildAndPublish(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("failed to rebuild snapshot after instrument upsert")
	}
	s.writeJSON(w, http.StatusOK, domain.InstrumentQuote{Symbol: symbol, Price: req.Price})
}

func (s *Server) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if err := s.registry.Delete(r.Context(), symbol, s.openQuantity); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInstrumentHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}
	ticks, err := s.history.Since(r.Context(), symbol, time.Duration(days)*24*time.Hour)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticks)
}

func (s *Server) handleSubscribeInstrument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	symbol := strings.ToUpper(req.Symbol)

	prices, err := s.registry.Prices(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if _, exists := prices[symbol]; !exists {
		if err := s.registry.Upsert(r.Context(), symbol, 0); err != nil {
			s.respondErr(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"symbol": symbol, "status": "subscribed"})
}

// --- Provider symbol catalog ---

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	if s.finnhub == nil {
		writeError(w, http.StatusServiceUnavailable, "market data provider not configured")
		return
	}
	symbols, err := s.finnhub.Symbols(r.Context(), s.cfg.FinnhubAPIKey, r.URL.Query().Get("exchange"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, symbols)
}

func (s *Server) handleSearchSymbols(w http.ResponseWriter, r *http.Request) {
	if s.finnhub == nil {
		writeError(w, http.StatusServiceUnavailable, "market data provider not configured")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	symbols, err := s.finnhub.Search(r.Context(), s.cfg.FinnhubAPIKey, q, r.URL.Query().Get("exchange"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, symbols)
}

// --- Admin provider config ---

func (s *Server) handleGetProviderConfig(w http.ResponseWriter, r *http.Request) {
	rec, err := s.providerConfig.Get(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec.Redact())
}

type updateProviderConfigRequest struct {
	APIKey        *string `json:"api_key,omitempty"`
	WebhookSecret *string `json:"webhook_secret,omitempty"`
}

func (s *Server) handleUpdateProviderConfig(w http.ResponseWriter, r *http.Request) {
	var req updateProviderConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.providerConfig.Update(r.Context(), req.APIKey, req.WebhookSecret)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.cfg.ApplyOverride(appconfig.ProviderConfigOverride{APIKey: req.APIKey, WebhookSecret: req.WebhookSecret})
	s.writeJSON(w, http.StatusOK, rec.Redact())
}
