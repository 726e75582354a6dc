package domain

import "time"

// TransactionKind is the side of a ledger entry.
type TransactionKind string

const (
	Buy  TransactionKind = "BUY"
	Sell TransactionKind = "SELL"
)

// Transaction is an immutable, append-only ledger entry. The total order
// over a symbol's transactions is (Timestamp, ID); ID is assigned at
// insert time so same-millisecond entries still resolve deterministically.
type Transaction struct {
	ID        string          `json:"id"`
	Kind      TransactionKind `json:"type"`
	Symbol    string          `json:"symbol"`
	Quantity  float64         `json:"quantity"`
	Price     float64         `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// InstrumentQuote is the latest observed price for a symbol, upserted by
// ingest or by an admin action.
type InstrumentQuote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// TickPoint is a single trade print from the feed. Append-only, never
// mutated or de-duplicated (duplicate rows at an identical
// (Symbol, Price, Timestamp) are permitted under at-least-once ingest).
type TickPoint struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"ts"`
}

// Lot is an open FIFO parcel, derived state only: it is always a pure
// function of a Transaction Log prefix and is never persisted.
type Lot struct {
	Symbol       string
	RemainingQty float64
	UnitCost     float64
}

// Position is a lot joined with its instrument's current price.
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Value      float64 `json:"value"`
	AvgCost    float64 `json:"avg_cost"`
	PnL        float64 `json:"pnl"`
	PnLPercent float64 `json:"pnl_percent"`
}

// PortfolioSnapshot is a point-in-time view published on the broadcast
// bus and cached as the latest known state.
type PortfolioSnapshot struct {
	Timestamp      time.Time  `json:"t"`
	PortfolioValue float64    `json:"portfolio_value"`
	Positions      []Position `json:"positions"`
}

// MarketContext is the input to the valuation kernel for a single pricing
// call. DividendYield, Volatility, and SpotPrice are optional because a
// Stock valuation doesn't need them; an Option valuation requires them.
type MarketContext struct {
	RiskFreeRate  float64            `json:"risk_free_rate"`
	DividendYield *float64           `json:"dividend_yield,omitempty"`
	Volatility    *float64           `json:"volatility,omitempty"`
	SpotPrice     *float64           `json:"spot_price,omitempty"`
	YieldCurve    map[string]float64 `json:"yield_curve,omitempty"`
	ForwardCurve  map[string]float64 `json:"forward_curve,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// InstrumentType tags the polymorphic instrument variant the kernel
// dispatches on. Only Stock and Option have registered pricers; the rest
// are declared so the variant stays open for future pricers.
type InstrumentType string

const (
	InstrumentStock   InstrumentType = "Stock"
	InstrumentBond    InstrumentType = "Bond"
	InstrumentOption  InstrumentType = "Option"
	InstrumentFuture  InstrumentType = "Future"
	InstrumentSwap    InstrumentType = "Swap"
	InstrumentForward InstrumentType = "Forward"
)

// OptionKind is Call or Put.
type OptionKind string

const (
	Call OptionKind = "Call"
	Put  OptionKind = "Put"
)

// ExerciseStyle constrains when an option may be exercised. Only European
// is priced by this service; the others are declared so a caller gets a
// PricingModel error rather than a silently wrong price.
type ExerciseStyle string

const (
	European ExerciseStyle = "European"
	American ExerciseStyle = "American"
	Bermudan ExerciseStyle = "Bermudan"
)

// Instrument is the capability set the valuation kernel needs from any
// priceable instrument, independent of its concrete type.
type Instrument interface {
	ID() string
	Type() InstrumentType
	Currency() string
	Maturity() *time.Time
	Notional() float64
}

// Stock is the simplest instrument: notional is the share count, no
// maturity, no Greeks.
type Stock struct {
	IDValue string
	Symbol  string
	Curr    string
	Shares  float64
}

func (s *Stock) ID() string           { return s.IDValue }
func (s *Stock) Type() InstrumentType { return InstrumentStock }
func (s *Stock) Currency() string     { return s.Curr }
func (s *Stock) Maturity() *time.Time { return nil }
func (s *Stock) Notional() float64    { return s.Shares }

// Option is a European (or, tagged but unsupported, American/Bermudan)
// option on an underlying symbol.
type Option struct {
	IDValue       string
	Underlying    string
	Curr          string
	Kind          OptionKind
	Strike        float64
	Expiry        time.Time
	Quantity      float64
	ExerciseStyle ExerciseStyle
}

func (o *Option) ID() string           { return o.IDValue }
func (o *Option) Type() InstrumentType { return InstrumentOption }
func (o *Option) Currency() string     { return o.Curr }
func (o *Option) Maturity() *time.Time { t := o.Expiry; return &t }
func (o *Option) Notional() float64    { return o.Quantity }

// Greeks are the analytic sensitivities of an option's value to market
// parameters. All are zero when time to expiry is non-positive.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// RiskMetrics bundles the risk figures attached to a single valuation
// result.
type RiskMetrics struct {
	VaR1D             *float64 `json:"var_1d,omitempty"`
	VaR10D            *float64 `json:"var_10d,omitempty"`
	ExpectedShortfall *float64 `json:"expected_shortfall,omitempty"`
	Volatility        *float64 `json:"volatility,omitempty"`
}

// ValuationResult is what a Valuator returns for a single instrument.
type ValuationResult struct {
	InstrumentID string       `json:"instrument_id"`
	Value        float64      `json:"value"`
	Currency     string       `json:"currency"`
	Timestamp    time.Time    `json:"timestamp"`
	Confidence   float64      `json:"confidence"`
	Greeks       *Greeks      `json:"greeks,omitempty"`
	RiskMetrics  *RiskMetrics `json:"risk_metrics,omitempty"`
}
