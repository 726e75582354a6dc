package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/finrisk/valuation-service/internal/events"
	"github.com/finrisk/valuation-service/internal/risk"
)

// stressScenarios is the fixed scenario set applied on every
// recomputation — a market drop, a volatility spike, and a rate shock,
// matching the three StressType variants the risk engine supports.
var stressScenarios = []risk.StressScenario{
	{Name: "market_drop_20pct", Type: risk.MarketShock, ShockMagnitude: -0.20},
	{Name: "volatility_spike", Type: risk.VolatilityShock, ShockMagnitude: 1.0},
	{Name: "rate_shock_100bps", Type: risk.RateShock, ShockMagnitude: 0.01},
}

// StressTestJob periodically recomputes the fixed stress scenarios
// against the latest published portfolio snapshot. Results aren't
// persisted, since there is no stress-test endpoint to serve them from;
// this is background observability, logged the way a periodic
// system-state check would be.
type StressTestJob struct {
	snapshots *events.SnapshotBus
	risk      *risk.Engine
	log       zerolog.Logger
}

func NewStressTestJob(snapshots *events.SnapshotBus, riskEngine *risk.Engine, log zerolog.Logger) *StressTestJob {
	return &StressTestJob{
		snapshots: snapshots,
		risk:      riskEngine,
		log:       log.With().Str("job", "stress_test").Logger(),
	}
}

func (j *StressTestJob) Name() string { return "stress_test" }

func (j *StressTestJob) Run() error {
	snap, ok := j.snapshots.Latest()
	if !ok {
		j.log.Debug().Msg("no snapshot published yet, skipping stress test recompute")
		return nil
	}

	results := j.risk.StressTest(snap.PortfolioValue, stressScenarios)
	for _, r := range results {
		j.log.Info().
			Str("scenario", r.ScenarioName).
			Float64("base_value", r.BaseValue).
			Float64("stressed_value", r.StressedValue).
			Float64("pnl", r.PnL).
			Float64("pnl_percent", r.PnLPercent).
			Time("snapshot_time", snap.Timestamp).
			Msg("stress test recomputed")
	}
	return nil
}
