package bot

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Stats tracks a bot's cumulative and daily activity. Not safe for
// concurrent use on its own; the owning bot's mutex guards it.
type Stats struct {
	TotalTrades int64           `json:"total_trades"`
	TotalBuys   int64           `json:"total_buys"`
	TotalSells  int64           `json:"total_sells"`
	TotalVolume decimal.Decimal `json:"total_volume"`

	DailyTrades int64           `json:"daily_trades"`
	DailyVolume decimal.Decimal `json:"daily_volume"`

	// SuccessRate is an incrementally updated mean over completed trades.
	SuccessRate float64 `json:"success_rate"`
	Completed   int64   `json:"completed"`

	FeesSpentLamports uint64 `json:"fees_spent_lamports"`

	LastTradeAt time.Time `json:"last_trade_at"`
	LastResetAt time.Time `json:"last_reset_at"`
}

// NewStats returns zeroed stats anchored at now.
func NewStats(now time.Time) Stats {
	return Stats{
		TotalVolume: decimal.Zero,
		DailyVolume: decimal.Zero,
		LastResetAt: now.UTC(),
	}
}

// RecordEmitted accounts for a trade at emission time.
func (s *Stats) RecordEmitted(isBuy bool, size decimal.Decimal, at time.Time) {
	s.TotalTrades++
	s.DailyTrades++
	if isBuy {
		s.TotalBuys++
	} else {
		s.TotalSells++
	}
	s.TotalVolume = s.TotalVolume.Add(size)
	s.DailyVolume = s.DailyVolume.Add(size)
	s.LastTradeAt = at
}

// RecordOutcome folds one completed trade into the success rate and fee
// total. Fee accumulation is overflow-checked; a saturated total is held at
// MaxUint64 and the error reported.
func (s *Stats) RecordOutcome(success bool, feeLamports uint64) error {
	s.Completed++
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	s.SuccessRate += (outcome - s.SuccessRate) / float64(s.Completed)

	total, err := addLamports(s.FeesSpentLamports, feeLamports)
	s.FeesSpentLamports = total
	return err
}

// ResetDaily zeroes the daily counters. Returns the counters as they stood.
func (s *Stats) ResetDaily(now time.Time) (trades int64, volume decimal.Decimal) {
	trades, volume = s.DailyTrades, s.DailyVolume
	s.DailyTrades = 0
	s.DailyVolume = decimal.Zero
	s.LastResetAt = now.UTC()
	return trades, volume
}

// DailyBudgetLeft returns the remaining volume budget under cap.
func (s *Stats) DailyBudgetLeft(cap decimal.Decimal) decimal.Decimal {
	left := cap.Sub(s.DailyVolume)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// sameUTCDay reports whether a and b fall on the same UTC calendar day.
func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// addLamports adds two lamport amounts with overflow detection.
func addLamports(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return math.MaxUint64, fmt.Errorf("lamport accumulator overflow: %d + %d", a, b)
	}
	return a + b, nil
}
