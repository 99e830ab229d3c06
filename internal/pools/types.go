package pools

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Pool model
// ---------------------------------------------------------------------------

// PoolType classifies the venue mechanics.
type PoolType string

const (
	PoolBondingCurve PoolType = "bonding_curve"
	PoolAMM          PoolType = "amm"
	PoolCLMM         PoolType = "clmm"
)

// PoolInfo is the tracked state of one liquidity pool. Created on first
// discovery, refreshed per poll, discarded when its token is unmonitored.
type PoolInfo struct {
	Address      string          `json:"address"`
	Type         PoolType        `json:"type"`
	TokenMint    string          `json:"token_mint"`
	BaseMint     string          `json:"base_mint"`
	QuoteMint    string          `json:"quote_mint"`
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
	Volume24hUSD decimal.Decimal `json:"volume_24h_usd"`
	Active       bool            `json:"active"`
	FirstSeen    time.Time       `json:"first_seen"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PoolSource fetches the current pools for a token from an external data
// provider. Implementations must be safe for concurrent use.
type PoolSource interface {
	FetchPools(ctx context.Context, tokenMint string) ([]PoolInfo, error)
}

// PoolSourceFunc adapts a function to PoolSource.
type PoolSourceFunc func(ctx context.Context, tokenMint string) ([]PoolInfo, error)

func (f PoolSourceFunc) FetchPools(ctx context.Context, tokenMint string) ([]PoolInfo, error) {
	return f(ctx, tokenMint)
}

// PoolEventType names monitor notifications.
type PoolEventType string

const (
	EventPoolDiscovered  PoolEventType = "pool-discovered"
	EventPoolUpdated     PoolEventType = "pool-updated"
	EventLiquidityChange PoolEventType = "liquidity-change"
	EventPoolInactive    PoolEventType = "pool-inactive"
)

// PoolEvent is one monitor notification.
type PoolEvent struct {
	Type          PoolEventType   `json:"type"`
	Token         string          `json:"token"`
	Pool          PoolInfo        `json:"pool"`
	PrevLiquidity decimal.Decimal `json:"prev_liquidity,omitempty"`
	At            time.Time       `json:"at"`
}

// PendingMigration tracks a detected-but-unconfirmed venue change.
// At most one exists per token at any time.
type PendingMigration struct {
	Token      string    `json:"token"`
	SourcePool string    `json:"source_pool"`
	DestPool   string    `json:"dest_pool"`
	DetectedAt time.Time `json:"detected_at"`
	Confirmed  bool      `json:"confirmed"`
}

// MigrationEvent is a confirmed venue change.
type MigrationEvent struct {
	Token       string    `json:"token"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	DetectedAt  time.Time `json:"detected_at"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
