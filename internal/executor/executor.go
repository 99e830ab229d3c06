package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/dist"
	"github.com/swarm-trading/swarm/internal/errs"
	"github.com/swarm-trading/swarm/internal/queue"
)

// ---------------------------------------------------------------------------
// Trade Executor
// The boundary to the swap execution service. This core never constructs,
// signs, or broadcasts transactions; it hands a SwapRequest across and
// receives a receipt.
// ---------------------------------------------------------------------------

// SwapRequest is one swap handed to the execution service.
type SwapRequest struct {
	Wallet              string          `json:"wallet"`
	Token               string          `json:"token"`
	Direction           string          `json:"direction"` // buy|sell
	Amount              decimal.Decimal `json:"amount"`
	SlippageBps         int             `json:"slippage_bps"`
	PriorityFeeLamports uint64          `json:"priority_fee_lamports"`
}

// SwapReceipt reports a completed swap.
type SwapReceipt struct {
	Signature   string    `json:"signature"`
	FeeLamports uint64    `json:"fee_lamports"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// TradeExecutor executes swaps.
// Implementations: a live execution-service client, StubExecutor (dry-run
// and tests).
type TradeExecutor interface {
	ExecuteSwap(ctx context.Context, req SwapRequest) (SwapReceipt, error)
}

// ---------------------------------------------------------------------------
// Stub executor
// ---------------------------------------------------------------------------

// StubExecutor simulates the execution service. Failure injection is
// either deterministic (FailNext) or probabilistic (FailureRate with a
// seeded sampler).
type StubExecutor struct {
	mu          sync.Mutex
	swaps       []SwapRequest
	failNext    int
	failureRate float64
	sampler     *dist.Sampler
	latency     time.Duration
	baseFee     uint64
}

// NewStubExecutor creates a stub with a fixed per-swap fee.
func NewStubExecutor(seed int64) *StubExecutor {
	return &StubExecutor{
		sampler: dist.NewSampler(seed),
		baseFee: 5000,
	}
}

// SetLatency makes every swap take d before returning.
func (s *StubExecutor) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// SetFailureRate makes the given fraction of swaps fail.
func (s *StubExecutor) SetFailureRate(rate float64) {
	s.mu.Lock()
	s.failureRate = rate
	s.mu.Unlock()
}

// FailNext makes the next n swaps fail.
func (s *StubExecutor) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// Swaps returns every executed request.
func (s *StubExecutor) Swaps() []SwapRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SwapRequest(nil), s.swaps...)
}

// ExecuteSwap implements TradeExecutor.
func (s *StubExecutor) ExecuteSwap(ctx context.Context, req SwapRequest) (SwapReceipt, error) {
	s.mu.Lock()
	latency := s.latency
	fail := false
	if s.failNext > 0 {
		s.failNext--
		fail = true
	} else if s.failureRate > 0 && s.sampler.Bernoulli(s.failureRate) {
		fail = true
	}
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return SwapReceipt{}, ctx.Err()
		case <-time.After(latency):
		}
	}

	if fail {
		return SwapReceipt{}, fmt.Errorf("stub: simulated swap failure for %s", req.Wallet)
	}

	s.mu.Lock()
	s.swaps = append(s.swaps, req)
	s.mu.Unlock()

	return SwapReceipt{
		Signature:   uuid.New().String(),
		FeeLamports: s.baseFee + req.PriorityFeeLamports,
		ExecutedAt:  time.Now(),
	}, nil
}

// ---------------------------------------------------------------------------
// Queue processor adapter
// ---------------------------------------------------------------------------

// Reporter receives trade completions back from the processor. Implemented
// by the bot lifecycle manager.
type Reporter interface {
	TradeCompleted(botID string, success bool, feeLamports uint64)
}

// SwapProcessor adapts a TradeExecutor into the queue's swap task
// processor. Execution failures come back as transient errors so the
// queue's retry policy applies.
func SwapProcessor(exec TradeExecutor, reporter Reporter) queue.Processor {
	return func(ctx context.Context, task *queue.Task) error {
		var payload queue.SwapPayload
		if err := task.UnmarshalPayload(&payload); err != nil {
			return fmt.Errorf("decode swap payload: %w", err)
		}
		amount, err := decimal.NewFromString(payload.Amount)
		if err != nil {
			return fmt.Errorf("parse swap amount %q: %w", payload.Amount, err)
		}

		receipt, err := exec.ExecuteSwap(ctx, SwapRequest{
			Wallet:              payload.Wallet,
			Token:               payload.Token,
			Direction:           payload.Direction,
			Amount:              amount,
			SlippageBps:         payload.SlippageBps,
			PriorityFeeLamports: payload.PriorityFee,
		})
		if err != nil {
			if reporter != nil && task.BotID != "" && task.Retries+1 >= task.MaxRetries {
				// Final attempt: the bot hears about the failure once.
				reporter.TradeCompleted(task.BotID, false, 0)
			}
			return &errs.TransientExecutionError{TaskID: task.ID, Attempt: task.Retries + 1, Err: err}
		}

		if reporter != nil && task.BotID != "" {
			reporter.TradeCompleted(task.BotID, true, receipt.FeeLamports)
		}
		log.Debug().
			Str("task", task.ID).
			Str("wallet", payload.Wallet).
			Str("signature", receipt.Signature).
			Msg("executor: swap completed")
		return nil
	}
}
