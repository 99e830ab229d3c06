package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Task model
// A Task is owned by the queue from enqueue until it reaches a terminal
// state (completed, dead, or cancelled).
// ---------------------------------------------------------------------------

// Priority orders dispatch strictly: critical > high > normal > low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return "normal"
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusWaiting   Status = "waiting"   // eligible for dispatch
	StatusScheduled Status = "scheduled" // delayed or backing off
	StatusActive    Status = "active"    // handed to a processor
	StatusCompleted Status = "completed" // terminal success
	StatusFailed    Status = "failed"    // failed, retry budget left
	StatusDead      Status = "dead"      // terminal, retries exhausted
	StatusCancelled Status = "cancelled" // terminal, cancelled by caller
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDead, StatusCancelled:
		return true
	}
	return false
}

// Task is one unit of work flowing through the queue.
type Task struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority Priority        `json:"priority"`

	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`

	WalletID   string `json:"wallet_id,omitempty"`
	BotID      string `json:"bot_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`

	Status      Status    `json:"status"`
	Retries     int       `json:"retries"`
	LastError   string    `json:"last_error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	RunAt       time.Time `json:"run_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a waiting task of the given type with a fresh id.
func NewTask(taskType string, payload interface{}) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Payload:    raw,
		Priority:   PriorityNormal,
		MaxRetries: 3,
		Timeout:    30 * time.Second,
		Status:     StatusWaiting,
		EnqueuedAt: now,
		RunAt:      now,
	}, nil
}

// UnmarshalPayload decodes the task payload into v.
func (t *Task) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(t.Payload, v)
}

// TaskResult reports a task's final (or latest) outcome to waiters.
type TaskResult struct {
	TaskID      string    `json:"task_id"`
	Status      Status    `json:"status"`
	Retries     int       `json:"retries"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// SwapPayload is the wire shape of a swap task handed to the trade execution
// service.
type SwapPayload struct {
	Wallet      string `json:"wallet"`
	Token       string `json:"token"`
	Direction   string `json:"direction"` // buy|sell
	Amount      string `json:"amount"`    // decimal string
	SlippageBps int    `json:"slippage_bps"`
	PriorityFee uint64 `json:"priority_fee_lamports"`
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Waiting   int   `json:"waiting"`
	Scheduled int   `json:"scheduled"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dead      int64 `json:"dead"`
	Cancelled int64 `json:"cancelled"`
	Enqueued  int64 `json:"enqueued"`
	Deduped   int64 `json:"deduped"`
	Throttled int64 `json:"throttled"`
	Retries   int64 `json:"retries"`
	Paused    bool  `json:"paused"`
}
