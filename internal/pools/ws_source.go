package pools

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Pool Feed
// Maintains a live pool-snapshot cache fed by a streaming endpoint. The
// cache is served through the PoolSource interface, so the monitor polls
// it without ever blocking on the network.
// ---------------------------------------------------------------------------

// WSFeedConfig configures the websocket pool feed.
type WSFeedConfig struct {
	Endpoint         string `yaml:"endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
	MaxReconnects    int    `yaml:"max_reconnects"` // 0 = unlimited
}

// DefaultWSFeedConfig returns connection defaults.
func DefaultWSFeedConfig() WSFeedConfig {
	return WSFeedConfig{
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
		MaxReconnects:    0,
	}
}

// poolFrame is one inbound message: a full snapshot of a token's pools.
type poolFrame struct {
	Token string     `json:"token"`
	Pools []PoolInfo `json:"pools"`
}

// subscribeRequest is sent after each (re)connect.
type subscribeRequest struct {
	Op     string   `json:"op"`
	Tokens []string `json:"tokens"`
}

// WSPoolFeed is a PoolSource backed by a websocket snapshot stream.
type WSPoolFeed struct {
	config WSFeedConfig

	mu     sync.RWMutex
	conn   *websocket.Conn
	tokens map[string]struct{}
	cache  map[string][]PoolInfo

	messagesRecv atomic.Int64
	reconnects   atomic.Int64
	connected    atomic.Bool
}

// NewWSPoolFeed creates a feed for the given endpoint.
func NewWSPoolFeed(config WSFeedConfig) *WSPoolFeed {
	def := DefaultWSFeedConfig()
	if config.ReconnectDelayMs <= 0 {
		config.ReconnectDelayMs = def.ReconnectDelayMs
	}
	if config.PingIntervalS <= 0 {
		config.PingIntervalS = def.PingIntervalS
	}
	return &WSPoolFeed{
		config: config,
		tokens: make(map[string]struct{}),
		cache:  make(map[string][]PoolInfo),
	}
}

// Subscribe adds tokens to the feed's subscription set. Takes effect on
// the next (re)connect; if already connected, resends the subscription.
func (f *WSPoolFeed) Subscribe(tokens ...string) {
	f.mu.Lock()
	for _, t := range tokens {
		f.tokens[t] = struct{}{}
	}
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		if err := f.sendSubscribe(); err != nil {
			log.Warn().Err(err).Msg("wsfeed: resubscribe failed")
		}
	}
}

// FetchPools implements PoolSource from the live cache.
func (f *WSPoolFeed) FetchPools(_ context.Context, tokenMint string) ([]PoolInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]PoolInfo(nil), f.cache[tokenMint]...), nil
}

// Connected reports whether the feed currently holds a live connection.
func (f *WSPoolFeed) Connected() bool {
	return f.connected.Load()
}

// Run connects and reads frames until ctx is cancelled. Blocks.
func (f *WSPoolFeed) Run(ctx context.Context) {
	reconnectDelay := time.Duration(f.config.ReconnectDelayMs) * time.Millisecond
	maxDelay := 30 * time.Second
	reconnectCount := 0

	for {
		select {
		case <-ctx.Done():
			f.disconnect()
			return
		default:
		}

		if f.config.MaxReconnects > 0 && reconnectCount >= f.config.MaxReconnects {
			log.Error().Int("max", f.config.MaxReconnects).Msg("wsfeed: max reconnects reached, cooling down")
			select {
			case <-time.After(60 * time.Second):
				reconnectCount = 0
				continue
			case <-ctx.Done():
				f.disconnect()
				return
			}
		}

		if err := f.connect(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", reconnectCount).Msg("wsfeed: connection failed")
			reconnectCount++
			f.reconnects.Add(1)
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay *= 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		reconnectCount = 0
		reconnectDelay = time.Duration(f.config.ReconnectDelayMs) * time.Millisecond

		if err := f.sendSubscribe(); err != nil {
			log.Warn().Err(err).Msg("wsfeed: subscribe failed")
		}

		f.readLoop(ctx)
	}
}

func (f *WSPoolFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.config.Endpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("wsfeed: dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.connected.Store(true)

	log.Info().Str("endpoint", f.config.Endpoint).Msg("wsfeed: connected")
	return nil
}

func (f *WSPoolFeed) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connected.Store(false)
}

func (f *WSPoolFeed) sendSubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("wsfeed: not connected")
	}
	req := subscribeRequest{Op: "subscribe", Tokens: make([]string, 0, len(f.tokens))}
	for t := range f.tokens {
		req.Tokens = append(req.Tokens, t)
	}
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("wsfeed: write subscribe: %w", err)
	}
	return nil
}

func (f *WSPoolFeed) readLoop(ctx context.Context) {
	pingTicker := time.NewTicker(time.Duration(f.config.PingIntervalS) * time.Second)
	defer pingTicker.Stop()
	defer f.disconnect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("wsfeed: ping failed")
					return
				}
			}
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		var frame poolFrame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Warn().Err(err).Msg("wsfeed: read failed, reconnecting")
			return
		}
		f.messagesRecv.Add(1)

		if frame.Token == "" {
			continue
		}
		f.mu.Lock()
		f.cache[frame.Token] = frame.Pools
		f.mu.Unlock()
	}
}

// WSFeedStats is a snapshot of feed counters.
type WSFeedStats struct {
	Connected    bool  `json:"connected"`
	MessagesRecv int64 `json:"messages_recv"`
	Reconnects   int64 `json:"reconnects"`
	CachedTokens int   `json:"cached_tokens"`
}

func (f *WSPoolFeed) Stats() WSFeedStats {
	f.mu.RLock()
	cached := len(f.cache)
	f.mu.RUnlock()
	return WSFeedStats{
		Connected:    f.connected.Load(),
		MessagesRecv: f.messagesRecv.Load(),
		Reconnects:   f.reconnects.Load(),
		CachedTokens: cached,
	}
}
