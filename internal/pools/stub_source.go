package pools

import (
	"context"
	"fmt"
	"sync"
)

// StubPoolSource is an in-memory pool source for testing and development.
type StubPoolSource struct {
	mu       sync.RWMutex
	byToken  map[string][]PoolInfo
	failNext bool
}

// NewStubPoolSource creates an empty stub source.
func NewStubPoolSource() *StubPoolSource {
	return &StubPoolSource{byToken: make(map[string][]PoolInfo)}
}

// SetPools replaces the pool set for a token.
func (s *StubPoolSource) SetPools(tokenMint string, pools []PoolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToken[tokenMint] = append([]PoolInfo(nil), pools...)
}

// UpdatePool replaces one pool by address, appending if unknown.
func (s *StubPoolSource) UpdatePool(tokenMint string, pool PoolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byToken[tokenMint]
	for i := range list {
		if list[i].Address == pool.Address {
			list[i] = pool
			return
		}
	}
	s.byToken[tokenMint] = append(list, pool)
}

// SetFailNext makes the next fetch fail.
func (s *StubPoolSource) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// FetchPools implements PoolSource.
func (s *StubPoolSource) FetchPools(_ context.Context, tokenMint string) ([]PoolInfo, error) {
	s.mu.Lock()
	if s.failNext {
		s.failNext = false
		s.mu.Unlock()
		return nil, fmt.Errorf("stub: simulated source failure")
	}
	out := append([]PoolInfo(nil), s.byToken[tokenMint]...)
	s.mu.Unlock()
	return out, nil
}
