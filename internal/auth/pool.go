package auth

import (
	"errors"
	"math/rand"
	"sync"
)

// DefaultPoolSize is the maximum number of shared tokens kept by default
const DefaultPoolSize = 8

// ErrNoToken is returned when the pool holds no tokens
var ErrNoToken = errors.New("no token available in pool")

// TokenPool shares access tokens between simulated users so that each user
// does not have to log in. Selection favours tokens that were used least.
type TokenPool struct {
	mu     sync.Mutex
	max    int
	tokens []string
	uses   map[string]int
	rng    *rand.Rand
}

// NewTokenPool creates a pool holding at most max tokens
func NewTokenPool(max int, rng *rand.Rand) *TokenPool {
	if max <= 0 {
		max = DefaultPoolSize
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &TokenPool{
		max:  max,
		uses: make(map[string]int),
		rng:  rng,
	}
}

// Get picks a token by weighted random choice where weight = 1/(uses+1),
// then counts the use.
func (p *TokenPool) Get() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return "", ErrNoToken
	}

	weights := make([]float64, len(p.tokens))
	var sum float64
	for i, token := range p.tokens {
		weights[i] = 1.0 / float64(p.uses[token]+1)
		sum += weights[i]
	}

	target := p.rng.Float64() * sum
	idx := len(p.tokens) - 1
	for i, w := range weights {
		if target < w {
			idx = i
			break
		}
		target -= w
	}

	token := p.tokens[idx]
	p.uses[token]++
	return token, nil
}

// Add stores a token. Duplicates are ignored. When the pool overflows the
// most used token is evicted (earliest added wins ties).
func (p *TokenPool) Add(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.uses[token]; ok {
		return false
	}

	p.tokens = append(p.tokens, token)
	p.uses[token] = 0

	if len(p.tokens) > p.max {
		evict := 0
		for i, t := range p.tokens {
			if p.uses[t] > p.uses[p.tokens[evict]] {
				evict = i
			}
		}
		delete(p.uses, p.tokens[evict])
		p.tokens = append(p.tokens[:evict], p.tokens[evict+1:]...)
	}

	return true
}

// Remove drops a token, e.g. after the API rejected it
func (p *TokenPool) Remove(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.uses[token]; !ok {
		return
	}
	delete(p.uses, token)
	for i, t := range p.tokens {
		if t == token {
			p.tokens = append(p.tokens[:i], p.tokens[i+1:]...)
			break
		}
	}
}

// Len returns the number of pooled tokens
func (p *TokenPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// UsageStats summarizes how evenly tokens are used
type UsageStats struct {
	Min int
	Max int
	Avg float64
}

// Usage returns min/max/avg use counts, and false when the pool is empty
func (p *TokenPool) Usage() (UsageStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return UsageStats{}, false
	}

	stats := UsageStats{Min: -1}
	total := 0
	for _, t := range p.tokens {
		n := p.uses[t]
		if stats.Min == -1 || n < stats.Min {
			stats.Min = n
		}
		if n > stats.Max {
			stats.Max = n
		}
		total += n
	}
	stats.Avg = float64(total) / float64(len(p.tokens))
	return stats, true
}
