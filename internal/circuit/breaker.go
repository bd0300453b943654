// Package circuit guards the origin with a circuit breaker, so a dark
// origin fails fetches fast and the cache fallbacks kick in immediately
// instead of waiting out full timeouts.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// State represents the breaker state.
type State int

const (
	// StateClosed passes fetches through.
	StateClosed State = iota
	// StateOpen rejects fetches without touching the origin.
	StateOpen
	// StateHalfOpen lets a limited number of probe fetches through.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes when the breaker trips and recovers.
type Config struct {
	// TripAfter is the consecutive-failure count that opens the breaker.
	TripAfter uint32 `yaml:"trip_after"`

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxProbes bounds concurrent probe fetches while half-open.
	MaxProbes uint32 `yaml:"max_probes"`

	// OnStateChange is called on every transition.
	OnStateChange func(from, to State) `yaml:"-"`
}

// DefaultConfig returns the origin breaker defaults.
func DefaultConfig() Config {
	return Config{
		TripAfter: 5,
		Cooldown:  15 * time.Second,
		MaxProbes: 1,
	}
}

// Counts tracks fetch outcomes within the current state.
type Counts struct {
	Requests            uint32 `json:"requests"`
	Successes           uint32 `json:"successes"`
	Failures            uint32 `json:"failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Breaker is a consecutive-failure circuit breaker for one origin.
type Breaker struct {
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	opened time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(config Config) *Breaker {
	if config.TripAfter == 0 {
		config.TripAfter = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 15 * time.Second
	}
	if config.MaxProbes == 0 {
		config.MaxProbes = 1
	}
	return &Breaker{config: config, state: StateClosed}
}

// ErrOpen is returned while the breaker rejects fetches.
var ErrOpen = errors.NewError(errors.ErrCodeOriginDown, "origin circuit open")

// Allow reports whether a fetch may proceed right now. Callers must
// follow up with Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked(time.Now()) {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.counts.Requests >= b.config.MaxProbes {
			return ErrOpen
		}
	}
	b.counts.Requests++
	return nil
}

// Record feeds a fetch outcome back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(time.Now())
	if err == nil {
		b.counts.Successes++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.TripAfter {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// State returns the current state, advancing open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

// GetCounts returns a copy of the current counts.
func (b *Breaker) GetCounts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = Counts{}
	b.transition(StateClosed)
}

func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.opened) >= b.config.Cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.counts = Counts{}
	if to == StateOpen {
		b.opened = time.Now()
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}

// guardedFetcher wraps a fetcher with a breaker.
type guardedFetcher struct {
	inner   types.Fetcher
	breaker *Breaker
}

// WrapFetcher returns a fetcher that consults the breaker before every
// fetch and records every outcome.
func WrapFetcher(inner types.Fetcher, breaker *Breaker) types.Fetcher {
	return &guardedFetcher{inner: inner, breaker: breaker}
}

func (g *guardedFetcher) Fetch(ctx context.Context, url string) (*types.CapturedResponse, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := g.inner.Fetch(ctx, url)
	g.breaker.Record(err)
	return resp, err
}
