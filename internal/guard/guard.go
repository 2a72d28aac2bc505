// Package guard decides whether a new run may start.
package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/rogersf/backdp/internal/clearance"
	"github.com/rogersf/backdp/internal/domain"
)

// Config holds admission limits. A zero value disables the limit.
type Config struct {
	RateLimitPerMinute int
	MaxConcurrentRuns  int
	MaxStates          int
}

// Guard coordinates rate, concurrency and size checks for run creation.
type Guard struct {
	Config Config

	mu         sync.Mutex
	rateCounts map[string]*rateBucket
	slots      chan struct{}
	now        func() time.Time
}

type rateBucket struct {
	count       int
	windowStart int64
}

// NewGuard creates a Guard with the given limits.
func NewGuard(cfg Config) *Guard {
	g := &Guard{
		Config:     cfg,
		rateCounts: make(map[string]*rateBucket),
		now:        time.Now,
	}
	if cfg.MaxConcurrentRuns > 0 {
		g.slots = make(chan struct{}, cfg.MaxConcurrentRuns)
	}
	return g
}

// Admit runs all checks in order: size, rate limit, concurrency. On success
// the caller must invoke release once the run has finished.
func (g *Guard) Admit(client string, p clearance.Params) (release func(), err error) {
	if err := g.CheckSize(p); err != nil {
		return nil, err
	}
	if err := g.CheckRateLimit(client); err != nil {
		return nil, err
	}
	return g.Acquire()
}

// CheckSize rejects parameter sets whose state space exceeds MaxStates.
func (g *Guard) CheckSize(p clearance.Params) error {
	if g.Config.MaxStates <= 0 {
		return nil
	}
	prices := len(p.Levels) + 1
	// Compare by division so a huge inventory cannot wrap the product.
	if p.InitialInventory < 0 || p.InitialInventory >= g.Config.MaxStates ||
		p.InitialInventory+1 > g.Config.MaxStates/prices {
		return domain.NewEngineError(domain.ErrModelTooLarge.Code,
			fmt.Sprintf("%s: %d inventory levels x %d prices, limit %d states",
				domain.ErrModelTooLarge.Message, p.InitialInventory+1, prices, g.Config.MaxStates))
	}
	return nil
}

// CheckRateLimit enforces a per-client fixed window rate limit.
// When the limit is reached within a one-minute window,
// ErrRateLimitExceeded is returned.
func (g *Guard) CheckRateLimit(client string) error {
	if g.Config.RateLimitPerMinute <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().Unix()
	bucket, ok := g.rateCounts[client]
	if !ok {
		g.rateCounts[client] = &rateBucket{count: 1, windowStart: now}
		return nil
	}

	if now-bucket.windowStart >= 60 {
		bucket.count = 1
		bucket.windowStart = now
		return nil
	}

	if bucket.count >= g.Config.RateLimitPerMinute {
		return domain.ErrRateLimitExceeded
	}

	bucket.count++
	return nil
}

// Acquire takes a run slot without waiting. It returns ErrRunLimitReached
// when MaxConcurrentRuns runs are already in progress.
func (g *Guard) Acquire() (release func(), err error) {
	if g.slots == nil {
		return func() {}, nil
	}
	select {
	case g.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-g.slots }) }, nil
	default:
		return nil, domain.ErrRunLimitReached
	}
}
