package guard

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rogersf/backdp/internal/clearance"
	"github.com/rogersf/backdp/internal/domain"
)

func smallParams() clearance.Params {
	return clearance.Params{
		TimeSteps:        2,
		InitialInventory: 9,
		BasePrice:        10,
		BaseDemand:       1,
		Levels:           []clearance.Level{{Markdown: 0.5, DemandLift: 1}},
	}
}

func TestCheckRateLimit_WithinLimit(t *testing.T) {
	g := NewGuard(Config{RateLimitPerMinute: 3})
	for i := 0; i < 3; i++ {
		if err := g.CheckRateLimit("10.0.0.1"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if err := g.CheckRateLimit("10.0.0.1"); !errors.Is(err, domain.ErrRateLimitExceeded) {
		t.Fatalf("4th call error = %v, want ErrRateLimitExceeded", err)
	}
	if err := g.CheckRateLimit("10.0.0.2"); err != nil {
		t.Errorf("other client limited: %v", err)
	}
}

func TestCheckRateLimit_WindowResets(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewGuard(Config{RateLimitPerMinute: 1})
	g.now = func() time.Time { return now }

	if err := g.CheckRateLimit("c"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := g.CheckRateLimit("c"); !errors.Is(err, domain.ErrRateLimitExceeded) {
		t.Fatalf("second error = %v, want ErrRateLimitExceeded", err)
	}

	now = now.Add(61 * time.Second)
	if err := g.CheckRateLimit("c"); err != nil {
		t.Errorf("after window: %v", err)
	}
}

func TestCheckRateLimit_Disabled(t *testing.T) {
	g := NewGuard(Config{})
	for i := 0; i < 100; i++ {
		if err := g.CheckRateLimit("c"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}

func TestCheckSize(t *testing.T) {
	p := smallParams() // 10 inventory levels x 2 price levels

	if err := NewGuard(Config{MaxStates: 20}).CheckSize(p); err != nil {
		t.Errorf("at limit: %v", err)
	}
	err := NewGuard(Config{MaxStates: 19}).CheckSize(p)
	var engErr *domain.EngineError
	if !errors.As(err, &engErr) || engErr.Code != domain.ErrModelTooLarge.Code {
		t.Fatalf("over limit error = %v, want ErrModelTooLarge", err)
	}
	if err := NewGuard(Config{}).CheckSize(p); err != nil {
		t.Errorf("disabled: %v", err)
	}
}

func TestCheckSize_HugeInventoryDoesNotWrap(t *testing.T) {
	g := NewGuard(Config{MaxStates: 100})
	for _, inv := range []int{1 << 62, math.MaxInt, 100} {
		p := smallParams()
		p.InitialInventory = inv
		p.Levels = make([]clearance.Level, 3)
		var engErr *domain.EngineError
		if err := g.CheckSize(p); !errors.As(err, &engErr) || engErr.Code != domain.ErrModelTooLarge.Code {
			t.Errorf("inventory %d: error = %v, want ErrModelTooLarge", inv, err)
		}
	}
}

func TestAcquire(t *testing.T) {
	g := NewGuard(Config{MaxConcurrentRuns: 1})

	release, err := g.Acquire()
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := g.Acquire(); !errors.Is(err, domain.ErrRunLimitReached) {
		t.Fatalf("second Acquire error = %v, want ErrRunLimitReached", err)
	}

	release()
	release() // second release is a no-op
	release2, err := g.Acquire()
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	release2()
	if len(g.slots) != 0 {
		t.Errorf("slots in use = %d, want 0", len(g.slots))
	}
}

func TestAdmit_Order(t *testing.T) {
	g := NewGuard(Config{RateLimitPerMinute: 1, MaxConcurrentRuns: 1, MaxStates: 5})

	// Size is checked before the rate limit, so an oversized request does
	// not consume the client's quota.
	if _, err := g.Admit("c", smallParams()); err == nil {
		t.Fatal("expected size error")
	}
	p := smallParams()
	p.InitialInventory = 1
	release, err := g.Admit("c", p)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	defer release()

	if _, err := g.Admit("other", p); !errors.Is(err, domain.ErrRunLimitReached) {
		t.Errorf("concurrent Admit error = %v, want ErrRunLimitReached", err)
	}
	if _, err := g.Admit("c", p); !errors.Is(err, domain.ErrRateLimitExceeded) {
		t.Errorf("repeat Admit error = %v, want ErrRateLimitExceeded", err)
	}
}
