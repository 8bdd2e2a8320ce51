// Package middleware provides capability.LLM wrappers such as adaptive rate
// limiting.
package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"goa.design/pulse/rmap"
	"golang.org/x/time/rate"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

const (
	defaultTPM     = 60000
	minTokens      = 500
	charsPerToken  = 3
	clusterTimeout = 2 * time.Second
	casAttempts    = 3
)

type (
	// Options configures a Limiter.
	Options struct {
		// InitialTPM is the starting tokens-per-minute budget. Defaults to
		// 60000.
		InitialTPM float64
		// MaxTPM caps the budget recovered by probing. Clamped to at least
		// InitialTPM.
		MaxTPM float64
		// Map and Key share the budget across processes through a Pulse
		// replicated map. Both are optional.
		Map *rmap.Map
		Key string
	}

	// Limiter is an AIMD token bucket in front of a model provider. Each
	// request waits for its estimated token cost. A rate limited failure halves
	// the budget and a success recovers it by a fixed step.
	Limiter struct {
		mu      sync.Mutex
		bucket  *rate.Limiter
		tpm     float64
		floor   float64
		ceiling float64
		step    float64
		shared  *sharedBudget
	}

	limitedLLM struct {
		next    capability.LLM
		limiter *Limiter
	}

	// budgetMap is the subset of rmap.Map used to share the budget.
	budgetMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	sharedBudget struct {
		m   budgetMap
		key string
	}
)

// NewLimiter builds a limiter. When opts names a replicated map and key the
// budget is seeded from and reconciled with the map; a map that cannot be
// seeded degrades to a process local limiter.
func NewLimiter(ctx context.Context, opts Options) *Limiter {
	var m budgetMap
	if opts.Map != nil {
		m = opts.Map
	}
	return newLimiter(ctx, m, opts.Key, opts.InitialTPM, opts.MaxTPM)
}

func newLimiter(ctx context.Context, m budgetMap, key string, initial, ceiling float64) *Limiter {
	if initial <= 0 {
		initial = defaultTPM
	}
	if ceiling < initial {
		ceiling = initial
	}
	l := &Limiter{
		tpm:     initial,
		floor:   max(initial*0.1, 1),
		ceiling: ceiling,
		step:    max(initial*0.05, 1),
	}
	if m != nil && key != "" {
		l.shared = &sharedBudget{m: m, key: key}
		if v, ok := l.shared.seed(ctx, initial); ok {
			l.tpm = min(max(v, l.floor), l.ceiling)
		} else {
			l.shared = nil
		}
	}
	l.bucket = rate.NewLimiter(rate.Limit(l.tpm/60), int(l.tpm))
	if l.shared != nil {
		ch := m.Subscribe()
		go func() {
			for range ch {
				if v, ok := l.shared.load(); ok {
					l.set(v)
				}
			}
		}()
	}
	return l
}

// Wrap returns an LLM that waits for budget before delegating to next.
func (l *Limiter) Wrap(next capability.LLM) capability.LLM {
	return &limitedLLM{next: next, limiter: l}
}

// TPM returns the current tokens-per-minute budget.
func (l *Limiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tpm
}

func (c *limitedLLM) Complete(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return agent.LLMResponse{}, cerr
		}
		// The bucket cannot refill before the deadline; waiting again will not help.
		return agent.LLMResponse{}, capability.NewLLMError("", capability.LLMErrorUnknown, 0, "rate limiter wait", err)
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(ctx, err)
	return resp, err
}

func (l *Limiter) wait(ctx context.Context, req agent.LLMRequest) error {
	n := estimateTokens(req)
	l.mu.Lock()
	burst := l.bucket.Burst()
	l.mu.Unlock()
	if n > burst {
		n = burst
	}
	return l.bucket.WaitN(ctx, n)
}

func (l *Limiter) observe(ctx context.Context, err error) {
	if err == nil {
		if l.set(l.TPM()+l.step) && l.shared != nil {
			go l.shared.update(context.WithoutCancel(ctx), func(cur float64) float64 { return min(cur+l.step, l.ceiling) })
		}
		return
	}
	if le, ok := capability.AsLLMError(err); ok && le.Kind == capability.LLMErrorRateLimited {
		if l.set(l.TPM()*0.5) && l.shared != nil {
			go l.shared.update(context.WithoutCancel(ctx), func(cur float64) float64 { return max(cur*0.5, l.floor) })
		}
	}
}

// set clamps tpm to the configured range and applies it. It reports whether
// the budget changed.
func (l *Limiter) set(tpm float64) bool {
	tpm = min(max(tpm, l.floor), l.ceiling)
	l.mu.Lock()
	defer l.mu.Unlock()
	if tpm == l.tpm {
		return false
	}
	l.tpm = tpm
	l.bucket.SetLimit(rate.Limit(tpm / 60))
	l.bucket.SetBurst(int(tpm))
	return true
}

// estimateTokens approximates the request size at one token per three
// characters plus a fixed allowance for framing.
func estimateTokens(req agent.LLMRequest) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
		for _, c := range m.ToolCalls {
			chars += len(c.Args)
		}
	}
	return chars/charsPerToken + minTokens
}

func (s *sharedBudget) seed(ctx context.Context, initial float64) (float64, bool) {
	if _, ok := s.m.Get(s.key); !ok {
		if _, err := s.m.SetIfNotExists(ctx, s.key, strconv.Itoa(int(initial))); err != nil {
			return 0, false
		}
	}
	if v, ok := s.load(); ok {
		return v, true
	}
	return initial, true
}

func (s *sharedBudget) load() (float64, bool) {
	cur, ok := s.m.Get(s.key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(cur, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// update applies next to the shared budget with compare-and-swap, giving up
// after a few contended attempts.
func (s *sharedBudget) update(ctx context.Context, next func(float64) float64) {
	ctx, cancel := context.WithTimeout(ctx, clusterTimeout)
	defer cancel()
	for range casAttempts {
		curStr, ok := s.m.Get(s.key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		nextStr := strconv.Itoa(int(next(cur)))
		if nextStr == curStr {
			return
		}
		prev, err := s.m.TestAndSet(ctx, s.key, curStr, nextStr)
		if err != nil || prev == curStr {
			return
		}
	}
}
