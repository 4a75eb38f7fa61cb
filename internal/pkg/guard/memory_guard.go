package guard

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	attempts    []time.Time
	lockedUntil time.Time
}

// MemoryGuard 进程内实现，适用于单实例部署和测试
type MemoryGuard struct {
	mu        sync.Mutex
	policy    Policy
	entries   map[string]*memoryEntry
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryGuard(policy Policy) *MemoryGuard {
	return &MemoryGuard{
		policy:  policy,
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// prune 丢弃窗口外的失败记录，调用方持有锁
func (g *MemoryGuard) prune(e *memoryEntry, now time.Time) {
	cutoff := now.Add(-g.policy.Window)
	kept := e.attempts[:0]
	for _, t := range e.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.attempts = kept
}

// idle 窗口内没有失败且未被锁定，可以整条丢弃
func (e *memoryEntry) idle(now time.Time) bool {
	return len(e.attempts) == 0 && !now.Before(e.lockedUntil)
}

// sweep 每个窗口最多全量清理一次空闲条目，调用方持有锁
func (g *MemoryGuard) sweep(now time.Time) {
	if now.Sub(g.lastSweep) < g.policy.Window {
		return
	}
	g.lastSweep = now
	for key, e := range g.entries {
		g.prune(e, now)
		if e.idle(now) {
			delete(g.entries, key)
		}
	}
}

func (g *MemoryGuard) RecordAttempt(ctx context.Context, key string) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweep(now)
	e, ok := g.entries[key]
	if !ok {
		e = &memoryEntry{}
		g.entries[key] = e
	}

	if now.Before(e.lockedUntil) {
		return Status{Blocked: true, RetryAfter: e.lockedUntil.Sub(now)}, nil
	}

	g.prune(e, now)
	e.attempts = append(e.attempts, now)

	if len(e.attempts) >= g.policy.MaxAttempts {
		e.attempts = nil
		e.lockedUntil = now.Add(g.policy.LockoutDuration)
		return Status{Blocked: true, RetryAfter: g.policy.LockoutDuration}, nil
	}

	return Status{AttemptsRemaining: g.policy.MaxAttempts - len(e.attempts)}, nil
}

func (g *MemoryGuard) IsBlocked(ctx context.Context, key string) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweep(now)
	e, ok := g.entries[key]
	if !ok {
		return Status{AttemptsRemaining: g.policy.MaxAttempts}, nil
	}
	if now.Before(e.lockedUntil) {
		return Status{Blocked: true, RetryAfter: e.lockedUntil.Sub(now)}, nil
	}

	g.prune(e, now)
	if e.idle(now) {
		delete(g.entries, key)
	}
	return Status{AttemptsRemaining: g.policy.MaxAttempts - len(e.attempts)}, nil
}

// size 当前跟踪的 key 数量
func (g *MemoryGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *MemoryGuard) Clear(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
	return nil
}

// MemoryMarker 进程内"至多一次"标记
type MemoryMarker struct {
	mu        sync.Mutex
	expires   map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryMarker) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	if now.Sub(m.lastSweep) >= time.Minute {
		m.lastSweep = now
		for k, exp := range m.expires {
			if !now.Before(exp) {
				delete(m.expires, k)
			}
		}
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

var (
	_ Guard  = (*MemoryGuard)(nil)
	_ Marker = (*MemoryMarker)(nil)
)
