// ABOUTME: Registry of live attaches used to detect ones dropped without a disconnect.
// ABOUTME: Leaked attaches are logged and disconnected with an alert status.

package attache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-hostd/internal/host"
)

// Tracker audits attaches for leaks.
type Tracker struct {
	mu     sync.Mutex
	live   map[Attache]time.Time
	logger *slog.Logger
	onLeak func(Attache)
	leaks  atomic.Int64
}

// NewTracker creates a tracker. onLeak, if set, runs after a leaked attache
// has been disconnected.
func NewTracker(logger *slog.Logger, onLeak func(Attache)) *Tracker {
	return &Tracker{
		live:   make(map[Attache]time.Time),
		logger: logger,
		onLeak: onLeak,
	}
}

// Track starts auditing a.
func (t *Tracker) Track(a Attache) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live[a] = time.Now()
}

// Release stops auditing a. Its owner is done with it, so it must already be
// closed; if not, it is treated as lost. Reports whether a leaked.
func (t *Tracker) Release(a Attache) bool {
	t.mu.Lock()
	_, tracked := t.live[a]
	delete(t.live, a)
	t.mu.Unlock()

	if !tracked || a.IsClosed() {
		return false
	}
	t.leaked(a)
	return true
}

// Sweep prunes closed attaches and treats open ones that owned rejects as
// lost. It returns the number of leaks found.
func (t *Tracker) Sweep(owned func(Attache) bool) int {
	t.mu.Lock()
	var lost []Attache
	for a := range t.live {
		switch {
		case a.IsClosed():
			delete(t.live, a)
		case owned != nil && !owned(a):
			delete(t.live, a)
			lost = append(lost, a)
		}
	}
	t.mu.Unlock()

	for _, a := range lost {
		t.leaked(a)
	}
	return len(lost)
}

// CloseAll empties the registry, disconnecting anything still open. It runs
// at shutdown after owners have disconnected their attaches.
func (t *Tracker) CloseAll() int {
	t.mu.Lock()
	var open []Attache
	for a := range t.live {
		if !a.IsClosed() {
			open = append(open, a)
		}
	}
	t.live = make(map[Attache]time.Time)
	t.mu.Unlock()

	for _, a := range open {
		t.leaked(a)
	}
	return len(open)
}

func (t *Tracker) leaked(a Attache) {
	t.leaks.Add(1)
	t.logger.Warn("lost attache", "host_id", a.ID())
	a.Disconnect(host.StatusAlert)
	if t.onLeak != nil {
		t.onLeak(a)
	}
}

// Len returns the number of tracked attaches.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Leaks returns how many leaked attaches have been found so far.
func (t *Tracker) Leaks() int64 {
	return t.leaks.Load()
}
