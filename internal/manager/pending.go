// ABOUTME: Pending request map correlating responses with waiting Send callers.
// ABOUTME: Delivery never blocks a pool worker; unclaimed responses fall through to the store.

package manager

import (
	"log/slog"
	"sync"

	"github.com/2389/coven-hostd/internal/command"
)

type waiter struct {
	hostID int64
	ch     chan *command.Response
}

type pendingRequests struct {
	mu      sync.Mutex
	waiters map[int64]*waiter // keyed by sequence
	logger  *slog.Logger
}

func newPendingRequests(logger *slog.Logger) *pendingRequests {
	return &pendingRequests{
		waiters: make(map[int64]*waiter),
		logger:  logger,
	}
}

// create registers a waiter for seq. The caller must eventually call close.
func (p *pendingRequests) create(hostID, seq int64) <-chan *command.Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *command.Response, 1)
	p.waiters[seq] = &waiter{hostID: hostID, ch: ch}
	return ch
}

// close removes the waiter for seq, closing its channel if still registered.
func (p *pendingRequests) close(seq int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.waiters[seq]; ok {
		close(w.ch)
		delete(p.waiters, seq)
	}
}

// deliver hands resp to the waiter for seq. It reports false when nobody is
// waiting, so the caller can keep the response some other way.
func (p *pendingRequests) deliver(hostID, seq int64, resp *command.Response) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.waiters[seq]
	if !ok || w.hostID != hostID {
		return false
	}

	// Non-blocking send to avoid stalling the worker if the waiter already has a response
	select {
	case w.ch <- resp:
	default:
		p.logger.Warn("response channel full, dropping response", "host_id", hostID, "seq", seq)
	}
	return true
}

// failHost wakes every waiter for hostID with a closed channel.
func (p *pendingRequests) failHost(hostID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for seq, w := range p.waiters {
		if w.hostID != hostID {
			continue
		}
		close(w.ch)
		delete(p.waiters, seq)
		n++
	}
	return n
}

// len returns the number of waiting requests.
func (p *pendingRequests) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
