// ABOUTME: Delayed investigation of lost-agent signals raised by ping tasks.
// ABOUTME: At most one investigation per host runs; a live probe refutes the signal.

package manager

import (
	"time"

	"github.com/2389/coven-hostd/internal/attache"
	"github.com/2389/coven-hostd/internal/host"
)

type prober interface {
	Probe() bool
}

// DisconnectWithInvestigation checks whether a host that failed to report a
// status is really gone. It returns immediately; the check runs after the
// investigation delay and disconnects the host with an alert if the attache
// still cannot produce a status.
func (m *Manager) DisconnectWithInvestigation(a attache.Attache, event host.Event) {
	id := a.ID()

	m.invMu.Lock()
	if m.investigating[id] {
		m.invMu.Unlock()
		m.logger.Debug("investigation already in progress", "host_id", id, "event", event)
		return
	}
	select {
	case <-m.done:
		m.invMu.Unlock()
		return
	default:
	}
	m.investigating[id] = true
	m.invWG.Add(1)
	m.invMu.Unlock()

	m.logger.Info("investigating host", "host_id", id, "event", event, "delay", m.investigationDelay)

	go func() {
		defer m.invWG.Done()
		defer func() {
			m.invMu.Lock()
			delete(m.investigating, id)
			m.invMu.Unlock()
		}()
		m.investigate(a, event)
	}()
}

func (m *Manager) investigate(a attache.Attache, event host.Event) {
	timer := time.NewTimer(m.investigationDelay)
	defer timer.Stop()

	select {
	case <-m.done:
		return
	case <-timer.C:
	}

	if a.IsClosed() || !m.owns(a) {
		m.logger.Debug("investigation dropped, attache already gone", "host_id", a.ID())
		return
	}

	if p, ok := a.(prober); ok && p.Probe() {
		m.logger.Info("investigation refuted lost agent", "host_id", a.ID(), "event", event)
		m.recordEvent(a.ID(), host.EventInvestigationRefuted, string(event))
		return
	}

	d, ok := a.(*attache.Direct)
	if !ok {
		return
	}
	if m.disconnectAttache(d, event, host.StatusAlert) {
		m.logger.Warn("investigation confirmed lost agent, host disconnected", "host_id", a.ID(), "event", event)
	}
}
