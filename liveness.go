package jsonmessenger

import (
	"context"
	"time"
)

// Monitor probes idle connections with echo requests and drops the ones that
// stop answering.
//
// Each session moves through active, idle and awaiting-echo. Once a session
// has been silent for its idle threshold an echo request is sent; while it
// stays silent another request follows every threshold period, up to the
// echo threshold. If the period after the last allowed request also passes
// without a message the session is dropped. Any inbound message returns the
// session to active and clears the outstanding count.
type Monitor struct {
	registry  *Registry
	threshold int
	interval  time.Duration
	now       func() time.Time
	logger    Logger
	metrics   *Metrics

	// drop is called with the session lock held.
	drop func(s *Session, reason error)
	// flush delivers events queued by drop once the lock is released.
	flush func(s *Session)
}

// Check evaluates every registered session once.
func (m *Monitor) Check() {
	now := m.now()
	for _, s := range m.registry.Sessions() {
		s.mu.Lock()
		m.check(s, now)
		s.mu.Unlock()
		m.flush(s)
	}
}

// Run calls Check every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check()
		}
	}
}

// check must be called with s.mu held.
func (m *Monitor) check(s *Session, now time.Time) {
	if s.closed || s.idleThreshold <= 0 {
		return
	}
	// The session may have been removed since the snapshot was taken.
	if _, err := m.registry.Lookup(s.id); err != nil {
		return
	}

	switch s.echo.State {
	case StateActive:
		if now.Sub(s.echo.LastActivity) < s.idleThreshold {
			return
		}
		s.echo.State = StateIdle
		m.sendEcho(s, now)
	case StateIdle:
		m.sendEcho(s, now)
	case StateAwaitingEcho:
		if now.Sub(s.echo.LastEcho) < s.idleThreshold {
			return
		}
		if s.echo.Outstanding >= m.threshold {
			m.logger.Info("dropping unresponsive connection", "conn", s.id, "session", s.uuid,
				"outstanding", s.echo.Outstanding, "idle", now.Sub(s.echo.LastActivity))
			m.metrics.livenessDrop()
			m.drop(s, ErrLivenessTimeout)
			return
		}
		m.sendEcho(s, now)
	}
}

// sendEcho must be called with s.mu held. A request that cannot be queued
// still counts as outstanding.
func (m *Monitor) sendEcho(s *Session, now time.Time) {
	id := s.newEchoID()
	s.echo.State = StateAwaitingEcho
	s.echo.LastEcho = now
	s.echo.Outstanding++

	if err := s.transport.Write(EchoRequest(id)); err != nil {
		m.logger.Warn("echo request not sent", "conn", s.id, "session", s.uuid, "error", err)
		return
	}
	m.metrics.echoRequest()
	m.logger.Debug("echo request sent", "conn", s.id, "session", s.uuid,
		"echo_id", id, "outstanding", s.echo.Outstanding)
}
