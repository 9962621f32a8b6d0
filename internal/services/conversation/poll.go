package conversation

import (
	"time"

	"offrecord/internal/domain"
	"offrecord/internal/protocol/ake"
)

// Poll does the periodic housekeeping the handler asked for through
// TimerControl: it abandons stalled key exchanges, drops half-received
// fragments and stale resend entries, and retires peer keys that were not
// rotated in time. When nothing is left to watch the timer is stopped.
func (m *Manager) Poll(now time.Time) {
	m.mu.RLock()
	peers := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.RUnlock()

	window := m.Settings().ResendWindow
	active := false
	for _, p := range peers {
		p.mu.Lock()
		for _, c := range p.all() {
			if c.poll(now, window) {
				active = true
			}
		}
		p.mu.Unlock()
	}
	if !active {
		m.stopTimer()
	}
}

// poll expires the context's timed state and reports whether any remains.
func (c *instance) poll(now time.Time, window time.Duration) bool {
	log := c.m().log
	if c.ake != nil && c.ake.Expired(now, akeTimeout) {
		log.Debug("key exchange timed out", "peer", c.p.k.peer, "instance", c.theirTag.String(),
			"state", c.ake.State().String())
		c.ake.Reset()
		c.ake = nil
	}
	if c.frags.Expired(now, fragmentTimeout) {
		log.Debug("incomplete message dropped", "peer", c.p.k.peer, "instance", c.theirTag.String())
		c.frags.Reset()
	}
	if c.resend != nil && now.Sub(c.resend.at) > window {
		c.resend = nil
	}
	if c.ratchet != nil {
		if n := c.ratchet.ForgetStale(now, staleKeyAge); n > 0 {
			log.Debug("retired stale keys", "peer", c.p.k.peer, "sessions", n)
		}
	}
	exchanging := c.ake != nil && c.ake.State() != ake.StateNone
	return exchanging || c.frags.Pending() || c.resend != nil || c.state == domain.StateEncrypted
}
