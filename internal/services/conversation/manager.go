package conversation

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"offrecord/internal/domain"
	"offrecord/internal/store"
)

// Timing defaults.
const (
	// DefaultPollInterval is how often the host should call Poll while any
	// conversation needs timekeeping.
	DefaultPollInterval = 70 * time.Second

	DefaultHeartbeatInterval = 60 * time.Second
	DefaultResendWindow      = 60 * time.Second

	akeTimeout      = 60 * time.Second
	fragmentTimeout = 2 * time.Minute
	staleKeyAge     = 60 * time.Second
)

var (
	// ErrStillPrivate is returned by Forget while a session is encrypted.
	ErrStillPrivate = errors.New("conversation: end the private session first")
	// ErrNoConversation is returned when an operation names an unknown peer or instance.
	ErrNoConversation = errors.New("conversation: no such conversation")
)

// Settings are the tunables that may change while the manager runs.
type Settings struct {
	FragmentPolicy    domain.FragmentPolicy
	HeartbeatInterval time.Duration
	ResendWindow      time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		FragmentPolicy:    domain.FragmentSendAll,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ResendWindow:      DefaultResendWindow,
	}
}

type accountKey struct{ account, protocol string }

type peerKey struct{ account, protocol, peer string }

// Manager owns every conversation context.
type Manager struct {
	store *store.Store
	log   *slog.Logger
	now   func() time.Time

	settings atomic.Pointer[Settings]

	mu    sync.RWMutex
	peers map[peerKey]*peer

	hmu       sync.RWMutex
	fallback  domain.Handler
	byAccount map[accountKey]domain.Handler
	byPeer    map[peerKey]domain.Handler

	timerMu sync.Mutex
	timerH  domain.Handler
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithSettings(s Settings) Option { return func(m *Manager) { m.settings.Store(&s) } }

// New returns a manager backed by st. h is the default handler and may be
// nil when every account registers its own.
func New(st *store.Store, h domain.Handler, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		log:       slog.Default(),
		now:       time.Now,
		peers:     make(map[peerKey]*peer),
		fallback:  h,
		byAccount: make(map[accountKey]domain.Handler),
		byPeer:    make(map[peerKey]domain.Handler),
	}
	def := DefaultSettings()
	m.settings.Store(&def)
	for _, o := range opts {
		o(m)
	}
	return m
}

// UpdateSettings replaces the runtime tunables. Live conversations pick up
// the new values on their next message.
func (m *Manager) UpdateSettings(s Settings) {
	m.settings.Store(&s)
	m.log.Info("conversation settings updated",
		"fragment_policy", s.FragmentPolicy.String(),
		"heartbeat", s.HeartbeatInterval,
		"resend_window", s.ResendWindow)
}

func (m *Manager) Settings() Settings { return *m.settings.Load() }

// ---------- handlers ----------

// SetDefaultHandler replaces the handler used when nothing more specific is registered.
func (m *Manager) SetDefaultHandler(h domain.Handler) {
	m.hmu.Lock()
	m.fallback = h
	m.hmu.Unlock()
}

// RegisterAccount installs h for every peer of (account, protocol). A nil h removes it.
func (m *Manager) RegisterAccount(account, protocol string, h domain.Handler) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	k := accountKey{account, protocol}
	if h == nil {
		delete(m.byAccount, k)
		return
	}
	m.byAccount[k] = h
}

// RegisterPeer installs h for one peer. A nil h removes it.
func (m *Manager) RegisterPeer(account, protocol, peer string, h domain.Handler) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	k := peerKey{account, protocol, peer}
	if h == nil {
		delete(m.byPeer, k)
		return
	}
	m.byPeer[k] = h
}

// handler resolves peer, then account, then the default.
func (m *Manager) handler(k peerKey) (domain.Handler, error) {
	m.hmu.RLock()
	defer m.hmu.RUnlock()
	if h, ok := m.byPeer[k]; ok {
		return h, nil
	}
	if h, ok := m.byAccount[accountKey{k.account, k.protocol}]; ok {
		return h, nil
	}
	if m.fallback != nil {
		return m.fallback, nil
	}
	return nil, domain.ErrNoHandler
}

// ---------- arena ----------

// peer returns the context group for k, creating it when create is set.
func (m *Manager) peer(k peerKey, create bool) (*peer, error) {
	m.mu.RLock()
	p, ok := m.peers[k]
	m.mu.RUnlock()
	if ok || !create {
		if !ok {
			return nil, ErrNoConversation
		}
		return p, nil
	}

	tag, err := m.store.EnsureInstanceTag(k.account, k.protocol)
	if err != nil {
		return nil, err
	}
	h, err := m.handler(k)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[k]; ok {
		return p, nil
	}
	p = newPeer(m, k, tag, h)
	m.peers[k] = p
	return p, nil
}

// lockPeer returns a locked group with a fresh handler binding.
func (m *Manager) lockPeer(account, protocol, name string, create bool) (*peer, error) {
	k := peerKey{account, protocol, name}
	p, err := m.peer(k, create)
	if err != nil {
		return nil, err
	}
	h, err := m.handler(k)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.h = h
	return p, nil
}

// Contexts lists a snapshot of every context, masters first within a peer.
func (m *Manager) Contexts() []domain.Conversation {
	m.mu.RLock()
	peers := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.RUnlock()

	var out []domain.Conversation
	for _, p := range peers {
		p.mu.Lock()
		out = append(out, p.master.snapshot())
		for _, c := range p.sortedChildren() {
			out = append(out, c.snapshot())
		}
		p.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.Peer != b.Peer {
			return a.Peer < b.Peer
		}
		return a.TheirInstance < b.TheirInstance
	})
	return out
}

// Forget drops every context of a peer. It refuses while any of them is
// encrypted.
func (m *Manager) Forget(account, protocol, name string) error {
	k := peerKey{account, protocol, name}
	p, err := m.lockPeer(account, protocol, name, false)
	if err != nil {
		return err
	}
	for _, c := range p.all() {
		if c.state == domain.StateEncrypted {
			p.mu.Unlock()
			return ErrStillPrivate
		}
	}
	for _, c := range p.all() {
		c.wipe()
	}
	h := p.h
	p.mu.Unlock()

	m.mu.Lock()
	delete(m.peers, k)
	m.mu.Unlock()
	h.UpdateContextList()
	return nil
}

// Close ends every private session, wipes all key material and stops the
// poll timer.
func (m *Manager) Close() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[peerKey]*peer)
	m.mu.Unlock()

	for _, p := range peers {
		p.mu.Lock()
		for _, c := range p.all() {
			if c.state == domain.StateEncrypted {
				c.sendDisconnect()
			}
			c.wipe()
		}
		h := p.h
		p.mu.Unlock()
		h.UpdateContextList()
	}
	m.stopTimer()
}

// startTimer asks h to call Poll periodically unless a timer already runs.
func (m *Manager) startTimer(h domain.Handler) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timerH != nil {
		return
	}
	m.timerH = h
	h.TimerControl(DefaultPollInterval)
}

func (m *Manager) stopTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timerH == nil {
		return
	}
	m.timerH.TimerControl(0)
	m.timerH = nil
}
