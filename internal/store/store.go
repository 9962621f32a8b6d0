package store

import (
	"crypto/rand"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"offrecord/internal/crypto"
	"offrecord/internal/domain"
)

type accountKey struct{ account, protocol string }

type contactKey struct{ account, protocol, username string }

// Store holds identities, fingerprints and instance tags. It is safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex

	ids      map[accountKey]domain.Identity
	contacts map[contactKey][]FingerprintEntry
	instags  map[accountKey]domain.InstanceTag

	kdf  KDF
	rand io.Reader
	now  func() time.Time
	log  *slog.Logger
}

type Option func(*Store)

// WithKDF selects the passphrase KDF used when sealing the private key file.
func WithKDF(k KDF) Option { return func(s *Store) { s.kdf = k } }

// WithRand replaces crypto/rand, mainly for tests.
func WithRand(r io.Reader) Option { return func(s *Store) { s.rand = r } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

func New(opts ...Option) *Store {
	s := &Store{
		ids:      make(map[accountKey]domain.Identity),
		contacts: make(map[contactKey][]FingerprintEntry),
		instags:  make(map[accountKey]domain.InstanceTag),
		kdf:      KDFScrypt,
		rand:     rand.Reader,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ---------- Identity ----------

// GenerateIdentity creates the long-term key for (account, protocol). An
// existing key is never replaced; delete it first.
func (s *Store) GenerateIdentity(account, protocol string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := accountKey{account, protocol}
	if _, ok := s.ids[k]; ok {
		return domain.Identity{}, ErrIdentityExists
	}
	priv, pub, err := crypto.GenerateEd25519(s.rand)
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{
		Account:  account,
		Protocol: protocol,
		Public:   pub,
		Private:  priv,
		Created:  s.now().UTC(),
	}
	s.ids[k] = id
	s.log.Info("identity generated", "account", account, "protocol", protocol,
		"fingerprint", crypto.Fingerprint(pub).String())
	return id, nil
}

func (s *Store) Identity(account, protocol string) (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[accountKey{account, protocol}]
	return id, ok
}

// DeleteIdentity forgets the key for (account, protocol). It reports
// whether one existed.
func (s *Store) DeleteIdentity(account, protocol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := accountKey{account, protocol}
	id, ok := s.ids[k]
	if ok {
		clear(id.Private[:])
		delete(s.ids, k)
	}
	return ok
}

// Identities lists every identity ordered by account then protocol.
func (s *Store) Identities() []domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Identity, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out
}

// OwnFingerprint returns the fingerprint of the identity for (account, protocol).
func (s *Store) OwnFingerprint(account, protocol string) (domain.Fingerprint, bool) {
	id, ok := s.Identity(account, protocol)
	if !ok {
		return domain.Fingerprint{}, false
	}
	return crypto.Fingerprint(id.Public), true
}
