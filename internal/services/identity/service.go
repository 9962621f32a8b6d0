package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"unicode"

	"offrecord/internal/domain"
	"offrecord/internal/store"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrNoIdentity is returned when an account has no key yet.
	ErrNoIdentity = errors.New("no identity for account; run init first")
)

// Paths locates the persisted state files.
type Paths struct {
	Keys         string
	Fingerprints string
	InstanceTags string
}

// Contact is a peer together with every fingerprint seen for it.
type Contact struct {
	Username     string
	Fingerprints []store.FingerprintEntry
}

// Service loads and saves local key material around a store.
type Service struct {
	store *store.Store
	paths Paths
	// db replaces the fingerprint and instance-tag files when set.
	db *store.SQLiteBackend

	mu sync.Mutex
}

// New returns an identity service. A nil db keeps everything in files.
func New(st *store.Store, paths Paths, db *store.SQLiteBackend) *Service {
	return &Service{store: st, paths: paths, db: db}
}

// Store returns the backing store.
func (s *Service) Store() *store.Store { return s.store }

// Load reads every state file. Files that do not exist yet are skipped.
func (s *Service) Load(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := skipMissing(s.store.LoadPrivateKeys(s.paths.Keys, passphrase)); err != nil {
		return err
	}
	if s.db != nil {
		return s.store.LoadSQLite(s.db)
	}
	if err := skipMissing(s.store.LoadFingerprints(s.paths.Fingerprints)); err != nil {
		return err
	}
	return skipMissing(s.store.LoadInstanceTags(s.paths.InstanceTags))
}

func skipMissing(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GenerateIdentity creates the key and instance tag for (account, protocol),
// saves them sealed with the passphrase, and returns the fingerprint.
func (s *Service) GenerateIdentity(account, protocol, passphrase string) (domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Fingerprint{}, ErrWeakPassphrase
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GenerateIdentity(account, protocol); err != nil {
		return domain.Fingerprint{}, err
	}
	if _, err := s.store.EnsureInstanceTag(account, protocol); err != nil {
		return domain.Fingerprint{}, err
	}
	if err := s.store.SavePrivateKeys(s.paths.Keys, passphrase); err != nil {
		s.store.DeleteIdentity(account, protocol)
		return domain.Fingerprint{}, err
	}
	if err := s.saveInstanceTags(); err != nil {
		return domain.Fingerprint{}, err
	}
	fp, _ := s.store.OwnFingerprint(account, protocol)
	return fp, nil
}

// Fingerprint returns the fingerprint of the local key for (account, protocol).
func (s *Service) Fingerprint(account, protocol string) (domain.Fingerprint, error) {
	fp, ok := s.store.OwnFingerprint(account, protocol)
	if !ok {
		return domain.Fingerprint{}, ErrNoIdentity
	}
	return fp, nil
}

// InstanceTag returns the account's instance tag, assigning and saving one
// if needed.
func (s *Service) InstanceTag(account, protocol string) (domain.InstanceTag, error) {
	if t, ok := s.store.InstanceTag(account, protocol); ok {
		return t, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.store.EnsureInstanceTag(account, protocol)
	if err != nil {
		return 0, err
	}
	return t, s.saveInstanceTags()
}

// Contacts lists every known peer of the account with its fingerprints.
func (s *Service) Contacts(account, protocol string) []Contact {
	names := s.store.Contacts(account, protocol)
	out := make([]Contact, 0, len(names))
	for _, n := range names {
		out = append(out, Contact{Username: n, Fingerprints: s.store.Fingerprints(account, protocol, n)})
	}
	return out
}

// Trust records how the user verified fp for username and saves the
// fingerprint list. fp may be hex with or without grouping spaces.
func (s *Service) Trust(account, protocol, username, fp string, trust domain.Trust) error {
	f, err := domain.ParseFingerprint(fp)
	if err != nil {
		return err
	}
	if err := s.store.SetTrust(account, protocol, username, f, trust); err != nil {
		return fmt.Errorf("%s %s: %w", username, f, err)
	}
	return s.SaveFingerprints()
}

// SaveFingerprints writes the known fingerprints.
func (s *Service) SaveFingerprints() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.store.SaveSQLite(s.db)
	}
	return s.store.SaveFingerprints(s.paths.Fingerprints)
}

func (s *Service) saveInstanceTags() error {
	if s.db != nil {
		return s.store.SaveSQLite(s.db)
	}
	return s.store.SaveInstanceTags(s.paths.InstanceTags)
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}
