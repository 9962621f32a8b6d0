package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"offrecord/internal/domain"
)

// formatVersion is written into every persisted file.
const formatVersion = 1

type keyFile struct {
	Version int         `json:"version"`
	Keys    []keyRecord `json:"keys"`
}

type keyRecord struct {
	Account  string    `json:"account"`
	Protocol string    `json:"protocol"`
	Public   []byte    `json:"public"`
	Private  []byte    `json:"private"`
	Created  time.Time `json:"created"`
}

type fingerprintFile struct {
	Version  int             `json:"version"`
	Contacts []contactRecord `json:"contacts"`
}

type contactRecord struct {
	Account      string              `json:"account"`
	Protocol     string              `json:"protocol"`
	Username     string              `json:"username"`
	Fingerprints []fingerprintRecord `json:"fingerprints"`
}

type fingerprintRecord struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	Trust       domain.Trust       `json:"trust"`
	FirstSeen   time.Time          `json:"first_seen"`
	LastSeen    time.Time          `json:"last_seen"`
}

type instagFile struct {
	Version int            `json:"version"`
	Tags    []instagRecord `json:"tags"`
}

type instagRecord struct {
	Account  string             `json:"account"`
	Protocol string             `json:"protocol"`
	Tag      domain.InstanceTag `json:"tag"`
}

func checkVersion(v int) error {
	if v < 1 || v > formatVersion {
		return fmt.Errorf("unsupported format version %d", v)
	}
	return nil
}

func checkAccount(account, protocol string) error {
	if account == "" || protocol == "" {
		return errors.New("empty account or protocol")
	}
	return nil
}

// ---------- private keys ----------

func (f *keyFile) build() (map[accountKey]domain.Identity, error) {
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	out := make(map[accountKey]domain.Identity, len(f.Keys))
	for i, r := range f.Keys {
		if err := checkAccount(r.Account, r.Protocol); err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		priv, err := domain.ParseEd25519Private(r.Private)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		pub, err := domain.ParseEd25519Public(r.Public)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		if priv.Public() != pub {
			return nil, fmt.Errorf("key %d: public key does not match private key", i)
		}
		k := accountKey{r.Account, r.Protocol}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("key %d: duplicate entry for %s/%s", i, r.Account, r.Protocol)
		}
		out[k] = domain.Identity{
			Account: r.Account, Protocol: r.Protocol,
			Public: pub, Private: priv, Created: r.Created,
		}
	}
	return out, nil
}

// LoadPrivateKeys replaces the in-memory identities with the content of
// path. A sealed file needs the passphrase it was written with.
func (s *Store) LoadPrivateKeys(path, passphrase string) error {
	b, err := readFile(path)
	if err != nil {
		return err
	}
	if isSealed(b) {
		if b, err = open(passphrase, b); err != nil {
			if errors.Is(err, ErrWrongPassphrase) {
				return fmt.Errorf("%s: %w", path, err)
			}
			return &ParseError{Path: path, Err: err}
		}
	}
	var f keyFile
	if err := json.Unmarshal(b, &f); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	ids, err := f.build()
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}

	s.mu.Lock()
	s.ids = ids
	s.mu.Unlock()
	s.log.Debug("private keys loaded", "path", path, "count", len(ids))
	return nil
}

// SavePrivateKeys writes every identity to path, sealed under passphrase
// unless it is empty.
func (s *Store) SavePrivateKeys(path, passphrase string) error {
	s.mu.RLock()
	f := keyFile{Version: formatVersion, Keys: []keyRecord{}}
	for _, id := range s.ids {
		f.Keys = append(f.Keys, keyRecord{
			Account: id.Account, Protocol: id.Protocol,
			Public: id.Public.Slice(), Private: id.Private.Slice(),
			Created: id.Created,
		})
	}
	kdf := s.kdf
	s.mu.RUnlock()

	sort.Slice(f.Keys, func(i, j int) bool {
		a, b := f.Keys[i], f.Keys[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		return a.Protocol < b.Protocol
	})
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if passphrase != "" {
		if raw, err = seal(kdf, passphrase, raw); err != nil {
			return err
		}
	}
	return writeFile(path, raw)
}

// ---------- fingerprints ----------

func (f *fingerprintFile) build() (map[contactKey][]FingerprintEntry, error) {
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	out := make(map[contactKey][]FingerprintEntry, len(f.Contacts))
	for i, c := range f.Contacts {
		if err := checkAccount(c.Account, c.Protocol); err != nil {
			return nil, fmt.Errorf("contact %d: %w", i, err)
		}
		if c.Username == "" {
			return nil, fmt.Errorf("contact %d: empty username", i)
		}
		k := contactKey{c.Account, c.Protocol, c.Username}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("contact %d: duplicate entry for %s", i, c.Username)
		}
		seen := make(map[domain.Fingerprint]bool, len(c.Fingerprints))
		list := make([]FingerprintEntry, 0, len(c.Fingerprints))
		for _, r := range c.Fingerprints {
			if r.Fingerprint.IsZero() {
				return nil, fmt.Errorf("contact %s: zero fingerprint", c.Username)
			}
			if seen[r.Fingerprint] {
				return nil, fmt.Errorf("contact %s: duplicate fingerprint %s", c.Username, r.Fingerprint)
			}
			seen[r.Fingerprint] = true
			list = append(list, FingerprintEntry(r))
		}
		if len(list) > 0 {
			out[k] = list
		}
	}
	return out, nil
}

func (s *Store) fingerprintSnapshot() fingerprintFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := fingerprintFile{Version: formatVersion, Contacts: []contactRecord{}}
	for k, list := range s.contacts {
		c := contactRecord{Account: k.account, Protocol: k.protocol, Username: k.username}
		for _, e := range list {
			c.Fingerprints = append(c.Fingerprints, fingerprintRecord(e))
		}
		f.Contacts = append(f.Contacts, c)
	}
	sort.Slice(f.Contacts, func(i, j int) bool {
		a, b := f.Contacts[i], f.Contacts[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		return a.Username < b.Username
	})
	return f
}

func (s *Store) replaceFingerprints(m map[contactKey][]FingerprintEntry) {
	s.mu.Lock()
	s.contacts = m
	s.mu.Unlock()
}

// LoadFingerprints replaces the known fingerprints with the content of path.
func (s *Store) LoadFingerprints(path string) error {
	var f fingerprintFile
	if err := readJSON(path, &f); err != nil {
		return err
	}
	m, err := f.build()
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}
	s.replaceFingerprints(m)
	s.log.Debug("fingerprints loaded", "path", path, "contacts", len(m))
	return nil
}

func (s *Store) SaveFingerprints(path string) error {
	return writeJSON(path, s.fingerprintSnapshot())
}

// ---------- instance tags ----------

func (f *instagFile) build() (map[accountKey]domain.InstanceTag, error) {
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	out := make(map[accountKey]domain.InstanceTag, len(f.Tags))
	for i, r := range f.Tags {
		if err := checkAccount(r.Account, r.Protocol); err != nil {
			return nil, fmt.Errorf("tag %d: %w", i, err)
		}
		if !r.Tag.Valid() {
			return nil, fmt.Errorf("tag %d: %w: %s", i, domain.ErrInvalidTag, r.Tag)
		}
		k := accountKey{r.Account, r.Protocol}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("tag %d: duplicate entry for %s/%s", i, r.Account, r.Protocol)
		}
		out[k] = r.Tag
	}
	return out, nil
}

func (s *Store) instagSnapshot() instagFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := instagFile{Version: formatVersion, Tags: []instagRecord{}}
	for k, t := range s.instags {
		f.Tags = append(f.Tags, instagRecord{Account: k.account, Protocol: k.protocol, Tag: t})
	}
	sort.Slice(f.Tags, func(i, j int) bool {
		a, b := f.Tags[i], f.Tags[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		return a.Protocol < b.Protocol
	})
	return f
}

func (s *Store) replaceInstanceTags(m map[accountKey]domain.InstanceTag) {
	s.mu.Lock()
	s.instags = m
	s.mu.Unlock()
}

// LoadInstanceTags replaces the local instance tags with the content of path.
func (s *Store) LoadInstanceTags(path string) error {
	var f instagFile
	if err := readJSON(path, &f); err != nil {
		return err
	}
	m, err := f.build()
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}
	s.replaceInstanceTags(m)
	return nil
}

func (s *Store) SaveInstanceTags(path string) error {
	return writeJSON(path, s.instagSnapshot())
}
