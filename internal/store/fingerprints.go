package store

import (
	"sort"
	"time"

	"offrecord/internal/domain"
)

// FingerprintEntry is one long-term key seen for a contact.
type FingerprintEntry struct {
	Fingerprint domain.Fingerprint
	Trust       domain.Trust
	FirstSeen   time.Time
	LastSeen    time.Time
}

// RecordStatus tells how a fingerprint relates to what was known before.
type RecordStatus int

const (
	// StatusKnown: the fingerprint was already on file.
	StatusKnown RecordStatus = iota
	// StatusNew: first fingerprint for this contact.
	StatusNew
	// StatusChanged: the contact presented a key different from every key on file.
	StatusChanged
)

func (r RecordStatus) String() string {
	switch r {
	case StatusKnown:
		return "known"
	case StatusNew:
		return "new"
	case StatusChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// RecordFingerprint notes that username presented fp. A previously unseen
// fingerprint is added to the contact's set and never replaces existing
// entries.
func (s *Store) RecordFingerprint(account, protocol, username string, fp domain.Fingerprint) (FingerprintEntry, RecordStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := contactKey{account, protocol, username}
	now := s.now().UTC()
	list := s.contacts[k]
	for i := range list {
		if list[i].Fingerprint == fp {
			list[i].LastSeen = now
			return list[i], StatusKnown
		}
	}
	e := FingerprintEntry{Fingerprint: fp, FirstSeen: now, LastSeen: now}
	status := StatusNew
	if len(list) > 0 {
		status = StatusChanged
		s.log.Warn("contact presented a new key", "account", account, "peer", username,
			"fingerprint", fp.String())
	}
	s.contacts[k] = append(list, e)
	return e, status
}

// FingerprintFor returns the most recently seen fingerprint of username.
func (s *Store) FingerprintFor(account, protocol, username string) (FingerprintEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.contacts[contactKey{account, protocol, username}]
	if len(list) == 0 {
		return FingerprintEntry{}, false
	}
	best := list[0]
	for _, e := range list[1:] {
		if !e.LastSeen.Before(best.LastSeen) {
			best = e
		}
	}
	return best, true
}

// Lookup returns the entry for one specific fingerprint.
func (s *Store) Lookup(account, protocol, username string, fp domain.Fingerprint) (FingerprintEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.contacts[contactKey{account, protocol, username}] {
		if e.Fingerprint == fp {
			return e, true
		}
	}
	return FingerprintEntry{}, false
}

// Fingerprints lists every fingerprint on file for username in the order
// they were first seen.
func (s *Store) Fingerprints(account, protocol, username string) []FingerprintEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]FingerprintEntry(nil), s.contacts[contactKey{account, protocol, username}]...)
}

// Contacts lists the usernames with at least one fingerprint for (account, protocol).
func (s *Store) Contacts(account, protocol string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.contacts {
		if k.account == account && k.protocol == protocol {
			out = append(out, k.username)
		}
	}
	sort.Strings(out)
	return out
}

// SetTrust records how fp was verified. An empty trust marks it unverified.
func (s *Store) SetTrust(account, protocol, username string, fp domain.Fingerprint, trust domain.Trust) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.contacts[contactKey{account, protocol, username}]
	for i := range list {
		if list[i].Fingerprint == fp {
			list[i].Trust = trust
			return nil
		}
	}
	return ErrUnknownFingerprint
}

// ForgetFingerprint removes fp from the contact's set. The contact itself
// disappears with its last fingerprint.
func (s *Store) ForgetFingerprint(account, protocol, username string, fp domain.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := contactKey{account, protocol, username}
	list := s.contacts[k]
	for i := range list {
		if list[i].Fingerprint != fp {
			continue
		}
		list = append(list[:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.contacts, k)
		} else {
			s.contacts[k] = list
		}
		return nil
	}
	return ErrUnknownFingerprint
}
