package store

import (
	"encoding/binary"
	"fmt"

	"offrecord/internal/domain"
)

// InstanceTag returns the local instance tag for (account, protocol).
func (s *Store) InstanceTag(account, protocol string) (domain.InstanceTag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.instags[accountKey{account, protocol}]
	return t, ok
}

// EnsureInstanceTag returns the existing tag or draws a new random one.
func (s *Store) EnsureInstanceTag(account, protocol string) (domain.InstanceTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := accountKey{account, protocol}
	if t, ok := s.instags[k]; ok {
		return t, nil
	}
	var b [4]byte
	for {
		if _, err := s.rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("store: instance tag: %w", err)
		}
		if t := domain.InstanceTag(binary.BigEndian.Uint32(b[:])); t.Valid() {
			s.instags[k] = t
			return t, nil
		}
	}
}

// SetInstanceTag stores an explicit tag; values below MinInstanceTag are rejected.
func (s *Store) SetInstanceTag(account, protocol string, t domain.InstanceTag) error {
	if !t.Valid() {
		return domain.ErrInvalidTag
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instags[accountKey{account, protocol}] = t
	return nil
}
