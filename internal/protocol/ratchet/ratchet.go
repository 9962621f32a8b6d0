package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/chacha20"

	"offrecord/internal/crypto"
	"offrecord/internal/domain"
	"offrecord/internal/protocol/ake"
	"offrecord/internal/protocol/wire"
	"offrecord/internal/util/antireplay"
	"offrecord/internal/util/memzero"
)

const maxSkippedMK = 1000

var (
	errStaleKeyID   = errors.New("key id no longer held")
	errUnknownKeyID = errors.New("key id not yet known")
	errReplay       = errors.New("counter already used")
	errTooFarAhead  = errors.New("counter skips too many messages")
	errBadMAC       = errors.New("MAC verification failed")
)

type ourKey struct {
	id   uint32
	priv domain.X25519Private
	pub  domain.X25519Public
}

type theirKey struct {
	id  uint32
	pub domain.X25519Public
}

type pairID struct{ ours, theirs uint32 }

// session is the key material for one (our key, their key) pair.
type session struct {
	keys domain.SessionKeys

	sendCK [32]byte
	sendN  uint64

	recvCK  [32]byte
	recvN   uint64
	window  antireplay.Window
	skipped map[uint64][32]byte

	received bool
	lastUsed time.Time
}

func newSession(keys domain.SessionKeys, now time.Time) *session {
	return &session{
		keys:     keys,
		sendCK:   keys.SendEnc,
		recvCK:   keys.RecvEnc,
		skipped:  make(map[uint64][32]byte),
		lastUsed: now,
	}
}

func (s *session) wipe() {
	memzero.Zero(s.keys.SendEnc[:], s.keys.SendMAC[:], s.keys.RecvEnc[:], s.keys.RecvMAC[:], s.keys.Extra[:])
	memzero.Zero(s.sendCK[:], s.recvCK[:])
	clear(s.skipped)
}

// Opened is a decrypted data message.
type Opened struct {
	Message []byte
	TLVs    []domain.TLV
	Flags   byte
	// Extra is the extra symmetric key of the session the message used.
	Extra [32]byte
}

// Ratchet holds the rotating DH keys and per-pair sessions of one encrypted
// conversation.
type Ratchet struct {
	ours   [2]ourKey   // [0] previous, [1] current
	theirs [2]theirKey // [0] previous, [1] current; id 0 means absent

	sessions map[pairID]*session
	reveal   []byte
	rotated  time.Time

	now func() time.Time
	log *slog.Logger
}

// Option configures a Ratchet.
type Option func(*Ratchet)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Ratchet) { r.now = now } }

// WithLogger sets the logger for rotation events.
func WithLogger(l *slog.Logger) Option { return func(r *Ratchet) { r.log = l } }

// New starts a ratchet from a completed key exchange. The AKE key becomes our
// previous key and a fresh key is generated to advertise as the next one.
func New(est *ake.Established, opts ...Option) (*Ratchet, error) {
	r := &Ratchet{
		sessions: make(map[pairID]*session),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}

	next, err := generate(est.OurKeyID + 1)
	if err != nil {
		return nil, err
	}
	r.ours[0] = ourKey{id: est.OurKeyID, priv: est.OurPriv, pub: est.OurPub}
	r.ours[1] = next
	r.theirs[1] = theirKey{id: est.TheirKeyID, pub: est.TheirPub}
	r.rotated = r.now()
	r.sessions[pairID{est.OurKeyID, est.TheirKeyID}] = newSession(est.Keys, r.rotated)
	return r, nil
}

func generate(id uint32) (ourKey, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return ourKey{}, err
	}
	return ourKey{id: id, priv: priv, pub: pub}, nil
}

// Encrypt seals msg and tlvs into a data message addressed with h. The
// message uses our previous key, which the peer is known to hold, and
// advertises our current key as the next one.
func (r *Ratchet) Encrypt(h wire.Header, msg []byte, tlvs []domain.TLV, flags byte) (*wire.Data, error) {
	body, err := wire.EncodePlaintext(msg, tlvs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncryptionFailed, err)
	}
	our, their := r.ours[0], r.theirs[1]
	s, err := r.session(our, their)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncryptionFailed, err)
	}

	s.sendN++
	mk := kdfCK(&s.sendCK)
	ct := xorStream(mk[:], body)
	memzero.Zero(mk[:], body)
	s.lastUsed = r.now()

	d := &wire.Data{
		Flags:          flags,
		SenderKeyID:    our.id,
		RecipientKeyID: their.id,
		NextDH:         r.ours[1].pub,
		Counter:        s.sendN,
		Encrypted:      ct,
		OldMACKeys:     r.reveal,
	}
	copy(d.MAC[:], mac(s.keys.SendMAC[:], d.MACInput(h)))
	r.reveal = nil
	return d, nil
}

// Decrypt verifies and opens d. Nothing is committed unless the MAC
// verifies, the counter is fresh and the body parses.
func (r *Ratchet) Decrypt(h wire.Header, d *wire.Data) (Opened, error) {
	our, err := r.findOurs(d.RecipientKeyID)
	if err != nil {
		return Opened{}, err
	}
	their, err := r.findTheirs(d.SenderKeyID)
	if err != nil {
		return Opened{}, err
	}

	id := pairID{our.id, their.id}
	s, existing := r.sessions[id]
	if !existing {
		if s, err = derive(our, their, r.now()); err != nil {
			return Opened{}, fmt.Errorf("%w: %v", domain.ErrMessageUnreadable, err)
		}
	}

	if !hmac.Equal(d.MAC[:], mac(s.keys.RecvMAC[:], d.MACInput(h))) {
		return Opened{}, fmt.Errorf("%w: %v", domain.ErrMessageUnreadable, errBadMAC)
	}
	if !s.window.Fresh(d.Counter) {
		return Opened{}, fmt.Errorf("%w: %v", domain.ErrMessageMalformed, errReplay)
	}

	// Derive the message key on copies so a failure leaves the chain intact.
	var mk [32]byte
	var stash map[uint64][32]byte
	ck := s.recvCK
	switch {
	case d.Counter > s.recvN:
		if d.Counter-s.recvN-1 > maxSkippedMK {
			return Opened{}, fmt.Errorf("%w: %v", domain.ErrMessageMalformed, errTooFarAhead)
		}
		stash = make(map[uint64][32]byte)
		for n := s.recvN + 1; n < d.Counter; n++ {
			stash[n] = kdfCK(&ck)
		}
		mk = kdfCK(&ck)
	default:
		k, ok := s.skipped[d.Counter]
		if !ok {
			return Opened{}, fmt.Errorf("%w: %v", domain.ErrMessageMalformed, errReplay)
		}
		mk = k
	}

	body := xorStream(mk[:], d.Encrypted)
	memzero.Zero(mk[:])
	msg, tlvs, err := wire.DecodePlaintext(body)
	if err != nil {
		return Opened{}, fmt.Errorf("%w: %v", domain.ErrMessageMalformed, err)
	}
	rotateTheirs := their.id == r.theirs[1].id && d.NextDH != r.theirs[1].pub
	if rotateTheirs && !crypto.ValidX25519(d.NextDH) {
		return Opened{}, fmt.Errorf("%w: invalid next DH key", domain.ErrMessageMalformed)
	}

	// Commit.
	if !existing {
		r.sessions[id] = s
	}
	if d.Counter > s.recvN {
		memzero.Zero32(&s.recvCK)
		s.recvCK, s.recvN = ck, d.Counter
		for n, k := range stash {
			if len(s.skipped) >= maxSkippedMK {
				break
			}
			s.skipped[n] = k
		}
	} else {
		delete(s.skipped, d.Counter)
	}
	s.window.Mark(d.Counter)
	s.received = true
	s.lastUsed = r.now()
	out := Opened{Message: msg, TLVs: tlvs, Flags: d.Flags, Extra: s.keys.Extra}

	if our.id == r.ours[1].id {
		if err := r.rotateOurs(); err != nil {
			return out, err
		}
	}
	if rotateTheirs {
		r.rotateTheirs(d.NextDH)
	}
	return out, nil
}

// ExtraSymmetricKey returns the extra key of the session used for sending.
func (r *Ratchet) ExtraSymmetricKey() ([32]byte, error) {
	s, err := r.session(r.ours[0], r.theirs[1])
	if err != nil {
		return [32]byte{}, err
	}
	return s.keys.Extra, nil
}

// ForgetStale drops the peer's previous key and every session using it when
// no rotation happened within maxAge. Their MAC keys are queued for reveal.
// It returns the number of sessions retired.
func (r *Ratchet) ForgetStale(now time.Time, maxAge time.Duration) int {
	if r.theirs[0].id == 0 || now.Sub(r.rotated) <= maxAge {
		return 0
	}
	old := r.theirs[0].id
	r.theirs[0] = theirKey{}
	return r.retire(func(p pairID) bool { return p.theirs == old })
}

// Wipe destroys every key. The ratchet is unusable afterwards.
func (r *Ratchet) Wipe() {
	r.retire(func(pairID) bool { return true })
	for i := range r.ours {
		memzero.Zero(r.ours[i].priv[:])
		r.ours[i] = ourKey{}
	}
	r.theirs = [2]theirKey{}
	r.reveal = nil
}

// KeyIDs reports the key ids currently held, previous then current.
func (r *Ratchet) KeyIDs() (ourPrev, ourCur, theirPrev, theirCur uint32) {
	return r.ours[0].id, r.ours[1].id, r.theirs[0].id, r.theirs[1].id
}

// HasSession reports whether key material for the pair is still held.
func (r *Ratchet) HasSession(ours, theirs uint32) bool {
	_, ok := r.sessions[pairID{ours, theirs}]
	return ok
}

// PendingReveal returns the MAC keys that the next outgoing message will reveal.
func (r *Ratchet) PendingReveal() []byte { return r.reveal }

func (r *Ratchet) rotateOurs() error {
	next, err := generate(r.ours[1].id + 1)
	if err != nil {
		return err
	}
	old := r.ours[0].id
	r.retire(func(p pairID) bool { return p.ours == old })
	memzero.Zero(r.ours[0].priv[:])
	r.ours[0], r.ours[1] = r.ours[1], next
	r.rotated = r.now()
	r.log.Debug("ratchet: rotated our key", "keyid", next.id)
	return nil
}

func (r *Ratchet) rotateTheirs(next domain.X25519Public) {
	old := r.theirs[0].id
	if old != 0 {
		r.retire(func(p pairID) bool { return p.theirs == old })
	}
	r.theirs[0] = r.theirs[1]
	r.theirs[1] = theirKey{id: r.theirs[0].id + 1, pub: next}
	r.rotated = r.now()
	r.log.Debug("ratchet: rotated their key", "keyid", r.theirs[1].id)
}

func (r *Ratchet) retire(match func(pairID) bool) int {
	n := 0
	for id, s := range r.sessions {
		if !match(id) {
			continue
		}
		if s.received {
			r.reveal = append(r.reveal, s.keys.RecvMAC[:]...)
		}
		s.wipe()
		delete(r.sessions, id)
		n++
	}
	return n
}

func (r *Ratchet) session(our ourKey, their theirKey) (*session, error) {
	id := pairID{our.id, their.id}
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	s, err := derive(our, their, r.now())
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	return s, nil
}

func (r *Ratchet) findOurs(id uint32) (ourKey, error) {
	for _, k := range r.ours {
		if k.id != 0 && k.id == id {
			return k, nil
		}
	}
	if id < r.ours[0].id {
		return ourKey{}, fmt.Errorf("%w: our %v", domain.ErrMessageMalformed, errStaleKeyID)
	}
	return ourKey{}, fmt.Errorf("%w: our %v", domain.ErrMessageUnreadable, errUnknownKeyID)
}

func (r *Ratchet) findTheirs(id uint32) (theirKey, error) {
	for _, k := range r.theirs {
		if k.id != 0 && k.id == id {
			return k, nil
		}
	}
	if id < r.theirs[1].id {
		return theirKey{}, fmt.Errorf("%w: their %v", domain.ErrMessageMalformed, errStaleKeyID)
	}
	return theirKey{}, fmt.Errorf("%w: their %v", domain.ErrMessageUnreadable, errUnknownKeyID)
}

func derive(our ourKey, their theirKey, now time.Time) (*session, error) {
	secret, err := crypto.DH(our.priv, their.pub)
	if err != nil {
		return nil, err
	}
	keys := crypto.SessionKeys(secret[:], our.pub, their.pub)
	memzero.Zero(secret[:])
	return newSession(keys, now), nil
}

// kdfCK returns the next message key and advances ck in place, wiping the
// previous chain key.
func kdfCK(ck *[32]byte) [32]byte {
	var mk, next [32]byte
	crypto.Derive(ck[:], "offrecord chain v1", mk[:], next[:])
	memzero.Zero(ck[:])
	*ck = next
	return mk
}

func mac(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

func xorStream(key, b []byte) []byte {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce[:])
	if err != nil {
		return nil
	}
	out := make([]byte, len(b))
	c.XORKeyStream(out, b)
	return out
}
