package ake

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/chacha20"

	"offrecord/internal/crypto"
	"offrecord/internal/domain"
	"offrecord/internal/protocol/wire"
	"offrecord/internal/util/memzero"
)

// State is the authentication state of one conversation.
type State int

const (
	StateNone State = iota
	StateAwaitingDHKey
	StateAwaitingRevealSig
	StateAwaitingSig
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateAwaitingDHKey:
		return "awaiting-dh-key"
	case StateAwaitingRevealSig:
		return "awaiting-reveal-signature"
	case StateAwaitingSig:
		return "awaiting-signature"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// The DH key negotiated by the exchange always carries key id 1.
const akeKeyID uint32 = 1

// Sizes of the AKE-specific fields.
const (
	commitKeySize = chacha20.KeySize
	signedSize    = 32 + 4 + 64 // public key, key id, signature
)

var errBadCommit = errors.New("ake: revealed key does not match commitment")

// Established is the outcome of a completed exchange.
type Established struct {
	SSID [8]byte

	OurKeyID uint32
	OurPriv  domain.X25519Private
	OurPub   domain.X25519Public

	TheirKeyID    uint32
	TheirPub      domain.X25519Public
	TheirIdentity domain.Ed25519Public
	Fingerprint   domain.Fingerprint

	// Keys are the directional keys for the (OurKeyID, TheirKeyID) pair.
	Keys domain.SessionKeys

	// Initiated is InitiatedLocal when we sent the DH-Commit.
	Initiated domain.Initiated
}

// Result is what a handler produced: an optional reply to inject and an
// optional established session.
type Result struct {
	Reply       wire.Payload
	Established *Established
}

// derived holds every key computed from the shared secret.
type derived struct {
	ssid   [8]byte
	c, cp  [32]byte
	m1, m2 [32]byte
	m1p    [32]byte
	m2p    [32]byte
}

func (d *derived) wipe() {
	memzero.Zero(d.ssid[:], d.c[:], d.cp[:], d.m1[:], d.m2[:], d.m1p[:], d.m2p[:])
}

// AKE runs the key exchange for one conversation. It is not safe for
// concurrent use; the conversation lock serialises calls.
type AKE struct {
	id  domain.Identity
	log *slog.Logger
	now func() time.Time

	state   State
	started time.Time

	// our ephemeral DH key (x for the initiator, y for the responder)
	priv domain.X25519Private
	pub  domain.X25519Public

	// initiator: commit key and the commit we sent
	r      [commitKeySize]byte
	commit *wire.DHCommit

	// responder: the commit we received and the DH-Key we answered with
	theirEncGx  []byte
	theirHashGx [32]byte
	dhKey       *wire.DHKey

	// initiator: their gy and the reveal-signature we answered with
	theirPub  domain.X25519Public
	revealSig *wire.RevealSig

	keys derived
}

// Option configures an AKE.
type Option func(*AKE)

// WithLogger sets the logger used for protocol steps.
func WithLogger(l *slog.Logger) Option { return func(a *AKE) { a.log = l } }

// WithClock overrides time.Now for expiry bookkeeping.
func WithClock(now func() time.Time) Option { return func(a *AKE) { a.now = now } }

// New returns an idle exchange signing with id.
func New(id domain.Identity, opts ...Option) *AKE {
	a := &AKE{id: id, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// State returns the current authentication state.
func (a *AKE) State() State { return a.state }

// Expired reports whether a half-completed exchange is older than maxAge.
func (a *AKE) Expired(now time.Time, maxAge time.Duration) bool {
	return a.state != StateNone && now.Sub(a.started) > maxAge
}

// Clone returns an independent copy. A DH-Commit sent before the peer's
// instance was known is continued separately by every instance answering it.
func (a *AKE) Clone() *AKE {
	c := *a
	c.theirEncGx = append([]byte(nil), a.theirEncGx...)
	return &c
}

// Reset forgets all ephemeral material and returns to StateNone.
func (a *AKE) Reset() {
	memzero.Zero(a.priv[:], a.r[:])
	a.keys.wipe()
	*a = AKE{id: a.id, log: a.log, now: a.now}
}

// StartAKE begins a new exchange as initiator and returns the DH-Commit to send.
func (a *AKE) StartAKE() (*wire.DHCommit, error) {
	a.Reset()
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	if _, err := rand.Read(a.r[:]); err != nil {
		return nil, err
	}
	a.priv, a.pub = priv, pub
	a.commit = &wire.DHCommit{
		EncryptedGx: xorStream(a.r[:], pub[:]),
		HashedGx:    sha256.Sum256(pub[:]),
	}
	a.enter(StateAwaitingDHKey)
	return a.commit, nil
}

// HandleDHCommit processes a peer's commitment.
func (a *AKE) HandleDHCommit(m *wire.DHCommit) (Result, error) {
	switch a.state {
	case StateAwaitingDHKey:
		// Both sides committed. The larger hashed value keeps the initiator role.
		if bytes.Compare(a.commit.HashedGx[:], m.HashedGx[:]) > 0 {
			a.log.Debug("ake: commit collision, keeping initiator role")
			return Result{Reply: a.commit}, nil
		}
		a.log.Debug("ake: commit collision, yielding to peer")
		return a.respond(m)
	case StateAwaitingRevealSig:
		// Retransmitted or fresh commit: keep our y, remember the new commitment.
		a.theirEncGx = append([]byte(nil), m.EncryptedGx...)
		a.theirHashGx = m.HashedGx
		return Result{Reply: a.dhKey}, nil
	default:
		return a.respond(m)
	}
}

func (a *AKE) respond(m *wire.DHCommit) (Result, error) {
	a.Reset()
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return Result{}, err
	}
	a.priv, a.pub = priv, pub
	a.theirEncGx = append([]byte(nil), m.EncryptedGx...)
	a.theirHashGx = m.HashedGx
	a.dhKey = &wire.DHKey{Gy: pub}
	a.enter(StateAwaitingRevealSig)
	return Result{Reply: a.dhKey}, nil
}

// HandleDHKey processes the responder's DH value and answers with our
// revealed commitment and signature.
func (a *AKE) HandleDHKey(m *wire.DHKey) (Result, error) {
	switch a.state {
	case StateAwaitingDHKey:
	case StateAwaitingSig:
		if m.Gy == a.theirPub {
			return Result{Reply: a.revealSig}, nil
		}
		return Result{}, nil
	default:
		return Result{}, nil
	}

	if !crypto.ValidX25519(m.Gy) {
		a.Reset()
		return Result{}, fmt.Errorf("%w: invalid DH value", domain.ErrMessageMalformed)
	}
	a.theirPub = m.Gy
	if err := a.derive(); err != nil {
		a.Reset()
		return Result{}, err
	}

	encSig, mac := a.sign(a.keys.m1, a.keys.m2, a.keys.c, a.pub, a.theirPub)
	a.revealSig = &wire.RevealSig{
		RevealedKey:  append([]byte(nil), a.r[:]...),
		EncryptedSig: encSig,
		MAC:          mac,
	}
	a.enter(StateAwaitingSig)
	return Result{Reply: a.revealSig}, nil
}

// HandleRevealSignature verifies the initiator, replies with our own
// signature, and completes the exchange on our side.
func (a *AKE) HandleRevealSignature(m *wire.RevealSig) (Result, error) {
	if a.state != StateAwaitingRevealSig {
		return Result{}, nil
	}
	fail := func(err error) (Result, error) {
		a.log.Warn("ake: reveal-signature rejected", "err", err)
		a.Reset()
		return Result{}, fmt.Errorf("%w: %v", domain.ErrMessageMalformed, err)
	}

	if len(m.RevealedKey) != commitKeySize {
		return fail(errBadCommit)
	}
	gxBytes := xorStream(m.RevealedKey, a.theirEncGx)
	if sum := sha256.Sum256(gxBytes); len(gxBytes) != 32 || !hmac.Equal(sum[:], a.theirHashGx[:]) {
		return fail(errBadCommit)
	}
	gx := domain.MustX25519Public(gxBytes)
	if !crypto.ValidX25519(gx) {
		return fail(errors.New("invalid DH value"))
	}
	a.theirPub = gx
	if err := a.derive(); err != nil {
		return fail(err)
	}

	theirID, err := a.verify(m.EncryptedSig, m.MAC, a.keys.m1, a.keys.m2, a.keys.c, a.theirPub, a.pub)
	if err != nil {
		return fail(err)
	}

	est, err := a.established(theirID, domain.InitiatedRemote)
	if err != nil {
		return fail(err)
	}
	encSig, mac := a.sign(a.keys.m1p, a.keys.m2p, a.keys.cp, a.pub, a.theirPub)
	a.Reset()
	return Result{Reply: &wire.Sig{EncryptedSig: encSig, MAC: mac}, Established: est}, nil
}

// HandleSignature verifies the responder and completes the exchange.
func (a *AKE) HandleSignature(m *wire.Sig) (Result, error) {
	if a.state != StateAwaitingSig {
		return Result{}, nil
	}
	theirID, err := a.verify(m.EncryptedSig, m.MAC, a.keys.m1p, a.keys.m2p, a.keys.cp, a.theirPub, a.pub)
	if err != nil {
		a.log.Warn("ake: signature rejected", "err", err)
		a.Reset()
		return Result{}, fmt.Errorf("%w: %v", domain.ErrMessageMalformed, err)
	}
	est, err := a.established(theirID, domain.InitiatedLocal)
	a.Reset()
	if err != nil {
		a.log.Warn("ake: session keys unavailable", "err", err)
		return Result{}, fmt.Errorf("%w: %v", domain.ErrMessageMalformed, err)
	}
	return Result{Established: est}, nil
}

func (a *AKE) enter(s State) {
	if a.state == StateNone {
		a.started = a.now()
	}
	a.log.Debug("ake: state change", "from", a.state, "to", s)
	a.state = s
}

func (a *AKE) derive() error {
	s, err := crypto.DH(a.priv, a.theirPub)
	if err != nil {
		return err
	}
	defer memzero.Zero(s[:])
	crypto.Derive(s[:], "offrecord ake v1",
		a.keys.ssid[:], a.keys.c[:], a.keys.cp[:],
		a.keys.m1[:], a.keys.m2[:], a.keys.m1p[:], a.keys.m2p[:])
	return nil
}

// sign builds X = (pub, keyid, sig(M)) with M = MAC_m(ours, theirs, pub, keyid),
// encrypts X under c and MACs the ciphertext under m2.
func (a *AKE) sign(m, m2, c [32]byte, ours, theirs domain.X25519Public) ([]byte, [wire.MACSize]byte) {
	mb := transcript(m, ours, theirs, a.id.Public, akeKeyID)
	x := make([]byte, 0, signedSize)
	x = append(x, a.id.Public[:]...)
	x = binary.BigEndian.AppendUint32(x, akeKeyID)
	x = append(x, crypto.SignEd25519(a.id.Private, mb)...)
	enc := xorStream(c[:], x)

	var mac [wire.MACSize]byte
	copy(mac[:], hmacSum(m2[:], enc))
	return enc, mac
}

// verify is the inverse of sign from the receiver's point of view: ours and
// theirs are the signer's values.
func (a *AKE) verify(enc []byte, mac [wire.MACSize]byte, m, m2, c [32]byte, signerDH, otherDH domain.X25519Public) (domain.Ed25519Public, error) {
	var id domain.Ed25519Public
	if !hmac.Equal(mac[:], hmacSum(m2[:], enc)) {
		return id, errors.New("transcript MAC mismatch")
	}
	x := xorStream(c[:], enc)
	if len(x) != signedSize {
		return id, errors.New("signature block has wrong length")
	}
	copy(id[:], x[:32])
	keyID := binary.BigEndian.Uint32(x[32:36])
	if keyID == 0 {
		return id, errors.New("zero key id")
	}
	mb := transcript(m, signerDH, otherDH, id, keyID)
	if !crypto.VerifyEd25519(id, mb, x[36:]) {
		return id, errors.New("bad signature")
	}
	return id, nil
}

func (a *AKE) established(theirID domain.Ed25519Public, who domain.Initiated) (*Established, error) {
	s, err := crypto.DH(a.priv, a.theirPub)
	if err != nil {
		return nil, err
	}
	keys := crypto.SessionKeys(s[:], a.pub, a.theirPub)
	memzero.Zero(s[:])
	return &Established{
		SSID:          a.keys.ssid,
		OurKeyID:      akeKeyID,
		OurPriv:       a.priv,
		OurPub:        a.pub,
		TheirKeyID:    akeKeyID,
		TheirPub:      a.theirPub,
		TheirIdentity: theirID,
		Fingerprint:   crypto.Fingerprint(theirID),
		Keys:          keys,
		Initiated:     who,
	}, nil
}

func transcript(m [32]byte, signerDH, otherDH domain.X25519Public, id domain.Ed25519Public, keyID uint32) []byte {
	buf := make([]byte, 0, 32+32+32+4)
	buf = append(buf, signerDH[:]...)
	buf = append(buf, otherDH[:]...)
	buf = append(buf, id[:]...)
	buf = binary.BigEndian.AppendUint32(buf, keyID)
	return hmacSum(m[:], buf)
}

func hmacSum(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

// xorStream encrypts or decrypts b under a single-use key with a zero nonce.
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
