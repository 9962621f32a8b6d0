package smp

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gtank/ristretto255"

	"offrecord/internal/domain"
)

// State is the externally visible progress of an exchange.
type State int

const (
	StateNone State = iota
	StateAwaitingAnswerOrSecret
	StateInProgress
	StateSuccess
	StateFailure
	StateAborted
	StateCheated
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateAwaitingAnswerOrSecret:
		return "awaiting-secret"
	case StateInProgress:
		return "in-progress"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateAborted:
		return "aborted"
	case StateCheated:
		return "cheated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the exchange has finished one way or another.
func (s State) Terminal() bool { return s >= StateSuccess }

// Progress percentages reported with events.
const (
	progressStarted   = 20
	progressAsked     = 25
	progressResponded = 60
	progressThird     = 80
	progressDone      = 100
)

// Elements and scalars share one encoded size.
const elemSize = 32

var (
	ErrBusy       = errors.New("smp: exchange already in progress")
	ErrNotAsked   = errors.New("smp: no pending request to answer")
	errBadElement = errors.New("smp: invalid group element")
	errBadProof   = errors.New("smp: proof verification failed")
	errBadLength  = errors.New("smp: message has wrong length")
)

// Binding ties the secret to one session and one pair of long-term keys.
type Binding struct {
	Ours   domain.Fingerprint
	Theirs domain.Fingerprint
	SSID   [8]byte
}

// Event is reported to the application after every step.
type Event struct {
	Kind     domain.SMPEvent
	Progress int
	Question string
}

// expect is the next message the protocol is waiting for.
type expect int

const (
	expect1 expect = iota
	expect2
	expect3
	expect4
)

// Session runs one side of the Socialist Millionaire Protocol. It is not
// safe for concurrent use.
type Session struct {
	log *slog.Logger

	state  State
	expect expect

	question string
	secret   *ristretto255.Scalar

	// our exponents
	a2, a3 *ristretto255.Scalar
	// peer's public values
	g2a, g3a *ristretto255.Element
	g3b      *ristretto255.Element
	// shared generators
	g2, g3 *ristretto255.Element
	// P and Q values of both sides
	pa, qa, pb, qb *ristretto255.Element

	// received SMP1 payload waiting for the local secret
	pending []byte
}

// New returns an idle session.
func New(log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{log: log}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Question returns the question attached to a pending request, if any.
func (s *Session) Question() string { return s.question }

// Initiate starts an exchange. A non-empty question is sent to the peer
// with the first message.
func (s *Session) Initiate(b Binding, question string, secret []byte) (domain.TLV, Event, error) {
	if s.state == StateInProgress || s.state == StateAwaitingAnswerOrSecret {
		return domain.TLV{}, Event{}, ErrBusy
	}
	s.reset()
	s.secret = secretScalar(b.Ours, b.Theirs, b.SSID, secret)

	s.a2, s.a3 = randomScalar(), randomScalar()
	g2a := base(s.a2)
	g3a := base(s.a3)
	c2, d2 := proveLog(1, s.a2)
	c3, d3 := proveLog(2, s.a3)
	payload := pack(g2a, c2, d2, g3a, c3, d3)

	tlv := domain.TLV{Type: domain.TLVSMP1, Value: payload}
	if question != "" {
		tlv = domain.TLV{Type: domain.TLVSMP1Q, Value: append(append([]byte(question), 0), payload...)}
	}
	s.question = question
	s.state, s.expect = StateInProgress, expect2
	return tlv, Event{Kind: domain.SMPEventInProgress, Progress: progressStarted}, nil
}

// Respond supplies our secret for a request received earlier.
func (s *Session) Respond(b Binding, secret []byte) (domain.TLV, Event, error) {
	if s.state != StateAwaitingAnswerOrSecret {
		return domain.TLV{}, Event{}, ErrNotAsked
	}
	// The initiator's fingerprint always comes first.
	s.secret = secretScalar(b.Theirs, b.Ours, b.SSID, secret)

	v, err := unpack(s.pending, layout1)
	if err != nil {
		return s.cheat(err)
	}
	g2a, c2, d2, g3a, c3, d3 := v.e[0], v.s[0], v.s[1], v.e[1], v.s[2], v.s[3]
	if !verifyLog(1, g2a, c2, d2) || !verifyLog(2, g3a, c3, d3) {
		return s.cheat(errBadProof)
	}
	s.g3a = g3a

	b2, b3 := randomScalar(), randomScalar()
	g2b, g3b := base(b2), base(b3)
	c2b, d2b := proveLog(3, b2)
	c3b, d3b := proveLog(4, b3)
	s.a3 = b3
	s.g2 = mul(b2, g2a)
	s.g3 = mul(b3, g3a)

	r4 := randomScalar()
	s.pb = mul(r4, s.g3)
	s.qb = add(base(r4), mul(s.secret, s.g2))
	cp, d5, d6 := proveCoords(5, s.g2, s.g3, r4, s.secret)

	s.pending = nil
	s.state, s.expect = StateInProgress, expect3
	payload := pack(g2b, c2b, d2b, g3b, c3b, d3b, s.pb, s.qb, cp, d5, d6)
	return domain.TLV{Type: domain.TLVSMP2, Value: payload},
		Event{Kind: domain.SMPEventInProgress, Progress: progressResponded}, nil
}

// Abort cancels any exchange and returns the TLV telling the peer so.
func (s *Session) Abort() (domain.TLV, Event) {
	s.reset()
	s.state = StateAborted
	return domain.TLV{Type: domain.TLVSMPAbort}, Event{Kind: domain.SMPEventAbort}
}

// Handle processes an SMP TLV from the peer. It returns a reply to send, if
// any, and the event to report.
func (s *Session) Handle(t domain.TLV) (*domain.TLV, Event) {
	switch t.Type {
	case domain.TLVSMPAbort:
		s.reset()
		s.state = StateAborted
		return nil, Event{Kind: domain.SMPEventAbort}
	case domain.TLVSMP1, domain.TLVSMP1Q:
		if s.expect != expect1 || s.state == StateInProgress || s.state == StateAwaitingAnswerOrSecret {
			return s.cheatReply(errors.New("unexpected SMP1"))
		}
		return s.handle1(t)
	case domain.TLVSMP2:
		if s.expect != expect2 {
			return s.cheatReply(errors.New("unexpected SMP2"))
		}
		return s.handle2(t.Value)
	case domain.TLVSMP3:
		if s.expect != expect3 {
			return s.cheatReply(errors.New("unexpected SMP3"))
		}
		return s.handle3(t.Value)
	case domain.TLVSMP4:
		if s.expect != expect4 {
			return s.cheatReply(errors.New("unexpected SMP4"))
		}
		return s.handle4(t.Value)
	default:
		return nil, Event{Kind: domain.SMPEventNone}
	}
}

func (s *Session) handle1(t domain.TLV) (*domain.TLV, Event) {
	s.reset()
	payload := t.Value
	if t.Type == domain.TLVSMP1Q {
		i := bytes.IndexByte(payload, 0)
		if i < 0 {
			return s.cheatReply(errBadLength)
		}
		s.question = string(payload[:i])
		payload = payload[i+1:]
	}
	if _, err := unpack(payload, layout1); err != nil {
		return s.cheatReply(err)
	}
	s.pending = append([]byte(nil), payload...)
	s.state = StateAwaitingAnswerOrSecret
	kind := domain.SMPEventAskForSecret
	if t.Type == domain.TLVSMP1Q {
		kind = domain.SMPEventAskForAnswer
	}
	return nil, Event{Kind: kind, Progress: progressAsked, Question: s.question}
}

func (s *Session) handle2(payload []byte) (*domain.TLV, Event) {
	v, err := unpack(payload, layout2)
	if err != nil {
		return s.cheatReply(err)
	}
	g2b, c2, d2 := v.e[0], v.s[0], v.s[1]
	g3b, c3, d3 := v.e[1], v.s[2], v.s[3]
	pb, qb := v.e[2], v.e[3]
	cp, d5, d6 := v.s[4], v.s[5], v.s[6]

	if !verifyLog(3, g2b, c2, d2) || !verifyLog(4, g3b, c3, d3) {
		return s.cheatReply(errBadProof)
	}
	s.g2 = mul(s.a2, g2b)
	s.g3 = mul(s.a3, g3b)
	s.g3b = g3b
	if !verifyCoords(5, s.g2, s.g3, pb, qb, cp, d5, d6) {
		return s.cheatReply(errBadProof)
	}
	s.pb, s.qb = pb, qb

	r4 := randomScalar()
	s.pa = mul(r4, s.g3)
	s.qa = add(base(r4), mul(s.secret, s.g2))
	cp2, d5b, d6b := proveCoords(6, s.g2, s.g3, r4, s.secret)

	qab := sub(s.qa, s.qb)
	ra := mul(s.a3, qab)
	cr, d7 := proveEqualLogs(7, qab, s.a3)

	s.expect = expect4
	reply := domain.TLV{Type: domain.TLVSMP3, Value: pack(s.pa, s.qa, cp2, d5b, d6b, ra, cr, d7)}
	return &reply, Event{Kind: domain.SMPEventInProgress, Progress: progressThird}
}

func (s *Session) handle3(payload []byte) (*domain.TLV, Event) {
	v, err := unpack(payload, layout3)
	if err != nil {
		return s.cheatReply(err)
	}
	pa, qa, ra := v.e[0], v.e[1], v.e[2]
	cp, d5, d6, cr, d7 := v.s[0], v.s[1], v.s[2], v.s[3], v.s[4]

	if !verifyCoords(6, s.g2, s.g3, pa, qa, cp, d5, d6) {
		return s.cheatReply(errBadProof)
	}
	qab := sub(qa, s.qb)
	if !verifyEqualLogs(7, s.g3a, qab, ra, cr, d7) {
		return s.cheatReply(errBadProof)
	}

	// s.a3 holds our b3 on the responder side.
	rb := mul(s.a3, qab)
	cr2, d7b := proveEqualLogs(8, qab, s.a3)
	rab := mul(s.a3, ra)
	ok := rab.Equal(sub(pa, s.pb)) == 1

	reply := domain.TLV{Type: domain.TLVSMP4, Value: pack(rb, cr2, d7b)}
	return &reply, s.finish(ok)
}

func (s *Session) handle4(payload []byte) (*domain.TLV, Event) {
	v, err := unpack(payload, layout4)
	if err != nil {
		return s.cheatReply(err)
	}
	rb, cr, d7 := v.e[0], v.s[0], v.s[1]

	qab := sub(s.qa, s.qb)
	if !verifyEqualLogs(8, s.g3b, qab, rb, cr, d7) {
		return s.cheatReply(errBadProof)
	}
	rab := mul(s.a3, rb)
	ok := rab.Equal(sub(s.pa, s.pb)) == 1
	return nil, s.finish(ok)
}

func (s *Session) finish(ok bool) Event {
	s.reset()
	if ok {
		s.state = StateSuccess
		return Event{Kind: domain.SMPEventSuccess, Progress: progressDone}
	}
	s.state = StateFailure
	return Event{Kind: domain.SMPEventFailure, Progress: progressDone}
}

func (s *Session) cheat(err error) (domain.TLV, Event, error) {
	reply, ev := s.cheatReply(err)
	return *reply, ev, nil
}

// cheatReply ends the exchange and answers with an abort.
func (s *Session) cheatReply(err error) (*domain.TLV, Event) {
	s.log.Warn("smp: peer deviated from protocol", "err", err)
	s.reset()
	s.state = StateCheated
	return &domain.TLV{Type: domain.TLVSMPAbort}, Event{Kind: domain.SMPEventCheated}
}

// reset drops every intermediate value and returns to StateNone.
func (s *Session) reset() {
	*s = Session{log: s.log, state: StateNone}
}

// --- group helpers ---

func randomScalar() *ristretto255.Scalar {
	var b [64]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	sc, err := ristretto255.NewScalar().SetUniformBytes(b[:])
	if err != nil {
		panic(err)
	}
	return sc
}

func secretScalar(initiator, responder domain.Fingerprint, ssid [8]byte, secret []byte) *ristretto255.Scalar {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(initiator[:])
	h.Write(responder[:])
	h.Write(ssid[:])
	h.Write(secret)
	wide := sha512.Sum512(h.Sum(nil))
	sc, _ := ristretto255.NewScalar().SetUniformBytes(wide[:])
	return sc
}

// hash maps a version tag and group elements to a challenge scalar.
func hash(tag byte, elems ...*ristretto255.Element) *ristretto255.Scalar {
	h := sha512.New()
	h.Write([]byte{tag})
	for _, e := range elems {
		h.Write(e.Bytes())
	}
	sc, _ := ristretto255.NewScalar().SetUniformBytes(h.Sum(nil))
	return sc
}

func base(x *ristretto255.Scalar) *ristretto255.Element {
	return ristretto255.NewIdentityElement().ScalarBaseMult(x)
}

func mul(x *ristretto255.Scalar, p *ristretto255.Element) *ristretto255.Element {
	return ristretto255.NewIdentityElement().ScalarMult(x, p)
}

func add(p, q *ristretto255.Element) *ristretto255.Element {
	return ristretto255.NewIdentityElement().Add(p, q)
}

func sub(p, q *ristretto255.Element) *ristretto255.Element {
	return ristretto255.NewIdentityElement().Subtract(p, q)
}

// proveLog proves knowledge of x for g^x: c = H(tag, g^r), d = r - x*c.
func proveLog(tag byte, x *ristretto255.Scalar) (c, d *ristretto255.Scalar) {
	r := randomScalar()
	c = hash(tag, base(r))
	d = ristretto255.NewScalar().Subtract(r, ristretto255.NewScalar().Multiply(x, c))
	return c, d
}

func verifyLog(tag byte, gx *ristretto255.Element, c, d *ristretto255.Scalar) bool {
	return hash(tag, add(base(d), mul(c, gx))).Equal(c) == 1
}

// proveCoords proves that P = g3^r and Q = g^r * g2^x were built from the
// same r and the secret x.
func proveCoords(tag byte, g2, g3 *ristretto255.Element, r, x *ristretto255.Scalar) (c, d1, d2 *ristretto255.Scalar) {
	r1, r2 := randomScalar(), randomScalar()
	c = hash(tag, mul(r1, g3), add(base(r1), mul(r2, g2)))
	d1 = ristretto255.NewScalar().Subtract(r1, ristretto255.NewScalar().Multiply(r, c))
	d2 = ristretto255.NewScalar().Subtract(r2, ristretto255.NewScalar().Multiply(x, c))
	return c, d1, d2
}

func verifyCoords(tag byte, g2, g3, p, q *ristretto255.Element, c, d1, d2 *ristretto255.Scalar) bool {
	t1 := add(mul(d1, g3), mul(c, p))
	t2 := add(add(base(d1), mul(d2, g2)), mul(c, q))
	return hash(tag, t1, t2).Equal(c) == 1
}

// proveEqualLogs proves R = Qab^x where g^x is already known to the peer.
func proveEqualLogs(tag byte, qab *ristretto255.Element, x *ristretto255.Scalar) (c, d *ristretto255.Scalar) {
	r := randomScalar()
	c = hash(tag, base(r), mul(r, qab))
	d = ristretto255.NewScalar().Subtract(r, ristretto255.NewScalar().Multiply(x, c))
	return c, d
}

func verifyEqualLogs(tag byte, gx, qab, rx *ristretto255.Element, c, d *ristretto255.Scalar) bool {
	t1 := add(base(d), mul(c, gx))
	t2 := add(mul(d, qab), mul(c, rx))
	return hash(tag, t1, t2).Equal(c) == 1
}

// --- encoding ---

type values struct {
	e []*ristretto255.Element
	s []*ristretto255.Scalar
}

// pack writes elements and scalars in argument order.
func pack(items ...any) []byte {
	out := make([]byte, 0, len(items)*elemSize)
	for _, it := range items {
		switch v := it.(type) {
		case *ristretto255.Element:
			out = append(out, v.Bytes()...)
		case *ristretto255.Scalar:
			out = append(out, v.Bytes()...)
		}
	}
	return out
}

// Field layouts per message: 'e' for a group element, 's' for a scalar.
const (
	layout1 = "essess"      // g2a c2 d2 g3a c3 d3
	layout2 = "essesseesss" // g2b c2 d2 g3b c3 d3 Pb Qb cP d5 d6
	layout3 = "eesssess"    // Pa Qa cP d5 d6 Ra cR d7
	layout4 = "ess"         // Rb cR d7
)

// unpack decodes b according to layout, rejecting non-canonical values and
// the identity element.
func unpack(b []byte, layout string) (values, error) {
	if len(b) != len(layout)*elemSize {
		return values{}, errBadLength
	}
	return decodeLayout(b, layout)
}

func decodeLayout(b []byte, layout string) (values, error) {
	var v values
	for i := 0; i < len(layout); i++ {
		chunk := b[i*elemSize : (i+1)*elemSize]
		switch layout[i] {
		case 'e':
			e, err := ristretto255.NewIdentityElement().SetCanonicalBytes(chunk)
			if err != nil || e.Equal(ristretto255.NewIdentityElement()) == 1 {
				return values{}, errBadElement
			}
			v.e = append(v.e, e)
		case 's':
			sc, err := ristretto255.NewScalar().SetCanonicalBytes(chunk)
			if err != nil {
				return values{}, errBadElement
			}
			v.s = append(v.s, sc)
		}
	}
	return v, nil
}
