package conversation

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"offrecord/internal/domain"
	"offrecord/internal/protocol/ake"
	"offrecord/internal/protocol/fragment"
	"offrecord/internal/protocol/ratchet"
	"offrecord/internal/protocol/smp"
	"offrecord/internal/protocol/wire"
)

// offerState tracks the whitespace-tag offer we made in plaintext.
type offerState int

const (
	offerNotSent offerState = iota
	offerSent
	offerRejected
	offerAccepted
)

// peer groups the master context and the per-instance children of one
// (account, protocol, peer). Its lock serialises every operation on them.
type peer struct {
	mu sync.Mutex
	m  *Manager
	k  peerKey
	h  domain.Handler

	ourTag   domain.InstanceTag
	master   *instance
	children map[domain.InstanceTag]*instance

	recentReceived domain.InstanceTag
	recentSent     domain.InstanceTag
}

func newPeer(m *Manager, k peerKey, ourTag domain.InstanceTag, h domain.Handler) *peer {
	p := &peer{m: m, k: k, h: h, ourTag: ourTag, children: make(map[domain.InstanceTag]*instance)}
	p.master = p.newInstance(domain.InstanceMaster)
	return p
}

func (p *peer) newInstance(tag domain.InstanceTag) *instance {
	return &instance{p: p, theirTag: tag, smp: smp.New(p.m.log)}
}

// all returns the master followed by the children.
func (p *peer) all() []*instance {
	return append([]*instance{p.master}, p.sortedChildren()...)
}

func (p *peer) sortedChildren() []*instance {
	out := make([]*instance, 0, len(p.children))
	for _, c := range p.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].theirTag < out[j].theirTag })
	return out
}

// child returns the context for a remote instance, creating it.
func (p *peer) child(tag domain.InstanceTag) *instance {
	if c, ok := p.children[tag]; ok {
		return c
	}
	c := p.newInstance(tag)
	p.children[tag] = c
	p.h.UpdateContextList()
	return c
}

// selectInstance resolves a tag or selector to a context.
func (p *peer) selectInstance(tag domain.InstanceTag) (*instance, error) {
	switch tag {
	case domain.InstanceMaster:
		return p.master, nil
	case domain.InstanceBest:
		return p.best(), nil
	case domain.InstanceRecent:
		return p.recent(), nil
	case domain.InstanceRecentReceived:
		return p.byTag(p.recentReceived), nil
	case domain.InstanceRecentSent:
		return p.byTag(p.recentSent), nil
	}
	if !tag.Valid() {
		return nil, domain.ErrInvalidTag
	}
	return p.child(tag), nil
}

func (p *peer) byTag(tag domain.InstanceTag) *instance {
	if c, ok := p.children[tag]; ok {
		return c
	}
	return p.best()
}

// best prefers encrypted over finished over plaintext, then the most
// recently heard from. Without children it is the master.
func (p *peer) best() *instance {
	rank := func(s domain.MessageState) int {
		switch s {
		case domain.StateEncrypted:
			return 2
		case domain.StateFinished:
			return 1
		default:
			return 0
		}
	}
	var best *instance
	for _, c := range p.sortedChildren() {
		if best == nil || rank(c.state) > rank(best.state) ||
			(rank(c.state) == rank(best.state) && c.lastReceived.After(best.lastReceived)) {
			best = c
		}
	}
	if best == nil {
		return p.master
	}
	return best
}

func (p *peer) recent() *instance {
	var out *instance
	var at time.Time
	for _, c := range p.sortedChildren() {
		t := c.lastReceived
		if c.lastSent.After(t) {
			t = c.lastSent
		}
		if out == nil || t.After(at) {
			out, at = c, t
		}
	}
	if out == nil {
		return p.master
	}
	return out
}

// anyEncrypted reports whether any context of the peer is encrypted.
func (p *peer) anyEncrypted() bool {
	for _, c := range p.all() {
		if c.state == domain.StateEncrypted {
			return true
		}
	}
	return false
}

// pending is a plaintext refused for lack of encryption, kept for a resend.
type pending struct {
	text string
	at   time.Time
}

// instance is one conversation context.
type instance struct {
	p        *peer
	theirTag domain.InstanceTag

	state   domain.MessageState
	ake     *ake.AKE
	ratchet *ratchet.Ratchet
	smp     *smp.Session
	// smpAnswered is set when we answered the peer's question; success then
	// proves nothing about the peer to us.
	smpAnswered bool

	theirID domain.Ed25519Public
	fp      domain.Fingerprint
	ssid    [8]byte

	offer  offerState
	frags  fragment.Assembler
	resend *pending

	lastSent     time.Time
	lastReceived time.Time
	heartbeat    *rate.Limiter
}

func (c *instance) m() *Manager { return c.p.m }

func (c *instance) now() time.Time { return c.p.m.now() }

func (c *instance) snapshot() domain.Conversation {
	conv := domain.Conversation{
		Account:       c.p.k.account,
		Protocol:      c.p.k.protocol,
		Peer:          c.p.k.peer,
		OurInstance:   c.p.ourTag,
		TheirInstance: c.theirTag,
		State:         c.state,
		Fingerprint:   c.fp,
		SSID:          c.ssid,
	}
	if !c.fp.IsZero() {
		if e, ok := c.m().store.Lookup(conv.Account, conv.Protocol, conv.Peer, c.fp); ok {
			conv.Trust = e.Trust
		}
	}
	return conv
}

func (c *instance) policy() domain.Policy { return c.p.h.Policy(c.snapshot()) }

// setState moves the message state, refusing transitions the state
// machine does not allow.
func (c *instance) setState(s domain.MessageState) bool {
	if !c.state.CanTransition(s) {
		c.m().log.Warn("conversation: refused state transition",
			"peer", c.p.k.peer, "from", c.state.String(), "to", s.String())
		return false
	}
	c.state = s
	return true
}

func (c *instance) event(ev domain.MessageEvent, msg string, err error) {
	c.p.h.HandleMessageEvent(ev, c.snapshot(), msg, err)
}

func (c *instance) smpEvent(ev smp.Event) {
	if ev.Kind == domain.SMPEventNone {
		return
	}
	c.p.h.HandleSMPEvent(ev.Kind, c.snapshot(), ev.Progress, ev.Question)
}

func (c *instance) inject(msg string) {
	c.p.h.InjectMessage(c.p.k.account, c.p.k.protocol, c.p.k.peer, msg)
}

func (c *instance) header() wire.Header {
	return wire.Header{Version: wire.ProtocolVersion, SenderTag: c.p.ourTag, ReceiverTag: c.theirTag}
}

// injectEncoded armors p and injects it, fragmenting as needed.
func (c *instance) injectEncoded(p wire.Payload) {
	msg := wire.Encode(c.header(), p)
	pieces, err := fragment.Split(msg, c.p.h.MaxMessageSize(c.snapshot()), c.p.ourTag, c.theirTag)
	if err != nil {
		c.m().log.Warn("conversation: cannot fragment protocol message", "peer", c.p.k.peer, "err", err)
		pieces = []string{msg}
	}
	for _, piece := range pieces {
		c.inject(piece)
	}
}

// injectError sends an OTR error message with the text the handler picks.
func (c *instance) injectError(code domain.ErrorCode) {
	text := c.p.h.ErrorMessage(c.snapshot(), code)
	if text == "" {
		text = code.String()
	}
	c.inject(wire.ErrorMessage(text))
}

// sendData encrypts and injects a data message that carries no user text.
func (c *instance) sendData(msg []byte, tlvs []domain.TLV, flags byte) error {
	if c.state != domain.StateEncrypted || c.ratchet == nil {
		return domain.ErrNotEncrypted
	}
	d, err := c.ratchet.Encrypt(c.header(), msg, tlvs, flags)
	if err != nil {
		return err
	}
	c.injectEncoded(d)
	c.sent()
	return nil
}

func (c *instance) sent() {
	c.lastSent = c.now()
	if c.theirTag.Valid() {
		c.p.recentSent = c.theirTag
	}
}

// sendDisconnect tells the peer we are leaving the private session.
func (c *instance) sendDisconnect() {
	if err := c.sendData(nil, []domain.TLV{{Type: domain.TLVDisconnected}}, wire.FlagIgnoreUnreadable); err != nil {
		c.m().log.Debug("conversation: disconnect not sent", "peer", c.p.k.peer, "err", err)
	}
}

// dropSession wipes the ratchet and SMP state but keeps the context.
func (c *instance) dropSession() {
	if c.ratchet != nil {
		c.ratchet.Wipe()
		c.ratchet = nil
	}
	c.smp.Abort()
	c.smp = smp.New(c.m().log)
	c.heartbeat = nil
}

// wipe destroys every secret held by the context.
func (c *instance) wipe() {
	c.dropSession()
	if c.ake != nil {
		c.ake.Reset()
		c.ake = nil
	}
	c.frags.Reset()
	c.resend = nil
	c.state = domain.StatePlaintext
}
