package conversation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"offrecord/internal/domain"
	"offrecord/internal/protocol/fragment"
	"offrecord/internal/protocol/wire"
)

// Receive processes one message from sender. Protocol traffic is handled
// internally and reported as ReceiveInternal; user text is returned for
// display. Errors describe messages that could not be processed; the
// matching message event has already been reported to the handler.
func (m *Manager) Receive(account, protocol, sender, message string) (ReceiveOutcome, error) {
	p, err := m.lockPeer(account, protocol, sender, true)
	if err != nil {
		return ReceiveOutcome{}, err
	}
	defer p.mu.Unlock()
	return p.receive(message)
}

func (p *peer) receive(message string) (ReceiveOutcome, error) {
	switch wire.Classify(message) {
	case wire.KindFragment:
		return p.receiveFragment(message)
	case wire.KindQuery:
		return p.receiveQuery(message)
	case wire.KindError:
		return p.receiveError(message)
	case wire.KindEncoded:
		return p.receiveEncoded(message)
	case wire.KindTaggedPlaintext:
		return p.receiveTagged(message)
	case wire.KindPlaintext:
		return p.receivePlaintext(message, false)
	default:
		p.master.event(domain.EventReceivedUnrecognised, message, nil)
		return internal(), nil
	}
}

func malformed(err error) error { return fmt.Errorf("%w: %v", domain.ErrMessageMalformed, err) }

func (p *peer) receiveFragment(message string) (ReceiveOutcome, error) {
	f, err := fragment.Parse(message)
	if err != nil {
		p.master.event(domain.EventReceivedMalformed, "", err)
		return internal(), malformed(err)
	}
	if f.Receiver != 0 && f.Receiver != p.ourTag {
		p.master.event(domain.EventReceivedForOtherInstance, "", nil)
		return internal(), nil
	}
	if f.Sender == p.ourTag {
		p.master.event(domain.EventMessageReflected, "", nil)
		return internal(), nil
	}
	c := p.master
	if f.Sender.Valid() {
		c = p.child(f.Sender)
	}
	whole, done := c.frags.Add(f, c.now())
	if !done {
		return internal(), nil
	}
	if wire.Classify(whole) == wire.KindFragment {
		err := errors.New("nested fragment")
		c.event(domain.EventReceivedMalformed, "", err)
		return internal(), malformed(err)
	}
	return p.receive(whole)
}

func (p *peer) receiveQuery(message string) (ReceiveOutcome, error) {
	pol := p.master.policy()
	if !pol.Has(domain.PolicyAllowV3) || !wire.QueryOffersV3(message) {
		p.m.log.Debug("query ignored", "peer", p.k.peer)
		return internal(), nil
	}
	return internal(), p.master.startAKE()
}

func (p *peer) receiveError(message string) (ReceiveOutcome, error) {
	text, _ := wire.ParseError(message)
	c := p.best()
	c.event(domain.EventReceivedGeneralError, text, nil)
	if pol := c.policy(); pol.Has(domain.PolicyErrorStartAKE) && pol.Has(domain.PolicyAllowV3) {
		c.inject(wire.QueryMessage)
	}
	return internal(), nil
}

func (p *peer) receiveEncoded(message string) (ReceiveOutcome, error) {
	msg, err := wire.Decode(message)
	if err != nil {
		p.master.event(domain.EventReceivedMalformed, "", err)
		return internal(), malformed(err)
	}
	if msg.SenderTag == p.ourTag {
		p.master.event(domain.EventMessageReflected, "", nil)
		return internal(), nil
	}
	if !msg.SenderTag.Valid() {
		err := fmt.Errorf("%w: sender %s", domain.ErrInvalidTag, msg.SenderTag)
		p.master.event(domain.EventReceivedMalformed, "", err)
		return internal(), malformed(err)
	}
	if msg.ReceiverTag != 0 && msg.ReceiverTag != p.ourTag {
		p.master.event(domain.EventReceivedForOtherInstance, "", nil)
		return internal(), nil
	}

	c := p.child(msg.SenderTag)
	c.lastReceived = c.now()
	p.recentReceived = msg.SenderTag
	if msg.Type.IsAKE() {
		return c.receiveAKE(msg)
	}
	return c.receiveData(msg.Header, msg.Payload.(*wire.Data))
}

func (p *peer) receiveTagged(message string) (ReceiveOutcome, error) {
	clean, v3, _ := wire.StripWhitespaceTag(message)
	pol := p.master.policy()
	if v3 && pol.Has(domain.PolicyAllowV3) && pol.Has(domain.PolicyWhitespaceStartAKE) {
		if err := p.master.startAKE(); err != nil {
			p.m.log.Debug("whitespace tag: key exchange not started", "peer", p.k.peer, "err", err)
		}
	}
	if clean == "" {
		return internal(), nil
	}
	return p.receivePlaintext(clean, true)
}

func (p *peer) receivePlaintext(text string, tagged bool) (ReceiveOutcome, error) {
	if !tagged {
		for _, c := range p.all() {
			if c.offer == offerSent {
				c.offer = offerRejected
			}
		}
	}
	c := p.best()
	if p.anyEncrypted() || c.policy().Has(domain.PolicyRequireEncryption) {
		c.event(domain.EventReceivedUnencrypted, text, nil)
	}
	return ReceiveOutcome{Kind: ReceiveDeliver, Message: text, Instance: c.theirTag}, nil
}

func (c *instance) receiveData(h wire.Header, d *wire.Data) (ReceiveOutcome, error) {
	ignore := d.Flags&wire.FlagIgnoreUnreadable != 0
	if c.state != domain.StateEncrypted || c.ratchet == nil {
		if ignore {
			return internal(), nil
		}
		c.event(domain.EventReceivedNotInPrivate, "", domain.ErrMessageNotInPrivate)
		c.injectError(domain.ErrorMessageNotInPrivate)
		return internal(), domain.ErrMessageNotInPrivate
	}

	opened, err := c.ratchet.Decrypt(h, d)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMessageUnreadable):
			if ignore {
				return internal(), nil
			}
			c.event(domain.EventReceivedUnreadable, "", err)
			c.injectError(domain.ErrorMessageUnreadable)
		default:
			c.event(domain.EventReceivedMalformed, "", err)
		}
		return internal(), err
	}

	out := ReceiveOutcome{Encrypted: true, Instance: c.theirTag, TLVs: opened.TLVs}
	var disconnected, forApp, content bool
	for _, t := range opened.TLVs {
		switch {
		case t.Type == domain.TLVPadding:
		case t.Type == domain.TLVDisconnected:
			disconnected = true
			content = true
		case t.IsSMP():
			c.receiveSMP(t)
			content = true
		case t.Type == domain.TLVExtraSymmetricKey:
			c.receiveSymmetricKey(t, opened.Extra)
			content = true
		default:
			forApp = true
			content = true
		}
	}
	if disconnected {
		c.finish()
	}

	text := string(opened.Message)
	if text == "" && !content {
		c.event(domain.EventHeartbeatReceived, "", nil)
		return out, nil
	}
	if text != "" {
		text = c.convert(domain.ConvertReceiving, text)
	}
	if !disconnected {
		c.maybeHeartbeat()
	}

	switch {
	case text != "" && forApp:
		out.Kind = ReceiveDeliverWithTLVs
	case text != "":
		out.Kind = ReceiveDeliver
	case forApp:
		out.Kind = ReceiveDeliverWithTLVs
	}
	out.Message = text
	return out, nil
}

// finish handles the peer leaving: the context stays Finished until we end
// it or a new key exchange completes.
func (c *instance) finish() {
	c.dropSession()
	if c.setState(domain.StateFinished) {
		c.p.h.GoneInsecure(c.snapshot())
		c.p.h.UpdateContextList()
	}
}

func (c *instance) receiveSymmetricKey(t domain.TLV, key [32]byte) {
	if len(t.Value) < 4 {
		c.m().log.Debug("extra symmetric key TLV too short", "peer", c.p.k.peer)
		return
	}
	r, ok := c.p.h.(domain.SymmetricKeyReceiver)
	if !ok {
		return
	}
	use := binary.BigEndian.Uint32(t.Value[:4])
	r.ReceivedSymmetricKey(c.snapshot(), use, append([]byte(nil), t.Value[4:]...), key)
}

// maybeHeartbeat sends an empty message when we have been quiet for the
// heartbeat interval, so the peer can rotate keys.
func (c *instance) maybeHeartbeat() {
	iv := c.m().Settings().HeartbeatInterval
	if iv <= 0 || c.heartbeat == nil {
		return
	}
	now := c.now()
	if now.Sub(c.lastSent) < iv || !c.heartbeat.AllowN(now, 1) {
		return
	}
	if err := c.sendData(nil, nil, wire.FlagIgnoreUnreadable); err != nil {
		c.m().log.Debug("heartbeat not sent", "peer", c.p.k.peer, "err", err)
		return
	}
	c.event(domain.EventHeartbeatSent, "", nil)
}
