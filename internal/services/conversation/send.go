package conversation

import (
	"fmt"

	"offrecord/internal/domain"
	"offrecord/internal/protocol/fragment"
	"offrecord/internal/protocol/wire"
)

const defaultResentPrefix = "[resent] "

// Send prepares plaintext for recipient. tag is a remote instance tag
// or one of the selectors (InstanceMaster, InstanceBest, ...).
//
// In plaintext with RequireEncryption set nothing is sent: the message is
// kept for a resend once the session goes secure and ErrEncryptionRequired
// is returned. Over an encrypted session the message and tlvs are sealed
// and, depending on the fragment policy, injected or returned. After the
// peer ended the session Send fails with ErrConnectionEnded.
func (m *Manager) Send(account, protocol, recipient string, tag domain.InstanceTag, plaintext string, tlvs ...domain.TLV) (SendOutcome, error) {
	p, err := m.lockPeer(account, protocol, recipient, true)
	if err != nil {
		return SendOutcome{}, err
	}
	defer p.mu.Unlock()

	c, err := p.selectInstance(tag)
	if err != nil {
		return SendOutcome{}, err
	}
	out := SendOutcome{Instance: c.theirTag}
	pol := c.policy()

	switch c.state {
	case domain.StatePlaintext:
		if pol.Has(domain.PolicyRequireEncryption) {
			c.resend = &pending{text: plaintext, at: m.now()}
			c.event(domain.EventEncryptionRequired, "", domain.ErrEncryptionRequired)
			return out, domain.ErrEncryptionRequired
		}
		msg := plaintext
		if pol.Has(domain.PolicySendWhitespaceTag) && pol.Has(domain.PolicyAllowV3) &&
			(c.offer == offerNotSent || c.offer == offerSent) {
			msg = wire.AppendWhitespaceTag(msg)
			c.offer = offerSent
		}
		c.sent()
		out.Message = msg
		return out, nil

	case domain.StateFinished:
		c.event(domain.EventConnectionEnded, "", domain.ErrConnectionEnded)
		return out, domain.ErrConnectionEnded
	}

	text := c.convert(domain.ConvertSending, plaintext)
	d, err := c.ratchet.Encrypt(c.header(), []byte(text), tlvs, 0)
	if err != nil {
		c.event(domain.EventEncryptionError, "", err)
		return out, fmt.Errorf("%w: %v", domain.ErrEncryptionFailed, err)
	}
	out.Encrypted = true
	out.Message, err = c.deliver(wire.Encode(c.header(), d))
	if err != nil {
		c.event(domain.EventEncryptionError, "", err)
		return SendOutcome{Instance: c.theirTag}, err
	}
	c.sent()
	return out, nil
}

// deliver applies the fragment policy to an encoded message. It injects
// what the engine is responsible for and returns the rest.
func (c *instance) deliver(msg string) (string, error) {
	policy := c.m().Settings().FragmentPolicy
	if policy == domain.FragmentSendSkip {
		return msg, nil
	}
	pieces, err := fragment.Split(msg, c.p.h.MaxMessageSize(c.snapshot()), c.p.ourTag, c.theirTag)
	if err != nil {
		return "", err
	}
	switch policy {
	case domain.FragmentSendAllButFirst:
		for _, piece := range pieces[1:] {
			c.inject(piece)
		}
		return pieces[0], nil
	case domain.FragmentSendAllButLast:
		last := len(pieces) - 1
		for _, piece := range pieces[:last] {
			c.inject(piece)
		}
		return pieces[last], nil
	default:
		for _, piece := range pieces {
			c.inject(piece)
		}
		return "", nil
	}
}

// convert runs the optional MessageConverter.
func (c *instance) convert(ct domain.ConvertType, msg string) string {
	conv, ok := c.p.h.(domain.MessageConverter)
	if !ok {
		return msg
	}
	if out, changed := conv.ConvertMessage(c.snapshot(), ct, msg); changed {
		return out
	}
	return msg
}

// StartAKE offers a private session to recipient by injecting a query.
func (m *Manager) StartAKE(account, protocol, recipient string) error {
	p, err := m.lockPeer(account, protocol, recipient, true)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	if !p.master.policy().Has(domain.PolicyAllowV3) {
		return fmt.Errorf("conversation: policy for %s does not allow encryption", recipient)
	}
	p.master.inject(wire.QueryMessage)
	m.log.Debug("query sent", "account", account, "peer", recipient)
	return nil
}

// EndSession leaves the private session with recipient. The peer is told
// with a disconnect TLV and the context returns to plaintext. InstanceMaster
// ends every instance.
func (m *Manager) EndSession(account, protocol, recipient string, tag domain.InstanceTag) error {
	p, err := m.lockPeer(account, protocol, recipient, false)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	targets := p.all()
	if tag != domain.InstanceMaster {
		c, err := p.selectInstance(tag)
		if err != nil {
			return err
		}
		targets = []*instance{c}
	}
	for _, c := range targets {
		c.end()
	}
	p.h.UpdateContextList()
	return nil
}

// end moves an encrypted or finished context back to plaintext.
func (c *instance) end() {
	switch c.state {
	case domain.StateEncrypted:
		c.sendDisconnect()
		c.setState(domain.StateFinished)
		c.dropSession()
		c.setState(domain.StatePlaintext)
		c.p.h.GoneInsecure(c.snapshot())
	case domain.StateFinished:
		c.dropSession()
		c.setState(domain.StatePlaintext)
	}
	c.offer = offerNotSent
}

// resendPending sends a plaintext refused earlier, if it is still recent.
func (c *instance) resendPending(from *instance) {
	r := from.resend
	if r == nil {
		return
	}
	from.resend = nil
	if c.now().Sub(r.at) > c.m().Settings().ResendWindow {
		return
	}
	prefix := c.p.h.ResentMessagePrefix(c.snapshot())
	if prefix == "" {
		prefix = defaultResentPrefix
	}
	text := prefix + c.convert(domain.ConvertSending, r.text)
	d, err := c.ratchet.Encrypt(c.header(), []byte(text), nil, 0)
	if err != nil {
		c.event(domain.EventEncryptionError, "", err)
		return
	}
	c.injectEncoded(d)
	c.sent()
	c.event(domain.EventMessageResent, r.text, nil)
}
