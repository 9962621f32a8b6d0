package conversation

import (
	"encoding/binary"
	"fmt"

	"offrecord/internal/domain"
	"offrecord/internal/protocol/smp"
	"offrecord/internal/protocol/wire"
)

// encrypted returns the locked group and an encrypted context, or an error.
// On success the caller must unlock p.
func (m *Manager) encrypted(account, protocol, name string, tag domain.InstanceTag) (*peer, *instance, error) {
	p, err := m.lockPeer(account, protocol, name, false)
	if err != nil {
		return nil, nil, err
	}
	c, err := p.selectInstance(tag)
	if err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	if c.state != domain.StateEncrypted || c.ratchet == nil {
		p.mu.Unlock()
		return nil, nil, domain.ErrNotEncrypted
	}
	return p, c, nil
}

// InitiateSMP starts a Socialist Millionaire exchange to check that the peer
// knows secret. A non-empty question is shown to the peer. A running
// exchange is aborted first.
func (m *Manager) InitiateSMP(account, protocol, name string, tag domain.InstanceTag, question, secret string) error {
	p, c, err := m.encrypted(account, protocol, name, tag)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	if s := c.smp.State(); s == smp.StateInProgress || s == smp.StateAwaitingAnswerOrSecret {
		abort, _ := c.smp.Abort()
		if err := c.sendSMP(abort); err != nil {
			return err
		}
	}
	b, err := c.binding()
	if err != nil {
		return err
	}
	tlv, ev, err := c.smp.Initiate(b, question, []byte(secret))
	if err != nil {
		return err
	}
	c.smpAnswered = false
	if err := c.sendSMP(tlv); err != nil {
		return err
	}
	c.smpEvent(ev)
	return nil
}

// RespondSMP answers a pending request from the peer with our secret.
func (m *Manager) RespondSMP(account, protocol, name string, tag domain.InstanceTag, secret string) error {
	p, c, err := m.encrypted(account, protocol, name, tag)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	b, err := c.binding()
	if err != nil {
		return err
	}
	question := c.smp.Question()
	tlv, ev, err := c.smp.Respond(b, []byte(secret))
	if err != nil {
		return err
	}
	c.smpAnswered = question != ""
	if err := c.sendSMP(tlv); err != nil {
		return err
	}
	c.smpEvent(ev)
	return nil
}

// AbortSMP cancels a running exchange and tells the peer.
func (m *Manager) AbortSMP(account, protocol, name string, tag domain.InstanceTag) error {
	p, c, err := m.encrypted(account, protocol, name, tag)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	tlv, ev := c.smp.Abort()
	if err := c.sendSMP(tlv); err != nil {
		return err
	}
	c.smpEvent(ev)
	return nil
}

// ExtraSymmetricKey announces use and useData to the peer and returns the
// extra symmetric key of the current session.
func (m *Manager) ExtraSymmetricKey(account, protocol, name string, tag domain.InstanceTag, use uint32, useData []byte) ([32]byte, error) {
	p, c, err := m.encrypted(account, protocol, name, tag)
	if err != nil {
		return [32]byte{}, err
	}
	defer p.mu.Unlock()

	key, err := c.ratchet.ExtraSymmetricKey()
	if err != nil {
		return [32]byte{}, err
	}
	val := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(useData)), use)
	val = append(val, useData...)
	tlv := domain.TLV{Type: domain.TLVExtraSymmetricKey, Value: val}
	if err := c.sendData(nil, []domain.TLV{tlv}, wire.FlagIgnoreUnreadable); err != nil {
		return [32]byte{}, err
	}
	return key, nil
}

// binding ties the secret to both fingerprints and the session id.
func (c *instance) binding() (smp.Binding, error) {
	ours, ok := c.m().store.OwnFingerprint(c.p.k.account, c.p.k.protocol)
	if !ok {
		return smp.Binding{}, domain.ErrNoIdentity
	}
	return smp.Binding{Ours: ours, Theirs: c.fp, SSID: c.ssid}, nil
}

func (c *instance) sendSMP(t domain.TLV) error {
	if err := c.sendData(nil, []domain.TLV{t}, wire.FlagIgnoreUnreadable); err != nil {
		return fmt.Errorf("conversation: send SMP: %w", err)
	}
	return nil
}

// receiveSMP feeds a peer TLV to the exchange. Success marks the
// fingerprint trusted unless we merely answered the peer's question.
func (c *instance) receiveSMP(t domain.TLV) {
	reply, ev := c.smp.Handle(t)
	if reply != nil {
		if err := c.sendSMP(*reply); err != nil {
			c.m().log.Debug("smp reply not sent", "peer", c.p.k.peer, "err", err)
		}
	}
	if ev.Kind == domain.SMPEventSuccess && !c.smpAnswered {
		k := c.p.k
		if err := c.m().store.SetTrust(k.account, k.protocol, k.peer, c.fp, domain.TrustSMP); err != nil {
			c.m().log.Warn("smp: cannot record trust", "peer", k.peer, "err", err)
		} else {
			c.p.h.WriteFingerprints()
		}
	}
	if ev.Kind == domain.SMPEventAskForAnswer || ev.Kind == domain.SMPEventAskForSecret {
		c.smpAnswered = false
	}
	c.smpEvent(ev)
}
