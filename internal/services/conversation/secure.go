package conversation

import (
	"golang.org/x/time/rate"

	"offrecord/internal/domain"
	"offrecord/internal/protocol/ake"
	"offrecord/internal/protocol/ratchet"
	"offrecord/internal/protocol/smp"
	"offrecord/internal/protocol/wire"
	"offrecord/internal/store"
)

// identity returns our long-term key, asking the handler to create one
// when none exists yet.
func (c *instance) identity() (domain.Identity, error) {
	account, protocol := c.p.k.account, c.p.k.protocol
	st := c.m().store
	if id, ok := st.Identity(account, protocol); ok {
		return id, nil
	}
	c.p.h.CreatePrivateKey(account, protocol)
	if id, ok := st.Identity(account, protocol); ok {
		return id, nil
	}
	return domain.Identity{}, domain.ErrNoIdentity
}

func (c *instance) newAKE() (*ake.AKE, error) {
	id, err := c.identity()
	if err != nil {
		return nil, err
	}
	m := c.m()
	return ake.New(id, ake.WithLogger(m.log), ake.WithClock(m.now)), nil
}

// startAKE sends a fresh DH-Commit from this context.
func (c *instance) startAKE() error {
	a, err := c.newAKE()
	if err != nil {
		c.event(domain.EventSetupError, "", err)
		return err
	}
	if c.ake != nil {
		c.ake.Reset()
	}
	c.ake = a
	commit, err := a.StartAKE()
	if err != nil {
		c.event(domain.EventSetupError, "", err)
		return err
	}
	c.injectEncoded(commit)
	c.m().startTimer(c.p.h)
	return nil
}

func (c *instance) receiveAKE(msg wire.Message) (ReceiveOutcome, error) {
	if !c.policy().Has(domain.PolicyAllowV3) {
		return internal(), nil
	}
	// A DH-Key answering a commit sent before the peer's instance was known
	// continues the exchange the master started. A first DH-Commit from a new
	// instance may have crossed ours, so it joins too and HandleDHCommit
	// settles which side initiates.
	if c.ake == nil || c.ake.State() == ake.StateNone {
		joins := msg.Type == wire.TypeDHKey || (msg.Type == wire.TypeDHCommit && c.ake == nil)
		if master := c.p.master; joins && master != c && master.ake != nil &&
			master.ake.State() == ake.StateAwaitingDHKey {
			c.ake = master.ake.Clone()
		}
	}
	if c.ake == nil {
		a, err := c.newAKE()
		if err != nil {
			c.event(domain.EventSetupError, "", err)
			return internal(), err
		}
		c.ake = a
	}

	var (
		res ake.Result
		err error
	)
	switch pl := msg.Payload.(type) {
	case *wire.DHCommit:
		res, err = c.ake.HandleDHCommit(pl)
	case *wire.DHKey:
		res, err = c.ake.HandleDHKey(pl)
	case *wire.RevealSig:
		res, err = c.ake.HandleRevealSignature(pl)
	case *wire.Sig:
		res, err = c.ake.HandleSignature(pl)
	}
	if err != nil {
		c.event(domain.EventSetupError, "", err)
		return internal(), err
	}
	if res.Reply != nil {
		c.injectEncoded(res.Reply)
		c.m().startTimer(c.p.h)
	}
	if res.Established != nil {
		c.goSecure(res.Established)
	}
	return internal(), nil
}

// goSecure installs the keys of a completed exchange.
func (c *instance) goSecure(est *ake.Established) {
	m := c.m()
	r, err := ratchet.New(est, ratchet.WithClock(m.now), ratchet.WithLogger(m.log))
	if err != nil {
		c.event(domain.EventSetupError, "", err)
		return
	}
	refresh := c.state == domain.StateEncrypted && c.theirID == est.TheirIdentity
	if !c.setState(domain.StateEncrypted) {
		r.Wipe()
		return
	}
	if c.ratchet != nil {
		c.ratchet.Wipe()
	}
	c.ratchet = r
	c.theirID, c.fp, c.ssid = est.TheirIdentity, est.Fingerprint, est.SSID
	c.smp.Abort()
	c.smp = smp.New(m.log)
	c.smpAnswered = false
	c.offer = offerAccepted
	c.p.master.offer = offerAccepted
	c.lastSent = m.now()
	c.heartbeat = rate.NewLimiter(rate.Every(m.Settings().HeartbeatInterval), 1)

	account, protocol, name := c.p.k.account, c.p.k.protocol, c.p.k.peer
	if _, status := m.store.RecordFingerprint(account, protocol, name, est.Fingerprint); status != store.StatusKnown {
		c.p.h.NewFingerprint(account, protocol, name, est.Fingerprint)
		c.p.h.WriteFingerprints()
	}
	m.log.Info("private conversation started", "account", account, "peer", name,
		"instance", c.theirTag.String(), "fingerprint", est.Fingerprint.String(), "refresh", refresh)

	if refresh {
		c.p.h.StillSecure(c.snapshot(), est.Initiated)
	} else {
		c.p.h.GoneSecure(c.snapshot())
	}
	c.p.h.UpdateContextList()
	m.startTimer(c.p.h)

	c.resendPending(c)
	if c != c.p.master {
		c.resendPending(c.p.master)
	}
}
