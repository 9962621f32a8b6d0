package ake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/crypto"
	"offrecord/internal/domain"
)

func TestEstablished_LowOrderPeerKey(t *testing.T) {
	a := New(domain.Identity{Account: "alice@example.org", Protocol: "xmpp"})
	priv, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	a.priv, a.pub = priv, pub

	est, err := a.established(domain.Ed25519Public{}, domain.InitiatedLocal)
	assert.Nil(t, est)
	assert.ErrorIs(t, err, crypto.ErrLowOrderPoint)
}
