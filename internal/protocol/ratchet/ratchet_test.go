package ratchet_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/crypto"
	"offrecord/internal/domain"
	"offrecord/internal/protocol/ake"
	"offrecord/internal/protocol/ratchet"
	"offrecord/internal/protocol/wire"
)

var (
	hdrAB = wire.Header{Version: wire.ProtocolVersion, Type: wire.TypeData, SenderTag: 0x100, ReceiverTag: 0x200}
	hdrBA = wire.Header{Version: wire.ProtocolVersion, Type: wire.TypeData, SenderTag: 0x200, ReceiverTag: 0x100}
)

// pair runs a real key exchange and returns both ratchets.
func pair(t *testing.T) (*ratchet.Ratchet, *ratchet.Ratchet) {
	t.Helper()
	id := func() domain.Identity {
		priv, pub, err := crypto.GenerateEd25519(nil)
		require.NoError(t, err)
		return domain.Identity{Public: pub, Private: priv}
	}
	alice, bob := ake.New(id()), ake.New(id())
	commit, err := alice.StartAKE()
	require.NoError(t, err)
	r, err := bob.HandleDHCommit(commit)
	require.NoError(t, err)
	r, err = alice.HandleDHKey(r.Reply.(*wire.DHKey))
	require.NoError(t, err)
	r, err = bob.HandleRevealSignature(r.Reply.(*wire.RevealSig))
	require.NoError(t, err)
	bobEst := r.Established
	r, err = alice.HandleSignature(r.Reply.(*wire.Sig))
	require.NoError(t, err)

	a, err := ratchet.New(r.Established)
	require.NoError(t, err)
	b, err := ratchet.New(bobEst)
	require.NoError(t, err)
	return a, b
}

func send(t *testing.T, from *ratchet.Ratchet, h wire.Header, msg string) *wire.Data {
	t.Helper()
	d, err := from.Encrypt(h, []byte(msg), nil, 0)
	require.NoError(t, err)
	return d
}

func TestRatchet_RoundTrip(t *testing.T) {
	a, b := pair(t)

	d := send(t, a, hdrAB, "hi")
	got, err := b.Decrypt(hdrAB, d)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got.Message))

	d = send(t, b, hdrBA, "hello back")
	got, err = a.Decrypt(hdrBA, d)
	require.NoError(t, err)
	assert.Equal(t, "hello back", string(got.Message))
}

func TestRatchet_TLVsAndFlags(t *testing.T) {
	a, b := pair(t)
	tlvs := []domain.TLV{{Type: domain.TLVDisconnected}}
	d, err := a.Encrypt(hdrAB, nil, tlvs, wire.FlagIgnoreUnreadable)
	require.NoError(t, err)

	got, err := b.Decrypt(hdrAB, d)
	require.NoError(t, err)
	assert.Empty(t, got.Message)
	require.Len(t, got.TLVs, 1)
	assert.Equal(t, domain.TLVDisconnected, got.TLVs[0].Type)
	assert.Equal(t, wire.FlagIgnoreUnreadable, got.Flags)
}

func TestRatchet_OversizedTLVLeavesChainIntact(t *testing.T) {
	a, b := pair(t)
	huge := []domain.TLV{{Type: domain.TLVSMP1, Value: make([]byte, 1<<16)}}
	_, err := a.Encrypt(hdrAB, nil, huge, 0)
	require.ErrorIs(t, err, domain.ErrEncryptionFailed)
	assert.ErrorIs(t, err, wire.ErrTLVTooLong)

	d := send(t, a, hdrAB, "after")
	assert.Equal(t, uint64(1), d.Counter)
	got, err := b.Decrypt(hdrAB, d)
	require.NoError(t, err)
	assert.Equal(t, "after", string(got.Message))
}

func TestRatchet_ReplayRejected(t *testing.T) {
	a, b := pair(t)
	d := send(t, a, hdrAB, "once")
	_, err := b.Decrypt(hdrAB, d)
	require.NoError(t, err)

	_, err = b.Decrypt(hdrAB, d)
	assert.ErrorIs(t, err, domain.ErrMessageMalformed)
}

func TestRatchet_TamperedMACUnreadable(t *testing.T) {
	a, b := pair(t)
	d := send(t, a, hdrAB, "secret")
	d.Encrypted[0] ^= 0xff

	_, err := b.Decrypt(hdrAB, d)
	assert.ErrorIs(t, err, domain.ErrMessageUnreadable)

	// The failed attempt must not consume the counter.
	d.Encrypted[0] ^= 0xff
	got, err := b.Decrypt(hdrAB, d)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got.Message))
}

func TestRatchet_HeaderIsAuthenticated(t *testing.T) {
	a, b := pair(t)
	d := send(t, a, hdrAB, "x")
	other := hdrAB
	other.ReceiverTag = 0x201
	_, err := b.Decrypt(other, d)
	assert.ErrorIs(t, err, domain.ErrMessageUnreadable)
}

func TestRatchet_OutOfOrderWithinWindow(t *testing.T) {
	a, b := pair(t)
	d1 := send(t, a, hdrAB, "one")
	d2 := send(t, a, hdrAB, "two")
	d3 := send(t, a, hdrAB, "three")

	for _, tc := range []struct {
		d    *wire.Data
		want string
	}{{d3, "three"}, {d1, "one"}, {d2, "two"}} {
		got, err := b.Decrypt(hdrAB, tc.d)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(got.Message))
	}

	_, err := b.Decrypt(hdrAB, d2)
	assert.ErrorIs(t, err, domain.ErrMessageMalformed)
}

func TestRatchet_OutOfOrderAcrossWindowBlocks(t *testing.T) {
	a, b := pair(t)
	sent := make([]*wire.Data, 0, 70)
	for i := range 70 {
		sent = append(sent, send(t, a, hdrAB, fmt.Sprintf("m%d", i+1)))
	}

	// Counters 66, 65, 64 and 63 straddle a 64-bit block boundary.
	for _, n := range []int{66, 65, 63, 64, 70, 1, 67} {
		got, err := b.Decrypt(hdrAB, sent[n-1])
		require.NoError(t, err, "counter %d", n)
		assert.Equal(t, fmt.Sprintf("m%d", n), string(got.Message))
	}
	for _, n := range []int{65, 64, 66, 1} {
		_, err := b.Decrypt(hdrAB, sent[n-1])
		assert.ErrorIs(t, err, domain.ErrMessageMalformed, "replayed counter %d", n)
	}
}

func TestRatchet_KeysRotateAndOldSessionsAreForgotten(t *testing.T) {
	a, b := pair(t)

	ap, ac, _, at := a.KeyIDs()
	assert.Equal(t, [3]uint32{1, 2, 1}, [3]uint32{ap, ac, at})
	assert.True(t, a.HasSession(1, 1))

	// Several round trips move both sides forward.
	for i := 0; i < 4; i++ {
		_, err := b.Decrypt(hdrAB, send(t, a, hdrAB, "ping"))
		require.NoError(t, err)
		_, err = a.Decrypt(hdrBA, send(t, b, hdrBA, "pong"))
		require.NoError(t, err)
	}

	ap, ac, _, _ = a.KeyIDs()
	assert.Greater(t, ap, uint32(1))
	assert.Equal(t, ap+1, ac)
	assert.False(t, a.HasSession(1, 1), "first session must be gone after rotation")
	assert.False(t, b.HasSession(1, 1))

	// A message under a retired key id is refused.
	old := send(t, a, hdrAB, "fresh")
	old.RecipientKeyID = 1
	_, err := b.Decrypt(hdrAB, old)
	assert.Error(t, err)
}

func TestRatchet_RevealsRetiredMACKeys(t *testing.T) {
	a, b := pair(t)
	_, err := b.Decrypt(hdrAB, send(t, a, hdrAB, "1"))
	require.NoError(t, err)
	_, err = a.Decrypt(hdrBA, send(t, b, hdrBA, "2"))
	require.NoError(t, err)
	_, err = b.Decrypt(hdrAB, send(t, a, hdrAB, "3"))
	require.NoError(t, err)

	// Bob has now retired the (1,1) session he received on.
	assert.NotEmpty(t, b.PendingReveal())
	d := send(t, b, hdrBA, "4")
	assert.Len(t, d.OldMACKeys, 32)
	assert.Empty(t, b.PendingReveal())
	_, err = a.Decrypt(hdrBA, d)
	require.NoError(t, err)
}

func TestRatchet_ExtraSymmetricKeyMatches(t *testing.T) {
	a, b := pair(t)
	key, err := a.ExtraSymmetricKey()
	require.NoError(t, err)

	got, err := b.Decrypt(hdrAB, send(t, a, hdrAB, "use the key"))
	require.NoError(t, err)
	assert.Equal(t, key, got.Extra)
}

func TestRatchet_Wipe(t *testing.T) {
	a, _ := pair(t)
	a.Wipe()
	assert.False(t, a.HasSession(1, 1))
	ap, ac, tp, tc := a.KeyIDs()
	assert.Zero(t, ap+ac+tp+tc)
}
