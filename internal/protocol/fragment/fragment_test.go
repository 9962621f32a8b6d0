package fragment_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/protocol/fragment"
)

func TestSplit_RoundTrip(t *testing.T) {
	msg := "?OTR:" + strings.Repeat("QUJDRA==", 40) + "."
	pieces, err := fragment.Split(msg, 80, 0x101, 0x202)
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	var a fragment.Assembler
	now := time.Now()
	var got string
	for i, p := range pieces {
		assert.LessOrEqual(t, len(p), 80)
		f, err := fragment.Parse(p)
		require.NoError(t, err)
		assert.EqualValues(t, 0x101, f.Sender)
		assert.EqualValues(t, 0x202, f.Receiver)
		out, done := a.Add(f, now)
		if i < len(pieces)-1 {
			assert.False(t, done)
			continue
		}
		require.True(t, done)
		got = out
	}
	assert.Equal(t, msg, got)
	assert.False(t, a.Pending())
}

func TestSplit_FitsUnchanged(t *testing.T) {
	pieces, err := fragment.Split("short", 100, 0x100, 0x100)
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, pieces)

	pieces, err = fragment.Split("no limit", 0, 0x100, 0x100)
	require.NoError(t, err)
	assert.Len(t, pieces, 1)
}

func TestSplit_TooSmall(t *testing.T) {
	_, err := fragment.Split(strings.Repeat("x", 100), 20, 0x100, 0x100)
	assert.ErrorIs(t, err, fragment.ErrTooSmall)
}

func TestAssembler_OutOfOrderResets(t *testing.T) {
	var a fragment.Assembler
	now := time.Now()
	_, done := a.Add(fragment.Fragment{K: 1, N: 3, Piece: "a"}, now)
	assert.False(t, done)
	_, done = a.Add(fragment.Fragment{K: 3, N: 3, Piece: "c"}, now)
	assert.False(t, done)
	assert.False(t, a.Pending())

	_, _ = a.Add(fragment.Fragment{K: 1, N: 2, Piece: "x"}, now)
	assert.True(t, a.Expired(now.Add(2*time.Minute), time.Minute))
	out, done := a.Add(fragment.Fragment{K: 2, N: 2, Piece: "y"}, now)
	assert.True(t, done)
	assert.Equal(t, "xy", out)
}

func TestParse_Malformed(t *testing.T) {
	for _, s := range []string{
		"?OTR|zz|00000100,00001,00001,abc,",
		"?OTR|00000100|00000100,00002,00001,abc,",
		"?OTR|00000100|00000100,00001,00001,abc",
		"?OTR|00000100,00001,00001,abc,",
	} {
		_, err := fragment.Parse(s)
		assert.ErrorIs(t, err, fragment.ErrMalformed, s)
	}
}
