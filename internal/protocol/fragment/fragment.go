// Package fragment splits encoded messages that exceed a transport limit and
// reassembles them on receipt.
//
// A fragment has the form
//
//	?OTR|<sender tag>|<receiver tag>,<k>,<n>,<piece>,
//
// with tags as eight hex digits and k, n as five decimal digits.
package fragment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"offrecord/internal/domain"
)

const (
	prefix = "?OTR|"

	// MaxPieces is the largest fragment count the format can express.
	MaxPieces = 65535

	// overhead is the length of a fragment minus its piece.
	overhead = len("?OTR|00000000|00000000,00000,00000,,")
)

var (
	ErrMalformed = errors.New("fragment: malformed")
	ErrTooSmall  = errors.New("fragment: transport limit smaller than fragment overhead")
)

// Fragment is one parsed piece.
type Fragment struct {
	Sender   domain.InstanceTag
	Receiver domain.InstanceTag
	K, N     int
	Piece    string
}

// Split cuts msg into pieces no longer than maxSize. It returns msg unchanged
// when it already fits or maxSize is zero.
func Split(msg string, maxSize int, sender, receiver domain.InstanceTag) ([]string, error) {
	if maxSize <= 0 || len(msg) <= maxSize {
		return []string{msg}, nil
	}
	room := maxSize - overhead
	if room <= 0 {
		return nil, ErrTooSmall
	}
	n := (len(msg) + room - 1) / room
	if n > MaxPieces {
		return nil, domain.ErrTooManyPieces
	}
	out := make([]string, 0, n)
	for k := 1; k <= n; k++ {
		start := (k - 1) * room
		end := min(start+room, len(msg))
		out = append(out, fmt.Sprintf("%s%08x|%08x,%05d,%05d,%s,",
			prefix, uint32(sender), uint32(receiver), k, n, msg[start:end]))
	}
	return out, nil
}

// Parse decodes a single fragment.
func Parse(s string) (Fragment, error) {
	i := strings.Index(s, prefix)
	if i < 0 {
		return Fragment{}, ErrMalformed
	}
	rest := s[i+len(prefix):]

	tags, body, ok := strings.Cut(rest, ",")
	if !ok {
		return Fragment{}, ErrMalformed
	}
	st, rt, ok := strings.Cut(tags, "|")
	if !ok {
		return Fragment{}, ErrMalformed
	}
	sender, err1 := strconv.ParseUint(st, 16, 32)
	receiver, err2 := strconv.ParseUint(rt, 16, 32)
	if err1 != nil || err2 != nil {
		return Fragment{}, ErrMalformed
	}

	parts := strings.SplitN(body, ",", 3)
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ",") {
		return Fragment{}, ErrMalformed
	}
	k, err1 := strconv.Atoi(parts[0])
	n, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || k < 1 || n < 1 || k > n || n > MaxPieces {
		return Fragment{}, ErrMalformed
	}
	return Fragment{
		Sender:   domain.InstanceTag(sender),
		Receiver: domain.InstanceTag(receiver),
		K:        k,
		N:        n,
		Piece:    strings.TrimSuffix(parts[2], ","),
	}, nil
}

// Assembler collects the fragments of one message at a time. A fragment that
// does not continue the current sequence discards it; a fresh k=1 starts over.
type Assembler struct {
	buf     strings.Builder
	k, n    int
	started time.Time
}

// Add appends f and returns the whole message once the last piece arrives.
func (a *Assembler) Add(f Fragment, now time.Time) (string, bool) {
	switch {
	case f.K == 1:
		a.Reset()
		a.buf.WriteString(f.Piece)
		a.k, a.n, a.started = 1, f.N, now
	case a.n == f.N && f.K == a.k+1:
		a.buf.WriteString(f.Piece)
		a.k = f.K
	default:
		a.Reset()
		return "", false
	}
	if a.k == a.n {
		msg := a.buf.String()
		a.Reset()
		return msg, true
	}
	return "", false
}

// Pending reports whether a partial message is buffered.
func (a *Assembler) Pending() bool { return a.n > 0 }

// Expired reports whether a partial message is older than maxAge.
func (a *Assembler) Expired(now time.Time, maxAge time.Duration) bool {
	return a.Pending() && now.Sub(a.started) > maxAge
}

// Reset drops any buffered pieces.
func (a *Assembler) Reset() {
	a.buf.Reset()
	a.k, a.n = 0, 0
	a.started = time.Time{}
}
