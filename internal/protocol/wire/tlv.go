package wire

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"offrecord/internal/domain"
)

var (
	// ErrTLV is returned for a truncated TLV record.
	ErrTLV = errors.New("wire: malformed TLV")
	// ErrTLVTooLong is returned when a TLV value does not fit its 16-bit length.
	ErrTLVTooLong = errors.New("wire: TLV value too long")
)

// EncodePlaintext builds the decrypted body of a data message: the human
// readable text, then a NUL and the TLV records if there are any.
func EncodePlaintext(msg []byte, tlvs []domain.TLV) ([]byte, error) {
	for _, t := range tlvs {
		if len(t.Value) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: type %d has %d bytes", ErrTLVTooLong, t.Type, len(t.Value))
		}
	}
	w := &writer{b: make([]byte, 0, len(msg)+1+4*len(tlvs))}
	w.fixed(msg)
	if len(tlvs) == 0 {
		return w.bytes(), nil
	}
	w.byte(0)
	for _, t := range tlvs {
		w.u16(t.Type)
		w.u16(uint16(len(t.Value)))
		w.fixed(t.Value)
	}
	return w.bytes(), nil
}

// DecodePlaintext splits a decrypted body into text and TLVs.
func DecodePlaintext(b []byte) ([]byte, []domain.TLV, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return b, nil, nil
	}
	msg := b[:i]
	r := &reader{b: b[i+1:]}
	var tlvs []domain.TLV
	for len(r.b) > 0 {
		typ := r.u16()
		n := r.u16()
		v := r.take(int(n))
		if r.err != nil {
			return nil, nil, ErrTLV
		}
		tlvs = append(tlvs, domain.TLV{Type: typ, Value: append([]byte(nil), v...)})
	}
	return msg, tlvs, nil
}

// FindTLV returns the first TLV of the given type.
func FindTLV(tlvs []domain.TLV, typ uint16) (domain.TLV, bool) {
	for _, t := range tlvs {
		if t.Type == typ {
			return t, true
		}
	}
	return domain.TLV{}, false
}
