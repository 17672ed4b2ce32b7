package bitcoin

import (
	"encoding/binary"
	"errors"
	"fmt"

	verrors "github.com/bardlex/poolverify/pkg/errors"
)

// Reader errors
var (
	ErrUnexpectedEndOfBuffer = errors.New("unexpected end of buffer")
	ErrVarIntOverflow        = errors.New("varint exceeds safe integer range")
)

// MaxSafeInteger is the largest count or length ReadLength accepts (2^53-1)
const MaxSafeInteger = 1<<53 - 1

// Reader is a forward-only cursor over an immutable byte buffer. No read ever
// goes past the end: an overrun returns ErrUnexpectedEndOfBuffer wrapped in a
// buffer ServiceError carrying the offset.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of buf
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the cursor position
func (r *Reader) Offset() int { return r.pos }

// Remaining returns the number of unread bytes
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) overrun(op string, need int) error {
	return verrors.Wrap(ErrUnexpectedEndOfBuffer, verrors.ErrorTypeBuffer, op,
		fmt.Sprintf("need %d bytes, %d left", need, r.Remaining())).
		WithContext("offset", r.pos)
}

func (r *Reader) take(op string, n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, r.overrun(op, n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// PeekByte returns the next byte without consuming it
func (r *Reader) PeekByte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, r.overrun("peek_byte", 1)
	}
	return r.buf[r.pos], nil
}

// ReadByte consumes one byte
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take("read_byte", 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16LE consumes a little-endian uint16
func (r *Reader) ReadUint16LE() (uint16, error) {
	b, err := r.take("read_uint16", 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32LE consumes a little-endian uint32
func (r *Reader) ReadUint32LE() (uint32, error) {
	b, err := r.take("read_uint32", 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64LE consumes a little-endian uint64
func (r *Reader) ReadUint64LE() (uint64, error) {
	b, err := r.take("read_uint64", 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadBytes consumes n bytes. The returned slice aliases the buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take("read_bytes", n)
}

// Skip advances the cursor by n bytes
func (r *Reader) Skip(n int) error {
	_, err := r.take("skip", n)
	return err
}

// ReadVarInt consumes a CompactSize integer covering the full uint64 range
func (r *Reader) ReadVarInt() (uint64, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	switch prefix {
	case 0xfd:
		v, err := r.ReadUint16LE()
		return uint64(v), err
	case 0xfe:
		v, err := r.ReadUint32LE()
		return uint64(v), err
	case 0xff:
		return r.ReadUint64LE()
	default:
		return uint64(prefix), nil
	}
}

// ReadLength reads a varint used as a count or byte length. Values above
// MaxSafeInteger fail with ErrVarIntOverflow rather than being truncated.
func (r *Reader) ReadLength() (int, error) {
	start := r.pos
	v, err := r.ReadVarInt()
	if err != nil {
		return 0, err
	}
	if v > MaxSafeInteger {
		return 0, verrors.Wrap(ErrVarIntOverflow, verrors.ErrorTypeBuffer, "read_length",
			fmt.Sprintf("value %d", v)).
			WithContext("offset", start)
	}
	return int(v), nil
}

// ReadVarBytes reads a varint length followed by that many bytes
func (r *Reader) ReadVarBytes() ([]byte, error) {
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(n)
}

// AppendVarInt appends the CompactSize encoding of v to dst
func AppendVarInt(dst []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(dst, byte(v))
	case v <= 0xffff:
		return binary.LittleEndian.AppendUint16(append(dst, 0xfd), uint16(v))
	case v <= 0xffffffff:
		return binary.LittleEndian.AppendUint32(append(dst, 0xfe), uint32(v))
	default:
		return binary.LittleEndian.AppendUint64(append(dst, 0xff), v)
	}
}
