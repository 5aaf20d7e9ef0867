package membership

import (
	"encoding/binary"
	"fmt"
)

// Wire primitives shared by the membership and file operation codecs.
// Integers are network byte order; strings and byte blobs are u32 length
// followed by the raw bytes.

// AppendString appends a u32-length-prefixed string.
func AppendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// AppendBytes appends a u32-length-prefixed byte blob.
func AppendBytes(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// Reader is a cursor over a datagram that remembers the first decode
// error instead of forcing error checks on every field read.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decode error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Rem returns the number of unread bytes.
func (r *Reader) Rem() int {
	return len(r.data) - r.off
}

func (r *Reader) fail(want int) {
	if r.err == nil {
		r.err = fmt.Errorf("truncated message: need %d bytes at offset %d, have %d", want, r.off, r.Rem())
	}
}

func (r *Reader) U8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.Rem() < 1 {
		r.fail(1)
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *Reader) U32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.Rem() < 4 {
		r.fail(4)
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *Reader) U64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.Rem() < 8 {
		r.fail(8)
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *Reader) I64() int64 {
	return int64(r.U64())
}

func (r *Reader) Str() string {
	n := int(r.U32())
	if r.err != nil {
		return ""
	}
	if r.Rem() < n {
		r.fail(n)
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

func (r *Reader) Bytes() []byte {
	n := int(r.U32())
	if r.err != nil {
		return nil
	}
	if r.Rem() < n {
		r.fail(n)
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}
