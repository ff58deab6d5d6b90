package moq

import (
	"io"
	"unicode/utf8"

	"github.com/quic-go/quic-go/quicvarint"
)

// MaxReasonPhrase is the largest permitted byte length of a reason phrase.
const MaxReasonPhrase = 1024

// MaxNamespaceFields and MaxNamespaceBytes bound a track namespace tuple.
const (
	MaxNamespaceFields = 32
	MaxNamespaceBytes  = 4096
)

// AppendVarInt appends the shortest QUIC-style varint encoding of v to buf.
// It panics if v exceeds the 62-bit varint range; callers in this package
// never pass such a value since every field here is bounded well below it.
func AppendVarInt(buf []byte, v uint64) []byte {
	return quicvarint.Append(buf, v)
}

// AppendLenPrefixed appends a varint length followed by data.
func AppendLenPrefixed(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	return append(buf, data...)
}

// Tuple is a hierarchical sequence of opaque byte fields, used for track
// namespaces. A Tuple "starts with" another iff the other's fields are a
// byte-equal prefix.
type Tuple []string

// StartsWith reports whether t has prefix as its first len(prefix) fields.
func (t Tuple) StartsWith(prefix Tuple) bool {
	if len(prefix) > len(t) {
		return false
	}
	for i, p := range prefix {
		if t[i] != p {
			return false
		}
	}
	return true
}

// Equal reports whether t and other have identical fields.
func (t Tuple) Equal(other Tuple) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

func (t Tuple) byteLen() int {
	n := 0
	for _, f := range t {
		n += len(f)
	}
	return n
}

// AppendTuple appends a tuple: count:varint then count×(len:varint+bytes).
func AppendTuple(buf []byte, t Tuple) []byte {
	buf = quicvarint.Append(buf, uint64(len(t)))
	for _, f := range t {
		buf = AppendLenPrefixed(buf, []byte(f))
	}
	return buf
}

// Location identifies an object by group and object id within a track,
// ordered lexicographically by (Group, Object).
type Location struct {
	Group  uint64
	Object uint64
}

// Less reports whether l sorts strictly before other.
func (l Location) Less(other Location) bool {
	if l.Group != other.Group {
		return l.Group < other.Group
	}
	return l.Object < other.Object
}

// LessOrEqual reports whether l sorts at or before other.
func (l Location) LessOrEqual(other Location) bool {
	return l == other || l.Less(other)
}

func (l Location) appendTo(buf []byte) []byte {
	buf = quicvarint.Append(buf, l.Group)
	buf = quicvarint.Append(buf, l.Object)
	return buf
}

// KeyValuePair is a typed parameter or extension header entry. Even type
// values carry a varint Value; odd type values carry a length-prefixed
// Bytes payload of at most 65535 bytes.
type KeyValuePair struct {
	Type  uint64
	Value uint64 // valid iff Type is even
	Bytes []byte // valid iff Type is odd
}

func (kv KeyValuePair) appendTo(buf []byte) []byte {
	buf = quicvarint.Append(buf, kv.Type)
	if kv.Type%2 == 0 {
		return quicvarint.Append(buf, kv.Value)
	}
	return AppendLenPrefixed(buf, kv.Bytes)
}

// Cursor is a sequential reader over an in-memory byte buffer used to
// incrementally parse varint-based frames. All Read* methods leave the
// cursor positioned immediately after the consumed bytes on success;
// on failure the cursor position is unspecified and callers must discard
// the parse attempt rather than continue reading.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor wraps data for sequential reading from the start.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Len returns the number of unread bytes.
func (c *Cursor) Len() int { return len(c.data) - c.pos }

// Remaining returns the unread tail of the buffer without advancing.
func (c *Cursor) Remaining() []byte { return c.data[c.pos:] }

// ReadVarInt reads a QUIC-style variable-length integer.
func (c *Cursor) ReadVarInt() (uint64, error) {
	if c.pos >= len(c.data) {
		return 0, ErrNotEnoughBytes
	}
	val, n, err := quicvarint.Parse(c.data[c.pos:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, ErrNotEnoughBytes
		}
		return 0, ErrMalformed
	}
	c.pos += n
	return val, nil
}

// ReadByte reads a single byte.
func (c *Cursor) ReadByte() (byte, error) {
	if c.pos >= len(c.data) {
		return 0, ErrNotEnoughBytes
	}
	v := c.data[c.pos]
	c.pos++
	return v, nil
}

// ReadBytes reads exactly n raw bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrMalformed
	}
	end := c.pos + n
	if end > len(c.data) {
		return nil, ErrNotEnoughBytes
	}
	v := c.data[c.pos:end]
	c.pos = end
	return v, nil
}

// ReadLenPrefixed reads a varint length followed by that many raw bytes.
func (c *Cursor) ReadLenPrefixed() ([]byte, error) {
	n, err := c.ReadVarInt()
	if err != nil {
		return nil, err
	}
	return c.ReadBytes(int(n))
}

// ReadReasonPhrase reads a length-prefixed UTF-8 string capped at
// MaxReasonPhrase bytes, rejecting invalid UTF-8.
func (c *Cursor) ReadReasonPhrase() (string, error) {
	b, err := c.ReadLenPrefixed()
	if err != nil {
		return "", err
	}
	if len(b) > MaxReasonPhrase {
		return "", ErrMalformed
	}
	if !utf8.Valid(b) {
		return "", ErrMalformed
	}
	return string(b), nil
}

// ReadTuple reads a namespace tuple, enforcing the field-count and
// total-byte-length bounds.
func (c *Cursor) ReadTuple() (Tuple, error) {
	count, err := c.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if count == 0 || count > MaxNamespaceFields {
		return nil, ErrMalformed
	}
	t := make(Tuple, count)
	total := 0
	for i := range t {
		b, err := c.ReadLenPrefixed()
		if err != nil {
			return nil, err
		}
		total += len(b)
		if total > MaxNamespaceBytes {
			return nil, ErrMalformed
		}
		t[i] = string(b)
	}
	return t, nil
}

// ReadLocation reads a (group, object) pair.
func (c *Cursor) ReadLocation() (Location, error) {
	g, err := c.ReadVarInt()
	if err != nil {
		return Location{}, err
	}
	o, err := c.ReadVarInt()
	if err != nil {
		return Location{}, err
	}
	return Location{Group: g, Object: o}, nil
}

// ReadKeyValuePair reads one typed parameter/extension entry.
func (c *Cursor) ReadKeyValuePair() (KeyValuePair, error) {
	typ, err := c.ReadVarInt()
	if err != nil {
		return KeyValuePair{}, err
	}
	if typ%2 == 0 {
		v, err := c.ReadVarInt()
		if err != nil {
			return KeyValuePair{}, err
		}
		return KeyValuePair{Type: typ, Value: v}, nil
	}
	b, err := c.ReadLenPrefixed()
	if err != nil {
		return KeyValuePair{}, err
	}
	if len(b) > 65535 {
		return KeyValuePair{}, ErrMalformed
	}
	return KeyValuePair{Type: typ, Bytes: b}, nil
}

// ReadKeyValuePairs reads a varint count followed by that many pairs,
// used for control-message parameter lists and object extension headers.
func (c *Cursor) ReadKeyValuePairs() ([]KeyValuePair, error) {
	n, err := c.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]KeyValuePair, n)
	for i := range out {
		kv, err := c.ReadKeyValuePair()
		if err != nil {
			return nil, err
		}
		out[i] = kv
	}
	return out, nil
}

// AppendKeyValuePairs appends a varint count followed by each pair.
func AppendKeyValuePairs(buf []byte, kvs []KeyValuePair) []byte {
	buf = quicvarint.Append(buf, uint64(len(kvs)))
	for _, kv := range kvs {
		buf = kv.appendTo(buf)
	}
	return buf
}
