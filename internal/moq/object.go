package moq

import "fmt"

// ObjectStatus classifies an object when no payload is present.
type ObjectStatus uint64

const (
	StatusNormal       ObjectStatus = 0
	StatusDoesNotExist ObjectStatus = 1
	StatusEndOfGroup   ObjectStatus = 3
	StatusEndOfTrack   ObjectStatus = 4
)

// ForwardingPreference distinguishes the two outer data-stream framings an
// object can travel under.
type ForwardingPreference int

const (
	ForwardSubgroup ForwardingPreference = iota
	ForwardDatagram
)

// Object is the in-memory, framing-independent representation of a single
// delivered unit. Invariant: Status == StatusNormal iff Payload is present.
type Object struct {
	TrackAlias  uint64
	Location    Location
	Priority    byte
	Forwarding  ForwardingPreference
	SubgroupID  uint64
	HasSubgroup bool
	Status      ObjectStatus
	Extensions  []KeyValuePair
	HasExtensions bool
	Payload     []byte
}

// Data-stream outer framing type tags (§4.2).
const (
	TypeFetchHeader uint64 = 0x05

	// Subgroup header types: three subgroup-id modes crossed with the
	// extensions-present flag. See SPEC_FULL.md §4.2 for the resolution of
	// this type table.
	TypeSubgroupFixedZero          uint64 = 0x08
	TypeSubgroupFixedZeroExt       uint64 = 0x09
	TypeSubgroupFirstObject        uint64 = 0x0a
	TypeSubgroupFirstObjectExt     uint64 = 0x0b
	TypeSubgroupExplicit           uint64 = 0x0c
	TypeSubgroupExplicitExt        uint64 = 0x0d

	TypeDatagramObject    uint64 = 0x00
	TypeDatagramObjectExt uint64 = 0x01
	TypeDatagramStatus    uint64 = 0x02
	TypeDatagramStatusExt uint64 = 0x03
)

// SubgroupIDMode selects how a SubgroupHeader's type encodes its subgroup id.
type SubgroupIDMode int

const (
	SubgroupFixedZero SubgroupIDMode = iota
	SubgroupFirstObject
	SubgroupExplicit
)

// subgroupHeaderType packs a mode and an extensions-present flag into the
// wire type tag.
func subgroupHeaderType(mode SubgroupIDMode, hasExt bool) uint64 {
	switch mode {
	case SubgroupFixedZero:
		if hasExt {
			return TypeSubgroupFixedZeroExt
		}
		return TypeSubgroupFixedZero
	case SubgroupFirstObject:
		if hasExt {
			return TypeSubgroupFirstObjectExt
		}
		return TypeSubgroupFirstObject
	default:
		if hasExt {
			return TypeSubgroupExplicitExt
		}
		return TypeSubgroupExplicit
	}
}

// SubgroupHeaderMode is the exported form of subgroupHeaderMode: it maps a
// subgroup header type to its subgroup-id mode and extensions flag without
// reading from a Cursor.
func SubgroupHeaderMode(t uint64) (mode SubgroupIDMode, hasExt bool, ok bool) {
	return subgroupHeaderMode(t)
}

func subgroupHeaderMode(t uint64) (mode SubgroupIDMode, hasExt bool, ok bool) {
	switch t {
	case TypeSubgroupFixedZero:
		return SubgroupFixedZero, false, true
	case TypeSubgroupFixedZeroExt:
		return SubgroupFixedZero, true, true
	case TypeSubgroupFirstObject:
		return SubgroupFirstObject, false, true
	case TypeSubgroupFirstObjectExt:
		return SubgroupFirstObject, true, true
	case TypeSubgroupExplicit:
		return SubgroupExplicit, false, true
	case TypeSubgroupExplicitExt:
		return SubgroupExplicit, true, true
	default:
		return 0, false, false
	}
}

// SubgroupHeader is the outer framing for a subgroup data stream.
type SubgroupHeader struct {
	TrackAlias uint64
	GroupID    uint64
	Mode       SubgroupIDMode
	SubgroupID uint64 // meaningful only when Mode == SubgroupExplicit
	Priority   byte
	HasExt     bool
}

// Encode serializes the subgroup header. In SubgroupFirstObject mode no
// subgroup id field is written: that mode's subgroup id equals the id of
// the stream's first object (see ResolvedSubgroupID).
func (h SubgroupHeader) Encode() []byte {
	typ := subgroupHeaderType(h.Mode, h.HasExt)
	buf := AppendVarInt(nil, typ)
	buf = AppendVarInt(buf, h.TrackAlias)
	buf = AppendVarInt(buf, h.GroupID)
	if h.Mode == SubgroupExplicit {
		buf = AppendVarInt(buf, h.SubgroupID)
	}
	buf = append(buf, h.Priority)
	return buf
}

// ParseSubgroupHeader parses a subgroup header whose type tag has already
// been read from c.
func ParseSubgroupHeader(c *Cursor, typ uint64) (SubgroupHeader, error) {
	mode, hasExt, ok := subgroupHeaderMode(typ)
	if !ok {
		return SubgroupHeader{}, fmt.Errorf("%w: subgroup type 0x%x", ErrInvalidType, typ)
	}
	var h SubgroupHeader
	h.Mode = mode
	h.HasExt = hasExt
	var err error
	if h.TrackAlias, err = c.ReadVarInt(); err != nil {
		return h, &ParseError{Field: "track_alias", Err: err}
	}
	if h.GroupID, err = c.ReadVarInt(); err != nil {
		return h, &ParseError{Field: "group_id", Err: err}
	}
	if mode == SubgroupExplicit {
		if h.SubgroupID, err = c.ReadVarInt(); err != nil {
			return h, &ParseError{Field: "subgroup_id", Err: err}
		}
	}
	if h.Priority, err = c.ReadByte(); err != nil {
		return h, &ParseError{Field: "priority", Err: err}
	}
	return h, nil
}

// ResolvedSubgroupID returns the header's effective subgroup id, given the
// id of the first object observed on the stream (required for
// SubgroupFirstObject mode; ignored otherwise).
func (h SubgroupHeader) ResolvedSubgroupID(firstObjectID uint64) uint64 {
	switch h.Mode {
	case SubgroupFixedZero:
		return 0
	case SubgroupFirstObject:
		return firstObjectID
	default:
		return h.SubgroupID
	}
}

// FetchHeader is the outer framing for a fetch data stream.
type FetchHeader struct {
	RequestID uint64
}

func (h FetchHeader) Encode() []byte {
	buf := AppendVarInt(nil, TypeFetchHeader)
	return AppendVarInt(buf, h.RequestID)
}

func ParseFetchHeader(c *Cursor) (FetchHeader, error) {
	id, err := c.ReadVarInt()
	if err != nil {
		return FetchHeader{}, &ParseError{Field: "request_id", Err: err}
	}
	return FetchHeader{RequestID: id}, nil
}

// EncodeSubgroupObject serializes one object inside a subgroup stream.
// objectIDDelta must already be computed by the caller (delta = id -
// previousID - 1, or delta = id for the first object on the stream).
func EncodeSubgroupObject(delta uint64, hasExt bool, ext []KeyValuePair, status ObjectStatus, payload []byte) []byte {
	buf := AppendVarInt(nil, delta)
	buf = appendExtensions(buf, hasExt, ext)
	return appendPayloadOrStatus(buf, status, payload)
}

// ParseSubgroupObject parses one object inside a subgroup stream, given
// the previous absolute object id (0 and "is first" for the stream's
// first object) and whether the enclosing header declared extensions
// present.
func ParseSubgroupObject(c *Cursor, hasExt bool, previousID uint64, isFirst bool) (id uint64, obj Object, err error) {
	delta, err := c.ReadVarInt()
	if err != nil {
		return 0, obj, &ParseError{Field: "object_id_delta", Err: err}
	}
	if isFirst {
		id = delta
	} else {
		id = previousID + delta + 1
	}
	obj.HasExtensions = hasExt
	if hasExt {
		if obj.Extensions, err = c.ReadKeyValuePairs(); err != nil {
			return id, obj, &ParseError{Field: "extensions", Err: err}
		}
	}
	if err = parsePayloadOrStatus(c, &obj); err != nil {
		return id, obj, err
	}
	return id, obj, nil
}

// EncodeFetchObject serializes one object inside a fetch stream, carrying
// its absolute location rather than a delta.
func EncodeFetchObject(loc Location, priority byte, hasExt bool, ext []KeyValuePair, status ObjectStatus, payload []byte) []byte {
	buf := loc.appendTo(nil)
	buf = append(buf, priority)
	if hasExt {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendExtensions(buf, hasExt, ext)
	return appendPayloadOrStatus(buf, status, payload)
}

// ParseFetchObject parses one object inside a fetch stream.
func ParseFetchObject(c *Cursor) (Object, error) {
	var obj Object
	var err error
	if obj.Location, err = c.ReadLocation(); err != nil {
		return obj, &ParseError{Field: "location", Err: err}
	}
	if obj.Priority, err = c.ReadByte(); err != nil {
		return obj, &ParseError{Field: "priority", Err: err}
	}
	extFlag, err := c.ReadByte()
	if err != nil {
		return obj, &ParseError{Field: "extensions_present", Err: err}
	}
	obj.HasExtensions = extFlag != 0
	if obj.HasExtensions {
		if obj.Extensions, err = c.ReadKeyValuePairs(); err != nil {
			return obj, &ParseError{Field: "extensions", Err: err}
		}
	}
	if err = parsePayloadOrStatus(c, &obj); err != nil {
		return obj, err
	}
	return obj, nil
}

func appendExtensions(buf []byte, hasExt bool, ext []KeyValuePair) []byte {
	if !hasExt {
		return buf
	}
	return AppendKeyValuePairs(buf, ext)
}

func appendPayloadOrStatus(buf []byte, status ObjectStatus, payload []byte) []byte {
	if status == StatusNormal {
		buf = AppendVarInt(buf, uint64(len(payload)))
		return append(buf, payload...)
	}
	buf = AppendVarInt(buf, 0)
	return AppendVarInt(buf, uint64(status))
}

func parsePayloadOrStatus(c *Cursor, obj *Object) error {
	payloadLen, err := c.ReadVarInt()
	if err != nil {
		return &ParseError{Field: "payload_len", Err: err}
	}
	if payloadLen > 0 {
		obj.Status = StatusNormal
		if obj.Payload, err = c.ReadBytes(int(payloadLen)); err != nil {
			return &ParseError{Field: "payload", Err: err}
		}
		return nil
	}
	statusVal, err := c.ReadVarInt()
	if err != nil {
		return &ParseError{Field: "object_status", Err: err}
	}
	obj.Status = ObjectStatus(statusVal)
	return nil
}

// NextSubgroupObjectIDDelta computes the encoded delta for an object id
// given the previous absolute id on the same stream. isFirst selects the
// first-object special case where the delta equals the absolute id.
func NextSubgroupObjectIDDelta(id, previousID uint64, isFirst bool) uint64 {
	if isFirst {
		return id
	}
	return id - previousID - 1
}

// DatagramObject is a complete, self-contained object delivered over a
// QUIC datagram.
type DatagramObject struct {
	TrackAlias uint64
	Location   Location
	Priority   byte
	Object     Object
}

// Encode serializes a datagram carrying either a payload (type 0x00/0x01)
// or a status (type 0x02/0x03), selecting the flag bit by status.
func (d DatagramObject) Encode() []byte {
	isStatus := d.Object.Status != StatusNormal
	typ := TypeDatagramObject
	if isStatus {
		typ = TypeDatagramStatus
	}
	if d.Object.HasExtensions {
		typ++
	}
	buf := AppendVarInt(nil, typ)
	buf = AppendVarInt(buf, d.TrackAlias)
	buf = d.Location.appendTo(buf)
	buf = append(buf, d.Priority)
	buf = appendExtensions(buf, d.Object.HasExtensions, d.Object.Extensions)
	return appendPayloadOrStatus(buf, d.Object.Status, d.Object.Payload)
}

// ParseDatagramObject parses a datagram whose type tag has already been
// read from c.
func ParseDatagramObject(c *Cursor, typ uint64) (DatagramObject, error) {
	if typ > TypeDatagramStatusExt {
		return DatagramObject{}, fmt.Errorf("%w: datagram type 0x%x", ErrInvalidType, typ)
	}
	hasExt := typ == TypeDatagramObjectExt || typ == TypeDatagramStatusExt
	var d DatagramObject
	var err error
	if d.TrackAlias, err = c.ReadVarInt(); err != nil {
		return d, &ParseError{Field: "track_alias", Err: err}
	}
	if d.Location, err = c.ReadLocation(); err != nil {
		return d, &ParseError{Field: "location", Err: err}
	}
	if d.Priority, err = c.ReadByte(); err != nil {
		return d, &ParseError{Field: "priority", Err: err}
	}
	d.Object.Forwarding = ForwardDatagram
	d.Object.TrackAlias = d.TrackAlias
	d.Object.Location = d.Location
	d.Object.Priority = d.Priority
	d.Object.HasExtensions = hasExt
	if hasExt {
		if d.Object.Extensions, err = c.ReadKeyValuePairs(); err != nil {
			return d, &ParseError{Field: "extensions", Err: err}
		}
	}
	if err = parsePayloadOrStatus(c, &d.Object); err != nil {
		return d, err
	}
	return d, nil
}
