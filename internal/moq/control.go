package moq

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Control message type IDs. The wire framing is
// type:varint || length:uint16_be || payload[length] (§4.2).
const (
	MsgSubscribeUpdate          uint64 = 0x02
	MsgSubscribe                uint64 = 0x03
	MsgSubscribeOK              uint64 = 0x04
	MsgSubscribeError           uint64 = 0x05
	MsgPublishNamespace         uint64 = 0x06
	MsgPublishNamespaceOK       uint64 = 0x07
	MsgPublishNamespaceError    uint64 = 0x08
	MsgPublishNamespaceCancel   uint64 = 0x09
	MsgUnsubscribe              uint64 = 0x0a
	MsgSubscribeDone            uint64 = 0x0b
	MsgPublishNamespaceDone     uint64 = 0x0c
	MsgTrackStatusRequest       uint64 = 0x0d
	MsgTrackStatus              uint64 = 0x0e
	MsgGoAway                   uint64 = 0x10
	MsgSubscribeAnnounces       uint64 = 0x11
	MsgSubscribeAnnouncesOK     uint64 = 0x12
	MsgSubscribeAnnouncesError  uint64 = 0x13
	MsgUnsubscribeAnnounces     uint64 = 0x14
	MsgMaxRequestID             uint64 = 0x15
	MsgFetch                    uint64 = 0x16
	MsgFetchCancel              uint64 = 0x17
	MsgFetchOK                  uint64 = 0x18
	MsgFetchError               uint64 = 0x19
	MsgRequestsBlocked          uint64 = 0x1a
	MsgPublish                  uint64 = 0x1b
	MsgPublishOK                uint64 = 0x1c
	MsgPublishError             uint64 = 0x1d
	MsgPublishDone              uint64 = 0x1e
	MsgClientSetup              uint64 = 0x20
	MsgServerSetup              uint64 = 0x21
)

// DRAFT_11 is the single protocol version this implementation negotiates.
const DRAFT_11 uint64 = 0xFF00000B

// Setup parameter keys.
const (
	ParamPath         uint64 = 0x01 // odd → length-prefixed byte string
	ParamMaxRequestID uint64 = 0x02 // even → varint value
)

// Subscribe filter types.
const (
	FilterNextGroupStart uint64 = 0x01
	FilterLatestObject   uint64 = 0x02
	FilterAbsoluteStart  uint64 = 0x03
	FilterAbsoluteRange  uint64 = 0x04
)

// Group order values.
const (
	GroupOrderDefault    byte = 0x00
	GroupOrderAscending  byte = 0x01
	GroupOrderDescending byte = 0x02
)

// Fetch types.
const (
	FetchStandalone       uint64 = 0x01
	FetchRelativeJoining  uint64 = 0x02
	FetchAbsoluteJoining  uint64 = 0x03
)

// Application-level error codes carried in the ErrorCode field of
// SubscribeError, FetchError, and PublishError, per the relay dispatch
// table (§4.8). Distinct from TerminationCode, which closes a session;
// these reject a single request and leave the session open.
const (
	ErrCodeTrackDoesNotExist   uint64 = 0x00
	ErrCodeInvalidRange        uint64 = 0x01
	ErrCodeNoObjects           uint64 = 0x02
	ErrCodeUnauthorized        uint64 = 0x03
	ErrCodeInternal            uint64 = 0x04
	ErrCodeDuplicateTrackAlias uint64 = 0x05
)

// ControlMessage is implemented by every typed control message. Type
// returns the wire type tag; Encode returns the serialized payload
// (without the type/length framing, which ReadControlMsg/WriteControlMsg
// apply uniformly).
type ControlMessage interface {
	Type() uint64
	Encode() []byte
}

// ReadControlMsg reads one framed control message from r: a varint type,
// a big-endian uint16 length, and exactly that many payload bytes.
func ReadControlMsg(r io.Reader) (uint64, []byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		return 0, nil, fmt.Errorf("moq: reader must implement io.ByteReader")
	}
	msgType, err := readVarIntFrom(br)
	if err != nil {
		return 0, nil, fmt.Errorf("read message type: %w", err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}
	return msgType, payload, nil
}

func readVarIntFrom(br io.ByteReader) (uint64, error) {
	first, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	length := 1 << (first >> 6)
	buf := make([]byte, length)
	buf[0] = first & 0x3f
	for i := 1; i < length; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	var v uint64
	for i := 0; i < length; i++ {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// WriteControlMsg writes a single framed control message as one atomic
// Write call so that concurrent writers need no external synchronization
// beyond serializing calls to WriteControlMsg itself.
func WriteControlMsg(w io.Writer, msgType uint64, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("moq: control message payload too large (%d bytes)", len(payload))
	}
	buf := AppendVarInt(nil, msgType)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// Send writes msg to w under its own framing.
func Send(w io.Writer, msg ControlMessage) error {
	return WriteControlMsg(w, msg.Type(), msg.Encode())
}

// Decode parses payload according to msgType, returning the typed message.
// Unknown type tags are a protocol violation, per §7.
func Decode(msgType uint64, payload []byte) (ControlMessage, error) {
	c := NewCursor(payload)
	var (
		msg ControlMessage
		err error
	)
	switch msgType {
	case MsgClientSetup:
		msg, err = parseClientSetup(c)
	case MsgServerSetup:
		msg, err = parseServerSetup(c)
	case MsgSubscribe:
		msg, err = parseSubscribe(c)
	case MsgSubscribeOK:
		msg, err = parseSubscribeOK(c)
	case MsgSubscribeError:
		msg, err = parseSubscribeError(c)
	case MsgSubscribeUpdate:
		msg, err = parseSubscribeUpdate(c)
	case MsgUnsubscribe:
		msg, err = parseUnsubscribe(c)
	case MsgSubscribeDone:
		msg, err = parseSubscribeDone(c)
	case MsgPublishNamespace:
		msg, err = parsePublishNamespace(c)
	case MsgPublishNamespaceOK:
		msg, err = parsePublishNamespaceOK(c)
	case MsgPublishNamespaceError:
		msg, err = parsePublishNamespaceError(c)
	case MsgPublishNamespaceCancel:
		msg, err = parsePublishNamespaceCancel(c)
	case MsgPublishNamespaceDone:
		msg, err = parsePublishNamespaceDone(c)
	case MsgTrackStatusRequest:
		msg, err = parseTrackStatusRequest(c)
	case MsgTrackStatus:
		msg, err = parseTrackStatus(c)
	case MsgGoAway:
		msg, err = parseGoAway(c)
	case MsgSubscribeAnnounces:
		msg, err = parseSubscribeAnnounces(c)
	case MsgSubscribeAnnouncesOK:
		msg, err = parseSubscribeAnnouncesOK(c)
	case MsgSubscribeAnnouncesError:
		msg, err = parseSubscribeAnnouncesError(c)
	case MsgUnsubscribeAnnounces:
		msg, err = parseUnsubscribeAnnounces(c)
	case MsgMaxRequestID:
		msg, err = parseMaxRequestID(c)
	case MsgFetch:
		msg, err = parseFetch(c)
	case MsgFetchCancel:
		msg, err = parseFetchCancel(c)
	case MsgFetchOK:
		msg, err = parseFetchOK(c)
	case MsgFetchError:
		msg, err = parseFetchError(c)
	case MsgRequestsBlocked:
		msg, err = parseRequestsBlocked(c)
	case MsgPublish:
		msg, err = parsePublish(c)
	case MsgPublishOK:
		msg, err = parsePublishOK(c)
	case MsgPublishError:
		msg, err = parsePublishError(c)
	case MsgPublishDone:
		msg, err = parsePublishDone(c)
	default:
		return nil, fmt.Errorf("%w: 0x%x", ErrInvalidType, msgType)
	}
	if err != nil {
		return nil, err
	}
	if c.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, c.Len())
	}
	return msg, nil
}

// ClientSetup is the first message sent by a MoQ client.
type ClientSetup struct {
	Versions     []uint64
	Path         string
	HasPath      bool
	MaxRequestID uint64
	Params       []KeyValuePair
}

func (ClientSetup) Type() uint64 { return MsgClientSetup }

func (cs ClientSetup) Encode() []byte {
	var buf []byte
	buf = AppendVarInt(buf, uint64(len(cs.Versions)))
	for _, v := range cs.Versions {
		buf = AppendVarInt(buf, v)
	}
	params := append([]KeyValuePair{}, cs.Params...)
	if cs.HasPath {
		params = append(params, KeyValuePair{Type: ParamPath, Bytes: []byte(cs.Path)})
	}
	if cs.MaxRequestID != 0 {
		params = append(params, KeyValuePair{Type: ParamMaxRequestID, Value: cs.MaxRequestID})
	}
	return AppendKeyValuePairs(buf, params)
}

func parseClientSetup(c *Cursor) (ClientSetup, error) {
	var cs ClientSetup
	n, err := c.ReadVarInt()
	if err != nil {
		return cs, &ParseError{Field: "num_versions", Err: err}
	}
	cs.Versions = make([]uint64, n)
	for i := range cs.Versions {
		v, err := c.ReadVarInt()
		if err != nil {
			return cs, &ParseError{Field: "version", Err: err}
		}
		cs.Versions[i] = v
	}
	kvs, err := c.ReadKeyValuePairs()
	if err != nil {
		return cs, &ParseError{Field: "params", Err: err}
	}
	for _, kv := range kvs {
		switch kv.Type {
		case ParamPath:
			cs.Path = string(kv.Bytes)
			cs.HasPath = true
		case ParamMaxRequestID:
			cs.MaxRequestID = kv.Value
		default:
			cs.Params = append(cs.Params, kv)
		}
	}
	return cs, nil
}

// ServerSetup is the response to a ClientSetup.
type ServerSetup struct {
	SelectedVersion uint64
	MaxRequestID    uint64
	Params          []KeyValuePair
}

func (ServerSetup) Type() uint64 { return MsgServerSetup }

func (ss ServerSetup) Encode() []byte {
	buf := AppendVarInt(nil, ss.SelectedVersion)
	params := append([]KeyValuePair{{Type: ParamMaxRequestID, Value: ss.MaxRequestID}}, ss.Params...)
	return AppendKeyValuePairs(buf, params)
}

func parseServerSetup(c *Cursor) (ServerSetup, error) {
	var ss ServerSetup
	v, err := c.ReadVarInt()
	if err != nil {
		return ss, &ParseError{Field: "selected_version", Err: err}
	}
	ss.SelectedVersion = v
	kvs, err := c.ReadKeyValuePairs()
	if err != nil {
		return ss, &ParseError{Field: "params", Err: err}
	}
	for _, kv := range kvs {
		if kv.Type == ParamMaxRequestID {
			ss.MaxRequestID = kv.Value
		} else {
			ss.Params = append(ss.Params, kv)
		}
	}
	return ss, nil
}

// Subscribe requests delivery of a track, optionally starting at a bound
// location. TrackAlias and the trailing Params list are carried in full,
// unlike a simplified subscribe that omits them.
type Subscribe struct {
	RequestID     uint64
	TrackAlias    uint64
	Namespace     Tuple
	TrackName     string
	Priority      byte
	GroupOrder    byte
	Forward       byte
	FilterType    uint64
	StartLocation Location // valid for AbsoluteStart / AbsoluteRange
	EndGroup      uint64   // valid for AbsoluteRange
	Params        []KeyValuePair
}

func (Subscribe) Type() uint64 { return MsgSubscribe }

func (s Subscribe) Encode() []byte {
	var buf []byte
	buf = AppendVarInt(buf, s.RequestID)
	buf = AppendVarInt(buf, s.TrackAlias)
	buf = AppendTuple(buf, s.Namespace)
	buf = AppendLenPrefixed(buf, []byte(s.TrackName))
	buf = append(buf, s.Priority, s.GroupOrder, s.Forward)
	buf = AppendVarInt(buf, s.FilterType)
	if s.FilterType == FilterAbsoluteStart || s.FilterType == FilterAbsoluteRange {
		buf = s.StartLocation.appendTo(buf)
	}
	if s.FilterType == FilterAbsoluteRange {
		buf = AppendVarInt(buf, s.EndGroup)
	}
	return AppendKeyValuePairs(buf, s.Params)
}

func parseSubscribe(c *Cursor) (Subscribe, error) {
	var s Subscribe
	var err error
	if s.RequestID, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	if s.TrackAlias, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "track_alias", Err: err}
	}
	if s.Namespace, err = c.ReadTuple(); err != nil {
		return s, &ParseError{Field: "namespace", Err: err}
	}
	name, err := c.ReadLenPrefixed()
	if err != nil {
		return s, &ParseError{Field: "track_name", Err: err}
	}
	s.TrackName = string(name)
	if s.Priority, err = c.ReadByte(); err != nil {
		return s, &ParseError{Field: "priority", Err: err}
	}
	if s.GroupOrder, err = c.ReadByte(); err != nil {
		return s, &ParseError{Field: "group_order", Err: err}
	}
	if s.Forward, err = c.ReadByte(); err != nil {
		return s, &ParseError{Field: "forward", Err: err}
	}
	if s.FilterType, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "filter_type", Err: err}
	}
	switch s.FilterType {
	case FilterAbsoluteStart:
		if s.StartLocation, err = c.ReadLocation(); err != nil {
			return s, &ParseError{Field: "start_location", Err: err}
		}
	case FilterAbsoluteRange:
		if s.StartLocation, err = c.ReadLocation(); err != nil {
			return s, &ParseError{Field: "start_location", Err: err}
		}
		if s.EndGroup, err = c.ReadVarInt(); err != nil {
			return s, &ParseError{Field: "end_group", Err: err}
		}
	case FilterNextGroupStart, FilterLatestObject:
		// no bound fields
	default:
		return s, &ParseError{Field: "filter_type", Err: ErrInvalidType}
	}
	if s.Params, err = c.ReadKeyValuePairs(); err != nil {
		return s, &ParseError{Field: "params", Err: err}
	}
	return s, nil
}

// SubscribeOK confirms a subscription.
type SubscribeOK struct {
	RequestID     uint64
	TrackAlias    uint64
	Expires       uint64
	GroupOrder    byte
	ContentExists bool
	Largest       Location // valid iff ContentExists
	Params        []KeyValuePair
}

func (SubscribeOK) Type() uint64 { return MsgSubscribeOK }

func (s SubscribeOK) Encode() []byte {
	buf := AppendVarInt(nil, s.RequestID)
	buf = AppendVarInt(buf, s.TrackAlias)
	buf = AppendVarInt(buf, s.Expires)
	buf = append(buf, s.GroupOrder)
	if s.ContentExists {
		buf = append(buf, 1)
		buf = s.Largest.appendTo(buf)
	} else {
		buf = append(buf, 0)
	}
	return AppendKeyValuePairs(buf, s.Params)
}

func parseSubscribeOK(c *Cursor) (SubscribeOK, error) {
	var s SubscribeOK
	var err error
	if s.RequestID, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	if s.TrackAlias, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "track_alias", Err: err}
	}
	if s.Expires, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "expires", Err: err}
	}
	if s.GroupOrder, err = c.ReadByte(); err != nil {
		return s, &ParseError{Field: "group_order", Err: err}
	}
	exists, err := c.ReadByte()
	if err != nil {
		return s, &ParseError{Field: "content_exists", Err: err}
	}
	switch exists {
	case 0:
		s.ContentExists = false
	case 1:
		s.ContentExists = true
		if s.Largest, err = c.ReadLocation(); err != nil {
			return s, &ParseError{Field: "largest_location", Err: err}
		}
	default:
		return s, &ParseError{Field: "content_exists", Err: ErrMalformed}
	}
	if s.Params, err = c.ReadKeyValuePairs(); err != nil {
		return s, &ParseError{Field: "params", Err: err}
	}
	return s, nil
}

// SubscribeError rejects a subscription.
type SubscribeError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
	TrackAlias   uint64
}

func (SubscribeError) Type() uint64 { return MsgSubscribeError }

func (s SubscribeError) Encode() []byte {
	buf := AppendVarInt(nil, s.RequestID)
	buf = AppendVarInt(buf, s.ErrorCode)
	buf = AppendLenPrefixed(buf, []byte(s.ReasonPhrase))
	buf = AppendVarInt(buf, s.TrackAlias)
	return buf
}

func parseSubscribeError(c *Cursor) (SubscribeError, error) {
	var s SubscribeError
	var err error
	if s.RequestID, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	if s.ErrorCode, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "error_code", Err: err}
	}
	if s.ReasonPhrase, err = c.ReadReasonPhrase(); err != nil {
		return s, &ParseError{Field: "reason_phrase", Err: err}
	}
	if s.TrackAlias, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "track_alias", Err: err}
	}
	return s, nil
}

// SubscribeUpdate narrows or widens an existing subscription's bounds.
type SubscribeUpdate struct {
	RequestID     uint64
	StartLocation Location
	EndGroup      uint64
	Priority      byte
	Forward       byte
	Params        []KeyValuePair
}

func (SubscribeUpdate) Type() uint64 { return MsgSubscribeUpdate }

func (s SubscribeUpdate) Encode() []byte {
	buf := AppendVarInt(nil, s.RequestID)
	buf = s.StartLocation.appendTo(buf)
	buf = AppendVarInt(buf, s.EndGroup)
	buf = append(buf, s.Priority, s.Forward)
	return AppendKeyValuePairs(buf, s.Params)
}

func parseSubscribeUpdate(c *Cursor) (SubscribeUpdate, error) {
	var s SubscribeUpdate
	var err error
	if s.RequestID, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	if s.StartLocation, err = c.ReadLocation(); err != nil {
		return s, &ParseError{Field: "start_location", Err: err}
	}
	if s.EndGroup, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "end_group", Err: err}
	}
	if s.Priority, err = c.ReadByte(); err != nil {
		return s, &ParseError{Field: "priority", Err: err}
	}
	if s.Forward, err = c.ReadByte(); err != nil {
		return s, &ParseError{Field: "forward", Err: err}
	}
	if s.Params, err = c.ReadKeyValuePairs(); err != nil {
		return s, &ParseError{Field: "params", Err: err}
	}
	return s, nil
}

// Unsubscribe cancels a subscription.
type Unsubscribe struct {
	RequestID uint64
}

func (Unsubscribe) Type() uint64     { return MsgUnsubscribe }
func (u Unsubscribe) Encode() []byte { return AppendVarInt(nil, u.RequestID) }

func parseUnsubscribe(c *Cursor) (Unsubscribe, error) {
	id, err := c.ReadVarInt()
	if err != nil {
		return Unsubscribe{}, &ParseError{Field: "request_id", Err: err}
	}
	return Unsubscribe{RequestID: id}, nil
}

// SubscribeDone notifies a subscriber that no further objects will arrive.
type SubscribeDone struct {
	RequestID    uint64
	StatusCode   uint64
	StreamCount  uint64
	ReasonPhrase string
}

func (SubscribeDone) Type() uint64 { return MsgSubscribeDone }

func (s SubscribeDone) Encode() []byte {
	buf := AppendVarInt(nil, s.RequestID)
	buf = AppendVarInt(buf, s.StatusCode)
	buf = AppendVarInt(buf, s.StreamCount)
	return AppendLenPrefixed(buf, []byte(s.ReasonPhrase))
}

func parseSubscribeDone(c *Cursor) (SubscribeDone, error) {
	var s SubscribeDone
	var err error
	if s.RequestID, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	if s.StatusCode, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "status_code", Err: err}
	}
	if s.StreamCount, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "stream_count", Err: err}
	}
	if s.ReasonPhrase, err = c.ReadReasonPhrase(); err != nil {
		return s, &ParseError{Field: "reason_phrase", Err: err}
	}
	return s, nil
}

// PublishNamespace (a.k.a. Announce) declares that the sender can serve
// tracks under Namespace.
type PublishNamespace struct {
	RequestID uint64
	Namespace Tuple
	Params    []KeyValuePair
}

func (PublishNamespace) Type() uint64 { return MsgPublishNamespace }

func (p PublishNamespace) Encode() []byte {
	buf := AppendVarInt(nil, p.RequestID)
	buf = AppendTuple(buf, p.Namespace)
	return AppendKeyValuePairs(buf, p.Params)
}

func parsePublishNamespace(c *Cursor) (PublishNamespace, error) {
	var p PublishNamespace
	var err error
	if p.RequestID, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "request_id", Err: err}
	}
	if p.Namespace, err = c.ReadTuple(); err != nil {
		return p, &ParseError{Field: "namespace", Err: err}
	}
	if p.Params, err = c.ReadKeyValuePairs(); err != nil {
		return p, &ParseError{Field: "params", Err: err}
	}
	return p, nil
}

// PublishNamespaceOK acknowledges a PublishNamespace.
type PublishNamespaceOK struct {
	RequestID uint64
}

func (PublishNamespaceOK) Type() uint64     { return MsgPublishNamespaceOK }
func (p PublishNamespaceOK) Encode() []byte { return AppendVarInt(nil, p.RequestID) }

func parsePublishNamespaceOK(c *Cursor) (PublishNamespaceOK, error) {
	id, err := c.ReadVarInt()
	if err != nil {
		return PublishNamespaceOK{}, &ParseError{Field: "request_id", Err: err}
	}
	return PublishNamespaceOK{RequestID: id}, nil
}

// PublishNamespaceError rejects a PublishNamespace.
type PublishNamespaceError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

func (PublishNamespaceError) Type() uint64 { return MsgPublishNamespaceError }

func (p PublishNamespaceError) Encode() []byte {
	buf := AppendVarInt(nil, p.RequestID)
	buf = AppendVarInt(buf, p.ErrorCode)
	return AppendLenPrefixed(buf, []byte(p.ReasonPhrase))
}

func parsePublishNamespaceError(c *Cursor) (PublishNamespaceError, error) {
	var p PublishNamespaceError
	var err error
	if p.RequestID, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "request_id", Err: err}
	}
	if p.ErrorCode, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "error_code", Err: err}
	}
	if p.ReasonPhrase, err = c.ReadReasonPhrase(); err != nil {
		return p, &ParseError{Field: "reason_phrase", Err: err}
	}
	return p, nil
}

// PublishNamespaceCancel withdraws a previously announced namespace.
type PublishNamespaceCancel struct {
	Namespace    Tuple
	ErrorCode    uint64
	ReasonPhrase string
}

func (PublishNamespaceCancel) Type() uint64 { return MsgPublishNamespaceCancel }

func (p PublishNamespaceCancel) Encode() []byte {
	buf := AppendTuple(nil, p.Namespace)
	buf = AppendVarInt(buf, p.ErrorCode)
	return AppendLenPrefixed(buf, []byte(p.ReasonPhrase))
}

func parsePublishNamespaceCancel(c *Cursor) (PublishNamespaceCancel, error) {
	var p PublishNamespaceCancel
	var err error
	if p.Namespace, err = c.ReadTuple(); err != nil {
		return p, &ParseError{Field: "namespace", Err: err}
	}
	if p.ErrorCode, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "error_code", Err: err}
	}
	if p.ReasonPhrase, err = c.ReadReasonPhrase(); err != nil {
		return p, &ParseError{Field: "reason_phrase", Err: err}
	}
	return p, nil
}

// PublishNamespaceDone signals that a previously announced namespace will
// serve no further subscriptions.
type PublishNamespaceDone struct {
	Namespace Tuple
}

func (PublishNamespaceDone) Type() uint64     { return MsgPublishNamespaceDone }
func (p PublishNamespaceDone) Encode() []byte { return AppendTuple(nil, p.Namespace) }

func parsePublishNamespaceDone(c *Cursor) (PublishNamespaceDone, error) {
	ns, err := c.ReadTuple()
	if err != nil {
		return PublishNamespaceDone{}, &ParseError{Field: "namespace", Err: err}
	}
	return PublishNamespaceDone{Namespace: ns}, nil
}

// TrackStatusRequest asks for a track's current status without subscribing.
type TrackStatusRequest struct {
	RequestID uint64
	Namespace Tuple
	TrackName string
}

func (TrackStatusRequest) Type() uint64 { return MsgTrackStatusRequest }

func (t TrackStatusRequest) Encode() []byte {
	buf := AppendVarInt(nil, t.RequestID)
	buf = AppendTuple(buf, t.Namespace)
	return AppendLenPrefixed(buf, []byte(t.TrackName))
}

func parseTrackStatusRequest(c *Cursor) (TrackStatusRequest, error) {
	var t TrackStatusRequest
	var err error
	if t.RequestID, err = c.ReadVarInt(); err != nil {
		return t, &ParseError{Field: "request_id", Err: err}
	}
	if t.Namespace, err = c.ReadTuple(); err != nil {
		return t, &ParseError{Field: "namespace", Err: err}
	}
	name, err := c.ReadLenPrefixed()
	if err != nil {
		return t, &ParseError{Field: "track_name", Err: err}
	}
	t.TrackName = string(name)
	return t, nil
}

// TrackStatus answers a TrackStatusRequest.
type TrackStatus struct {
	RequestID  uint64
	StatusCode uint64
	GroupOrder byte
	Largest    Location
}

func (TrackStatus) Type() uint64 { return MsgTrackStatus }

func (t TrackStatus) Encode() []byte {
	buf := AppendVarInt(nil, t.RequestID)
	buf = AppendVarInt(buf, t.StatusCode)
	buf = append(buf, t.GroupOrder)
	return t.Largest.appendTo(buf)
}

func parseTrackStatus(c *Cursor) (TrackStatus, error) {
	var t TrackStatus
	var err error
	if t.RequestID, err = c.ReadVarInt(); err != nil {
		return t, &ParseError{Field: "request_id", Err: err}
	}
	if t.StatusCode, err = c.ReadVarInt(); err != nil {
		return t, &ParseError{Field: "status_code", Err: err}
	}
	if t.GroupOrder, err = c.ReadByte(); err != nil {
		return t, &ParseError{Field: "group_order", Err: err}
	}
	if t.Largest, err = c.ReadLocation(); err != nil {
		return t, &ParseError{Field: "largest_location", Err: err}
	}
	return t, nil
}

// GoAway signals a graceful session shutdown, optionally redirecting the
// peer to a new session URI.
type GoAway struct {
	NewSessionURI string
}

func (GoAway) Type() uint64     { return MsgGoAway }
func (g GoAway) Encode() []byte { return AppendLenPrefixed(nil, []byte(g.NewSessionURI)) }

func parseGoAway(c *Cursor) (GoAway, error) {
	b, err := c.ReadLenPrefixed()
	if err != nil {
		return GoAway{}, &ParseError{Field: "new_session_uri", Err: err}
	}
	return GoAway{NewSessionURI: string(b)}, nil
}

// SubscribeAnnounces (a.k.a. SubscribeNamespace) subscribes to future
// PublishNamespace announcements under a namespace prefix.
type SubscribeAnnounces struct {
	RequestID       uint64
	NamespacePrefix Tuple
	Params          []KeyValuePair
}

func (SubscribeAnnounces) Type() uint64 { return MsgSubscribeAnnounces }

func (s SubscribeAnnounces) Encode() []byte {
	buf := AppendVarInt(nil, s.RequestID)
	buf = AppendTuple(buf, s.NamespacePrefix)
	return AppendKeyValuePairs(buf, s.Params)
}

func parseSubscribeAnnounces(c *Cursor) (SubscribeAnnounces, error) {
	var s SubscribeAnnounces
	var err error
	if s.RequestID, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	if s.NamespacePrefix, err = c.ReadTuple(); err != nil {
		return s, &ParseError{Field: "namespace_prefix", Err: err}
	}
	if s.Params, err = c.ReadKeyValuePairs(); err != nil {
		return s, &ParseError{Field: "params", Err: err}
	}
	return s, nil
}

// SubscribeAnnouncesOK acknowledges a SubscribeAnnounces.
type SubscribeAnnouncesOK struct {
	RequestID uint64
}

func (SubscribeAnnouncesOK) Type() uint64     { return MsgSubscribeAnnouncesOK }
func (s SubscribeAnnouncesOK) Encode() []byte { return AppendVarInt(nil, s.RequestID) }

func parseSubscribeAnnouncesOK(c *Cursor) (SubscribeAnnouncesOK, error) {
	id, err := c.ReadVarInt()
	if err != nil {
		return SubscribeAnnouncesOK{}, &ParseError{Field: "request_id", Err: err}
	}
	return SubscribeAnnouncesOK{RequestID: id}, nil
}

// SubscribeAnnouncesError rejects a SubscribeAnnounces.
type SubscribeAnnouncesError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

func (SubscribeAnnouncesError) Type() uint64 { return MsgSubscribeAnnouncesError }

func (s SubscribeAnnouncesError) Encode() []byte {
	buf := AppendVarInt(nil, s.RequestID)
	buf = AppendVarInt(buf, s.ErrorCode)
	return AppendLenPrefixed(buf, []byte(s.ReasonPhrase))
}

func parseSubscribeAnnouncesError(c *Cursor) (SubscribeAnnouncesError, error) {
	var s SubscribeAnnouncesError
	var err error
	if s.RequestID, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	if s.ErrorCode, err = c.ReadVarInt(); err != nil {
		return s, &ParseError{Field: "error_code", Err: err}
	}
	if s.ReasonPhrase, err = c.ReadReasonPhrase(); err != nil {
		return s, &ParseError{Field: "reason_phrase", Err: err}
	}
	return s, nil
}

// UnsubscribeAnnounces cancels a SubscribeAnnounces.
type UnsubscribeAnnounces struct {
	NamespacePrefix Tuple
}

func (UnsubscribeAnnounces) Type() uint64     { return MsgUnsubscribeAnnounces }
func (u UnsubscribeAnnounces) Encode() []byte { return AppendTuple(nil, u.NamespacePrefix) }

func parseUnsubscribeAnnounces(c *Cursor) (UnsubscribeAnnounces, error) {
	ns, err := c.ReadTuple()
	if err != nil {
		return UnsubscribeAnnounces{}, &ParseError{Field: "namespace_prefix", Err: err}
	}
	return UnsubscribeAnnounces{NamespacePrefix: ns}, nil
}

// MaxRequestIDMsg updates the peer's request ID quota.
type MaxRequestIDMsg struct {
	RequestID uint64
}

func (MaxRequestIDMsg) Type() uint64     { return MsgMaxRequestID }
func (m MaxRequestIDMsg) Encode() []byte { return AppendVarInt(nil, m.RequestID) }

func parseMaxRequestID(c *Cursor) (MaxRequestIDMsg, error) {
	id, err := c.ReadVarInt()
	if err != nil {
		return MaxRequestIDMsg{}, &ParseError{Field: "request_id", Err: err}
	}
	return MaxRequestIDMsg{RequestID: id}, nil
}

// RequestsBlocked tells the peer its advertised request-id quota is the
// limiting factor, so it should raise MaxRequestId before retrying.
type RequestsBlocked struct {
	MaximumRequestID uint64
}

func (RequestsBlocked) Type() uint64     { return MsgRequestsBlocked }
func (r RequestsBlocked) Encode() []byte { return AppendVarInt(nil, r.MaximumRequestID) }

func parseRequestsBlocked(c *Cursor) (RequestsBlocked, error) {
	v, err := c.ReadVarInt()
	if err != nil {
		return RequestsBlocked{}, &ParseError{Field: "maximum_request_id", Err: err}
	}
	return RequestsBlocked{MaximumRequestID: v}, nil
}

// Fetch requests a bounded range of past objects, either standalone
// (identified by namespace/name) or joining an existing subscription.
type Fetch struct {
	RequestID        uint64
	Priority         byte
	GroupOrder       byte
	FetchType        uint64
	Namespace        Tuple   // standalone only
	TrackName        string  // standalone only
	StartLocation    Location // standalone only
	EndGroup         uint64   // standalone only
	EndObject        uint64   // standalone only
	JoiningRequestID uint64   // joining only
	JoiningStart     uint64   // joining only
	Params           []KeyValuePair
}

func (Fetch) Type() uint64 { return MsgFetch }

func (f Fetch) Encode() []byte {
	buf := AppendVarInt(nil, f.RequestID)
	buf = append(buf, f.Priority, f.GroupOrder)
	buf = AppendVarInt(buf, f.FetchType)
	switch f.FetchType {
	case FetchStandalone:
		buf = AppendTuple(buf, f.Namespace)
		buf = AppendLenPrefixed(buf, []byte(f.TrackName))
		buf = f.StartLocation.appendTo(buf)
		buf = AppendVarInt(buf, f.EndGroup)
		buf = AppendVarInt(buf, f.EndObject)
	default: // relative/absolute joining
		buf = AppendVarInt(buf, f.JoiningRequestID)
		buf = AppendVarInt(buf, f.JoiningStart)
	}
	return AppendKeyValuePairs(buf, f.Params)
}

func parseFetch(c *Cursor) (Fetch, error) {
	var f Fetch
	var err error
	if f.RequestID, err = c.ReadVarInt(); err != nil {
		return f, &ParseError{Field: "request_id", Err: err}
	}
	if f.Priority, err = c.ReadByte(); err != nil {
		return f, &ParseError{Field: "priority", Err: err}
	}
	if f.GroupOrder, err = c.ReadByte(); err != nil {
		return f, &ParseError{Field: "group_order", Err: err}
	}
	if f.FetchType, err = c.ReadVarInt(); err != nil {
		return f, &ParseError{Field: "fetch_type", Err: err}
	}
	switch f.FetchType {
	case FetchStandalone:
		if f.Namespace, err = c.ReadTuple(); err != nil {
			return f, &ParseError{Field: "namespace", Err: err}
		}
		name, err := c.ReadLenPrefixed()
		if err != nil {
			return f, &ParseError{Field: "track_name", Err: err}
		}
		f.TrackName = string(name)
		if f.StartLocation, err = c.ReadLocation(); err != nil {
			return f, &ParseError{Field: "start_location", Err: err}
		}
		if f.EndGroup, err = c.ReadVarInt(); err != nil {
			return f, &ParseError{Field: "end_group", Err: err}
		}
		if f.EndObject, err = c.ReadVarInt(); err != nil {
			return f, &ParseError{Field: "end_object", Err: err}
		}
	case FetchRelativeJoining, FetchAbsoluteJoining:
		if f.JoiningRequestID, err = c.ReadVarInt(); err != nil {
			return f, &ParseError{Field: "joining_request_id", Err: err}
		}
		if f.JoiningStart, err = c.ReadVarInt(); err != nil {
			return f, &ParseError{Field: "joining_start", Err: err}
		}
	default:
		return f, &ParseError{Field: "fetch_type", Err: ErrInvalidType}
	}
	if f.Params, err = c.ReadKeyValuePairs(); err != nil {
		return f, &ParseError{Field: "params", Err: err}
	}
	return f, nil
}

// FetchCancel aborts a pending or in-progress fetch.
type FetchCancel struct {
	RequestID uint64
}

func (FetchCancel) Type() uint64     { return MsgFetchCancel }
func (f FetchCancel) Encode() []byte { return AppendVarInt(nil, f.RequestID) }

func parseFetchCancel(c *Cursor) (FetchCancel, error) {
	id, err := c.ReadVarInt()
	if err != nil {
		return FetchCancel{}, &ParseError{Field: "request_id", Err: err}
	}
	return FetchCancel{RequestID: id}, nil
}

// FetchOk reports successful completion of a fetch's data stream.
type FetchOk struct {
	RequestID   uint64
	GroupOrder  byte
	EndOfTrack  bool
	EndLocation Location
	Params      []KeyValuePair
}

func (FetchOk) Type() uint64 { return MsgFetchOK }

func (f FetchOk) Encode() []byte {
	buf := AppendVarInt(nil, f.RequestID)
	buf = append(buf, f.GroupOrder)
	if f.EndOfTrack {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = f.EndLocation.appendTo(buf)
	return AppendKeyValuePairs(buf, f.Params)
}

func parseFetchOK(c *Cursor) (FetchOk, error) {
	var f FetchOk
	var err error
	if f.RequestID, err = c.ReadVarInt(); err != nil {
		return f, &ParseError{Field: "request_id", Err: err}
	}
	if f.GroupOrder, err = c.ReadByte(); err != nil {
		return f, &ParseError{Field: "group_order", Err: err}
	}
	eot, err := c.ReadByte()
	if err != nil {
		return f, &ParseError{Field: "end_of_track", Err: err}
	}
	f.EndOfTrack = eot != 0
	if f.EndLocation, err = c.ReadLocation(); err != nil {
		return f, &ParseError{Field: "end_location", Err: err}
	}
	if f.Params, err = c.ReadKeyValuePairs(); err != nil {
		return f, &ParseError{Field: "params", Err: err}
	}
	return f, nil
}

// FetchError rejects a fetch.
type FetchError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

func (FetchError) Type() uint64 { return MsgFetchError }

func (f FetchError) Encode() []byte {
	buf := AppendVarInt(nil, f.RequestID)
	buf = AppendVarInt(buf, f.ErrorCode)
	return AppendLenPrefixed(buf, []byte(f.ReasonPhrase))
}

func parseFetchError(c *Cursor) (FetchError, error) {
	var f FetchError
	var err error
	if f.RequestID, err = c.ReadVarInt(); err != nil {
		return f, &ParseError{Field: "request_id", Err: err}
	}
	if f.ErrorCode, err = c.ReadVarInt(); err != nil {
		return f, &ParseError{Field: "error_code", Err: err}
	}
	if f.ReasonPhrase, err = c.ReadReasonPhrase(); err != nil {
		return f, &ParseError{Field: "reason_phrase", Err: err}
	}
	return f, nil
}

// Publish is the explicit-publish opt-in: a prospective publisher offers a
// track to the relay before any subscriber has asked for it.
type Publish struct {
	RequestID     uint64
	Namespace     Tuple
	TrackName     string
	TrackAlias    uint64
	GroupOrder    byte
	ContentExists bool
	Largest       Location
	Forward       byte
	Params        []KeyValuePair
}

func (Publish) Type() uint64 { return MsgPublish }

func (p Publish) Encode() []byte {
	buf := AppendVarInt(nil, p.RequestID)
	buf = AppendTuple(buf, p.Namespace)
	buf = AppendLenPrefixed(buf, []byte(p.TrackName))
	buf = AppendVarInt(buf, p.TrackAlias)
	buf = append(buf, p.GroupOrder)
	if p.ContentExists {
		buf = append(buf, 1)
		buf = p.Largest.appendTo(buf)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, p.Forward)
	return AppendKeyValuePairs(buf, p.Params)
}

func parsePublish(c *Cursor) (Publish, error) {
	var p Publish
	var err error
	if p.RequestID, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "request_id", Err: err}
	}
	if p.Namespace, err = c.ReadTuple(); err != nil {
		return p, &ParseError{Field: "namespace", Err: err}
	}
	name, err := c.ReadLenPrefixed()
	if err != nil {
		return p, &ParseError{Field: "track_name", Err: err}
	}
	p.TrackName = string(name)
	if p.TrackAlias, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "track_alias", Err: err}
	}
	if p.GroupOrder, err = c.ReadByte(); err != nil {
		return p, &ParseError{Field: "group_order", Err: err}
	}
	exists, err := c.ReadByte()
	if err != nil {
		return p, &ParseError{Field: "content_exists", Err: err}
	}
	if exists != 0 {
		p.ContentExists = true
		if p.Largest, err = c.ReadLocation(); err != nil {
			return p, &ParseError{Field: "largest_location", Err: err}
		}
	}
	if p.Forward, err = c.ReadByte(); err != nil {
		return p, &ParseError{Field: "forward", Err: err}
	}
	if p.Params, err = c.ReadKeyValuePairs(); err != nil {
		return p, &ParseError{Field: "params", Err: err}
	}
	return p, nil
}

// PublishOk accepts a Publish offer, optionally bounding what the relay
// wants forwarded.
type PublishOk struct {
	RequestID     uint64
	Forward       byte
	Priority      byte
	GroupOrder    byte
	FilterType    uint64
	StartLocation Location
	EndGroup      uint64
	Params        []KeyValuePair
}

func (PublishOk) Type() uint64 { return MsgPublishOK }

func (p PublishOk) Encode() []byte {
	buf := AppendVarInt(nil, p.RequestID)
	buf = append(buf, p.Forward, p.Priority, p.GroupOrder)
	buf = AppendVarInt(buf, p.FilterType)
	if p.FilterType == FilterAbsoluteStart || p.FilterType == FilterAbsoluteRange {
		buf = p.StartLocation.appendTo(buf)
	}
	if p.FilterType == FilterAbsoluteRange {
		buf = AppendVarInt(buf, p.EndGroup)
	}
	return AppendKeyValuePairs(buf, p.Params)
}

func parsePublishOK(c *Cursor) (PublishOk, error) {
	var p PublishOk
	var err error
	if p.RequestID, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "request_id", Err: err}
	}
	if p.Forward, err = c.ReadByte(); err != nil {
		return p, &ParseError{Field: "forward", Err: err}
	}
	if p.Priority, err = c.ReadByte(); err != nil {
		return p, &ParseError{Field: "priority", Err: err}
	}
	if p.GroupOrder, err = c.ReadByte(); err != nil {
		return p, &ParseError{Field: "group_order", Err: err}
	}
	if p.FilterType, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "filter_type", Err: err}
	}
	switch p.FilterType {
	case FilterAbsoluteStart:
		if p.StartLocation, err = c.ReadLocation(); err != nil {
			return p, &ParseError{Field: "start_location", Err: err}
		}
	case FilterAbsoluteRange:
		if p.StartLocation, err = c.ReadLocation(); err != nil {
			return p, &ParseError{Field: "start_location", Err: err}
		}
		if p.EndGroup, err = c.ReadVarInt(); err != nil {
			return p, &ParseError{Field: "end_group", Err: err}
		}
	}
	if p.Params, err = c.ReadKeyValuePairs(); err != nil {
		return p, &ParseError{Field: "params", Err: err}
	}
	return p, nil
}

// PublishError rejects a Publish offer.
type PublishError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

func (PublishError) Type() uint64 { return MsgPublishError }

func (p PublishError) Encode() []byte {
	buf := AppendVarInt(nil, p.RequestID)
	buf = AppendVarInt(buf, p.ErrorCode)
	return AppendLenPrefixed(buf, []byte(p.ReasonPhrase))
}

func parsePublishError(c *Cursor) (PublishError, error) {
	var p PublishError
	var err error
	if p.RequestID, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "request_id", Err: err}
	}
	if p.ErrorCode, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "error_code", Err: err}
	}
	if p.ReasonPhrase, err = c.ReadReasonPhrase(); err != nil {
		return p, &ParseError{Field: "reason_phrase", Err: err}
	}
	return p, nil
}

// PublishDone signals that an explicitly published track will serve no
// further subscriptions.
type PublishDone struct {
	RequestID    uint64
	StatusCode   uint64
	StreamCount  uint64
	ReasonPhrase string
}

func (PublishDone) Type() uint64 { return MsgPublishDone }

func (p PublishDone) Encode() []byte {
	buf := AppendVarInt(nil, p.RequestID)
	buf = AppendVarInt(buf, p.StatusCode)
	buf = AppendVarInt(buf, p.StreamCount)
	return AppendLenPrefixed(buf, []byte(p.ReasonPhrase))
}

func parsePublishDone(c *Cursor) (PublishDone, error) {
	var p PublishDone
	var err error
	if p.RequestID, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "request_id", Err: err}
	}
	if p.StatusCode, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "status_code", Err: err}
	}
	if p.StreamCount, err = c.ReadVarInt(); err != nil {
		return p, &ParseError{Field: "stream_count", Err: err}
	}
	if p.ReasonPhrase, err = c.ReadReasonPhrase(); err != nil {
		return p, &ParseError{Field: "reason_phrase", Err: err}
	}
	return p, nil
}
