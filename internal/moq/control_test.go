package moq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControlMsgRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte("hello")
	var buf bytes.Buffer
	require.NoError(t, WriteControlMsg(&buf, MsgClientSetup, payload))

	msgType, got, err := ReadControlMsg(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgClientSetup, msgType)
	require.Equal(t, payload, got)
}

func TestControlMsgEmptyPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteControlMsg(&buf, MsgGoAway, nil))

	msgType, got, err := ReadControlMsg(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgGoAway, msgType)
	require.Empty(t, got)
}

func TestControlMsgTruncatedType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	_, _, err := ReadControlMsg(&buf)
	require.Error(t, err)
}

func TestControlMsgTruncatedLength(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write(AppendVarInt(nil, MsgSubscribe))
	buf.WriteByte(0x00) // only one of the two length bytes
	_, _, err := ReadControlMsg(&buf)
	require.Error(t, err)
}

// TestControlMsgSurplusLeftUnread verifies that for every surplus-appended
// serialization, the reader consumes exactly type+2+length bytes and
// leaves the surplus in the stream.
func TestControlMsgSurplusLeftUnread(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteControlMsg(&buf, MsgUnsubscribe, []byte{1, 2, 3}))
	buf.Write([]byte("surplus"))

	msgType, payload, err := ReadControlMsg(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgUnsubscribe, msgType)
	require.Equal(t, []byte{1, 2, 3}, payload)
	require.Equal(t, "surplus", buf.String())
}

func roundTrip(t *testing.T, msg ControlMessage) ControlMessage {
	t.Helper()
	payload := msg.Encode()
	got, err := Decode(msg.Type(), payload)
	require.NoError(t, err)
	return got
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []ControlMessage{
		ClientSetup{Versions: []uint64{DRAFT_11}, Path: "/moq", HasPath: true, MaxRequestID: 100},
		ServerSetup{SelectedVersion: DRAFT_11, MaxRequestID: 100},
		Subscribe{
			RequestID: 1, TrackAlias: 2, Namespace: Tuple{"moqtail"}, TrackName: "demo",
			Priority: 1, GroupOrder: GroupOrderAscending, Forward: 1,
			FilterType: FilterAbsoluteRange, StartLocation: Location{Group: 1, Object: 0}, EndGroup: 5,
		},
		Subscribe{RequestID: 3, Namespace: Tuple{"a", "b"}, TrackName: "x", FilterType: FilterLatestObject},
		SubscribeOK{RequestID: 1, TrackAlias: 2, Expires: 0, GroupOrder: GroupOrderAscending, ContentExists: true, Largest: Location{Group: 9, Object: 3}},
		SubscribeOK{RequestID: 1, TrackAlias: 2, ContentExists: false},
		SubscribeError{RequestID: 1, ErrorCode: 0, ReasonPhrase: "no such track", TrackAlias: 2},
		SubscribeUpdate{RequestID: 1, StartLocation: Location{Group: 2, Object: 0}, EndGroup: 9, Priority: 5, Forward: 1},
		Unsubscribe{RequestID: 7},
		SubscribeDone{RequestID: 1, StatusCode: 0, StreamCount: 3, ReasonPhrase: "done"},
		PublishNamespace{RequestID: 1, Namespace: Tuple{"moqtail"}},
		PublishNamespaceOK{RequestID: 1},
		PublishNamespaceError{RequestID: 1, ErrorCode: 1, ReasonPhrase: "denied"},
		PublishNamespaceCancel{Namespace: Tuple{"moqtail"}, ErrorCode: 0, ReasonPhrase: "bye"},
		PublishNamespaceDone{Namespace: Tuple{"moqtail"}},
		TrackStatusRequest{RequestID: 1, Namespace: Tuple{"moqtail"}, TrackName: "demo"},
		TrackStatus{RequestID: 1, StatusCode: 0, GroupOrder: GroupOrderAscending, Largest: Location{Group: 1, Object: 1}},
		GoAway{NewSessionURI: "https://example.com/moq"},
		GoAway{},
		SubscribeAnnounces{RequestID: 1, NamespacePrefix: Tuple{"moqtail"}},
		SubscribeAnnouncesOK{RequestID: 1},
		SubscribeAnnouncesError{RequestID: 1, ErrorCode: 1, ReasonPhrase: "nope"},
		UnsubscribeAnnounces{NamespacePrefix: Tuple{"moqtail"}},
		MaxRequestIDMsg{RequestID: 100},
		Fetch{
			RequestID: 1, Priority: 1, GroupOrder: GroupOrderAscending, FetchType: FetchStandalone,
			Namespace: Tuple{"moqtail"}, TrackName: "demo",
			StartLocation: Location{Group: 1, Object: 0}, EndGroup: 5, EndObject: 3,
		},
		Fetch{RequestID: 2, FetchType: FetchRelativeJoining, JoiningRequestID: 1, JoiningStart: 2},
		FetchCancel{RequestID: 1},
		FetchOk{RequestID: 1, GroupOrder: GroupOrderAscending, EndOfTrack: false, EndLocation: Location{Group: 5, Object: 3}},
		FetchError{RequestID: 1, ErrorCode: 1, ReasonPhrase: "no objects"},
		RequestsBlocked{MaximumRequestID: 100},
		Publish{RequestID: 1, Namespace: Tuple{"moqtail"}, TrackName: "demo", TrackAlias: 1, GroupOrder: GroupOrderAscending, ContentExists: true, Largest: Location{Group: 1, Object: 2}, Forward: 1},
		PublishOk{RequestID: 1, Forward: 1, Priority: 1, GroupOrder: GroupOrderAscending, FilterType: FilterLatestObject},
		PublishError{RequestID: 1, ErrorCode: 1, ReasonPhrase: "denied"},
		PublishDone{RequestID: 1, StatusCode: 0, StreamCount: 1, ReasonPhrase: "done"},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		require.Equal(t, want, got)
	}
}

func TestDecodeUnknownTypeIsProtocolViolation(t *testing.T) {
	t.Parallel()
	_, err := Decode(0xFF, nil)
	require.ErrorIs(t, err, ErrInvalidType)
}

func TestDecodeTrailingBytesIsMalformed(t *testing.T) {
	t.Parallel()
	payload := Unsubscribe{RequestID: 1}.Encode()
	payload = append(payload, 0xAA)
	_, err := Decode(MsgUnsubscribe, payload)
	require.ErrorIs(t, err, ErrMalformed)
}

// TestFramingPrefixesAreNotEnoughBytes checks that every strict prefix of
// a correctly serialized control message payload fails to parse with a
// not-enough-bytes style error, never a false-positive success.
func TestFramingPrefixesAreNotEnoughBytes(t *testing.T) {
	t.Parallel()
	msg := Subscribe{
		RequestID: 1, TrackAlias: 2, Namespace: Tuple{"moqtail", "demo"}, TrackName: "track",
		Priority: 9, GroupOrder: GroupOrderAscending, Forward: 1,
		FilterType: FilterAbsoluteRange, StartLocation: Location{Group: 1, Object: 2}, EndGroup: 9,
	}
	full := msg.Encode()
	for n := 0; n < len(full); n++ {
		_, err := Decode(MsgSubscribe, full[:n])
		require.Error(t, err, "prefix length %d unexpectedly parsed", n)
	}
}
