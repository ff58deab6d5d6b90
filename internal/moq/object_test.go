package moq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSubgroupDeltaCoding checks the exact example from SPEC_FULL.md §8:
// absolute ids [i0, i1, ...] encode as deltas [i0, i1-i0-1, i2-i1-1, ...]
// and decode back to the original sequence.
func TestSubgroupDeltaCoding(t *testing.T) {
	t.Parallel()
	ids := []uint64{5, 9, 10, 20}
	wantDeltas := []uint64{5, 3, 0, 9}

	var previous uint64
	var decoded []uint64
	for i, id := range ids {
		delta := NextSubgroupObjectIDDelta(id, previous, i == 0)
		require.Equal(t, wantDeltas[i], delta)

		buf := EncodeSubgroupObject(delta, false, nil, StatusNormal, []byte("x"))
		c := NewCursor(buf)
		gotID, _, err := ParseSubgroupObject(c, false, previous, i == 0)
		require.NoError(t, err)
		decoded = append(decoded, gotID)
		previous = id
	}
	require.Equal(t, ids, decoded)
}

func TestSubgroupHeaderTypeTable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		mode   SubgroupIDMode
		hasExt bool
		want   uint64
	}{
		{SubgroupFixedZero, false, 0x08},
		{SubgroupFixedZero, true, 0x09},
		{SubgroupFirstObject, false, 0x0a},
		{SubgroupFirstObject, true, 0x0b},
		{SubgroupExplicit, false, 0x0c},
		{SubgroupExplicit, true, 0x0d},
	}
	for _, tc := range cases {
		h := SubgroupHeader{TrackAlias: 1, GroupID: 2, Mode: tc.mode, SubgroupID: 7, Priority: 1, HasExt: tc.hasExt}
		encoded := h.Encode()
		c := NewCursor(encoded)
		typ, err := c.ReadVarInt()
		require.NoError(t, err)
		require.Equal(t, tc.want, typ)

		got, err := ParseSubgroupHeader(c, typ)
		require.NoError(t, err)
		require.Equal(t, tc.mode, got.Mode)
		require.Equal(t, tc.hasExt, got.HasExt)
		require.Equal(t, h.TrackAlias, got.TrackAlias)
		require.Equal(t, h.GroupID, got.GroupID)
		if tc.mode == SubgroupExplicit {
			require.Equal(t, h.SubgroupID, got.SubgroupID)
		}
	}
}

func TestFetchHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	h := FetchHeader{RequestID: 42}
	encoded := h.Encode()
	c := NewCursor(encoded)
	typ, err := c.ReadVarInt()
	require.NoError(t, err)
	require.Equal(t, TypeFetchHeader, typ)
	got, err := ParseFetchHeader(c)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestFetchObjectRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte("payload xxxxxxxxx")
	encoded := EncodeFetchObject(Location{Group: 5, Object: 3}, 1, true,
		[]KeyValuePair{{Type: 2, Value: 99}}, StatusNormal, payload)
	c := NewCursor(encoded)
	got, err := ParseFetchObject(c)
	require.NoError(t, err)
	require.Equal(t, Location{Group: 5, Object: 3}, got.Location)
	require.Equal(t, payload, got.Payload)
	require.Equal(t, StatusNormal, got.Status)
	require.Zero(t, c.Len())
}

func TestObjectStatusWithoutPayload(t *testing.T) {
	t.Parallel()
	encoded := EncodeSubgroupObject(0, false, nil, StatusEndOfGroup, nil)
	c := NewCursor(encoded)
	_, obj, err := ParseSubgroupObject(c, false, 0, true)
	require.NoError(t, err)
	require.Equal(t, StatusEndOfGroup, obj.Status)
	require.Nil(t, obj.Payload)
}

func TestDatagramObjectRoundTrip(t *testing.T) {
	t.Parallel()
	d := DatagramObject{
		TrackAlias: 1,
		Location:   Location{Group: 1, Object: 0},
		Priority:   1,
		Object: Object{
			Status:        StatusNormal,
			Payload:       []byte("payload"),
			HasExtensions: true,
			Extensions:    []KeyValuePair{{Type: 2, Value: 7}},
		},
	}
	encoded := d.Encode()
	c := NewCursor(encoded)
	typ, err := c.ReadVarInt()
	require.NoError(t, err)
	require.Equal(t, TypeDatagramObjectExt, typ)
	got, err := ParseDatagramObject(c, typ)
	require.NoError(t, err)
	require.Equal(t, d.TrackAlias, got.TrackAlias)
	require.Equal(t, d.Location, got.Location)
	require.Equal(t, d.Object.Payload, got.Object.Payload)
	require.Equal(t, d.Object.Extensions, got.Object.Extensions)
}

// TestHappyPathScenario uses the subgroup header of SPEC_FULL.md §8
// scenario 1 followed by objects with ids 0..9; its payloads are runs of
// "x" growing by one byte, not the scenario's "payload "-prefixed strings.
func TestHappyPathScenario(t *testing.T) {
	t.Parallel()
	header := SubgroupHeader{TrackAlias: 1, GroupID: 1, Mode: SubgroupExplicit, SubgroupID: 1, Priority: 1, HasExt: true}
	headerBytes := header.Encode()

	c := NewCursor(headerBytes)
	typ, err := c.ReadVarInt()
	require.NoError(t, err)
	gotHeader, err := ParseSubgroupHeader(c, typ)
	require.NoError(t, err)
	require.Equal(t, header, gotHeader)

	var previous uint64
	for i := uint64(0); i < 10; i++ {
		payload := bytes.Repeat([]byte("x"), int(i)+1)
		delta := NextSubgroupObjectIDDelta(i, previous, i == 0)
		encoded := EncodeSubgroupObject(delta, true, nil, StatusNormal, payload)
		oc := NewCursor(encoded)
		gotID, obj, err := ParseSubgroupObject(oc, true, previous, i == 0)
		require.NoError(t, err)
		require.Equal(t, i, gotID)
		require.Equal(t, payload, obj.Payload)
		previous = i
	}
}
