package moq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVarIntBoundaryTable checks the exact encoded length at each of the
// four varint length-class boundaries.
func TestVarIntBoundaryTable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		value      uint64
		wantLength int
	}{
		{0, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 4},
		{1073741823, 4},
		{1073741824, 8},
		{(1 << 62) - 1, 8},
	}
	for _, tc := range cases {
		got := AppendVarInt(nil, tc.value)
		require.Lenf(t, got, tc.wantLength, "value %d", tc.value)

		c := NewCursor(got)
		decoded, err := c.ReadVarInt()
		require.NoError(t, err)
		require.Equal(t, tc.value, decoded)
		require.Zero(t, c.Len())
	}
}

func TestTupleStartsWith(t *testing.T) {
	t.Parallel()
	a := Tuple{"moqtail", "demo", "video"}
	require.True(t, a.StartsWith(Tuple{"moqtail"}))
	require.True(t, a.StartsWith(Tuple{"moqtail", "demo"}))
	require.True(t, a.StartsWith(a))
	require.False(t, a.StartsWith(Tuple{"moqtail", "audio"}))
	require.False(t, a.StartsWith(Tuple{"moqtail", "demo", "video", "extra"}))
}

func TestLocationOrdering(t *testing.T) {
	t.Parallel()
	require.True(t, Location{Group: 1, Object: 0}.Less(Location{Group: 1, Object: 1}))
	require.True(t, Location{Group: 1, Object: 5}.Less(Location{Group: 2, Object: 0}))
	require.False(t, Location{Group: 2, Object: 0}.Less(Location{Group: 1, Object: 5}))
	require.True(t, Location{Group: 1, Object: 1}.LessOrEqual(Location{Group: 1, Object: 1}))
}

func TestReasonPhraseOversize(t *testing.T) {
	t.Parallel()
	big := make([]byte, MaxReasonPhrase+1)
	for i := range big {
		big[i] = 'a'
	}
	buf := AppendLenPrefixed(nil, big)
	c := NewCursor(buf)
	_, err := c.ReadReasonPhrase()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestTupleRoundTrip(t *testing.T) {
	t.Parallel()
	want := Tuple{"moqtail", "demo"}
	buf := AppendTuple(nil, want)
	c := NewCursor(buf)
	got, err := c.ReadTuple()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Zero(t, c.Len())
}

func TestKeyValuePairRoundTrip(t *testing.T) {
	t.Parallel()
	kvs := []KeyValuePair{
		{Type: 2, Value: 42},
		{Type: 3, Bytes: []byte("hello")},
	}
	buf := AppendKeyValuePairs(nil, kvs)
	c := NewCursor(buf)
	got, err := c.ReadKeyValuePairs()
	require.NoError(t, err)
	require.Equal(t, kvs, got)
}
