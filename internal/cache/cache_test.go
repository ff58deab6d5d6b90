package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streaming-university/moqrelay/internal/datastream"
	"github.com/streaming-university/moqrelay/internal/moq"
)

func TestAddHeaderEvictsOldestOnOverflow(t *testing.T) {
	t.Parallel()
	c := NewTrackCache(2)

	h1 := SubgroupHeaderID(1, 0, 0)
	h2 := SubgroupHeaderID(1, 0, 1)
	h3 := SubgroupHeaderID(1, 0, 2)

	_, had := c.AddHeader(h1, datastream.Header{})
	require.False(t, had)
	_, had = c.AddHeader(h2, datastream.Header{})
	require.False(t, had)
	require.Equal(t, 2, c.Len())

	c.AddObject(h1, moq.Object{Location: moq.Location{Group: 0, Object: 0}, Payload: []byte("a")})

	// h3 overflows capacity 2; h1 (least-recently-touched) is evicted.
	_, had = c.AddHeader(h3, datastream.Header{})
	require.False(t, had)
	require.Equal(t, 2, c.Len())

	// h1's object is now unreachable: a late add for h1 is silently dropped.
	c.AddObject(h1, moq.Object{Location: moq.Location{Group: 0, Object: 1}, Payload: []byte("b")})

	events := c.ReadObjects(moq.Location{}, moq.Location{Group: 1000, Object: 0})
	require.Len(t, events, 1)
	require.Equal(t, CacheNoObject, events[0].Kind)
}

func TestAddHeaderTouchMovesToBack(t *testing.T) {
	t.Parallel()
	c := NewTrackCache(2)
	h1 := SubgroupHeaderID(1, 0, 0)
	h2 := SubgroupHeaderID(1, 0, 1)
	h3 := SubgroupHeaderID(1, 0, 2)

	c.AddHeader(h1, datastream.Header{})
	c.AddHeader(h2, datastream.Header{})
	// Touch h1 again, moving it to the back so h2 becomes the eviction
	// candidate instead.
	prev, had := c.AddHeader(h1, datastream.Header{})
	require.True(t, had)
	require.Equal(t, datastream.Header{}, prev)

	c.AddObject(h2, moq.Object{Location: moq.Location{Group: 0, Object: 0}, Payload: []byte("x")})
	c.AddHeader(h3, datastream.Header{})

	events := c.ReadObjects(moq.Location{}, moq.Location{Group: 1000, Object: 0})
	require.Len(t, events, 1)
	require.Equal(t, CacheNoObject, events[0].Kind)
}

func TestReadObjectsAscendingOrderAcrossHeaders(t *testing.T) {
	t.Parallel()
	c := NewTrackCache(4)
	h1 := SubgroupHeaderID(1, 0, 0)
	h2 := SubgroupHeaderID(1, 1, 0)

	c.AddHeader(h1, datastream.Header{})
	c.AddHeader(h2, datastream.Header{})

	c.AddObject(h2, moq.Object{Location: moq.Location{Group: 1, Object: 0}, Payload: []byte("g1o0")})
	c.AddObject(h1, moq.Object{Location: moq.Location{Group: 0, Object: 5}, Payload: []byte("g0o5")})
	c.AddObject(h1, moq.Object{Location: moq.Location{Group: 0, Object: 2}, Payload: []byte("g0o2")})

	events := c.ReadObjects(moq.Location{Group: 0, Object: 0}, moq.Location{Group: 1, Object: 0})
	require.Len(t, events, 4)
	require.Equal(t, []byte("g0o2"), events[0].Object.Payload)
	require.Equal(t, []byte("g0o5"), events[1].Object.Payload)
	require.Equal(t, []byte("g1o0"), events[2].Object.Payload)
	require.Equal(t, CacheEndLocation, events[3].Kind)
	require.Equal(t, moq.Location{Group: 1, Object: 0}, events[3].Location)
}

func TestAddObjectOnUnknownHeaderIsDropped(t *testing.T) {
	t.Parallel()
	c := NewTrackCache(4)
	unknown := FetchHeaderID(99)
	c.AddObject(unknown, moq.Object{Location: moq.Location{Group: 0, Object: 0}, Payload: []byte("x")})

	events := c.ReadObjects(moq.Location{}, moq.Location{Group: 1000, Object: 0})
	require.Len(t, events, 1)
	require.Equal(t, CacheNoObject, events[0].Kind)
}
