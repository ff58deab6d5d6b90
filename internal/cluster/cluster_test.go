package cluster

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/streaming-university/moqrelay/internal/moq"
)

func newTestFanout() *Fanout {
	return &Fanout{
		relayID: "relay-a",
		subject: "moqrelay.announce",
		log:     slog.Default(),
		remote:  make(map[string]map[string]bool),
	}
}

func publishMsg(t *testing.T, f *Fanout, m announceMessage) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	f.handle(&nats.Msg{Data: data})
}

func TestHandleRecordsPeerAnnouncement(t *testing.T) {
	f := newTestFanout()
	require.False(t, f.HasAnnounced(moq.Tuple{"live"}))

	publishMsg(t, f, announceMessage{RelayID: "relay-b", Namespace: []string{"live"}})
	require.True(t, f.HasAnnounced(moq.Tuple{"live"}))
}

func TestHandleIgnoresOwnAnnouncement(t *testing.T) {
	f := newTestFanout()
	publishMsg(t, f, announceMessage{RelayID: "relay-a", Namespace: []string{"live"}})
	require.False(t, f.HasAnnounced(moq.Tuple{"live"}), "a relay must not treat its own echoed announcement as a peer's")
}

func TestHandleWithdrawRemovesLastPeer(t *testing.T) {
	f := newTestFanout()
	publishMsg(t, f, announceMessage{RelayID: "relay-b", Namespace: []string{"live"}})
	require.True(t, f.HasAnnounced(moq.Tuple{"live"}))

	publishMsg(t, f, announceMessage{RelayID: "relay-b", Namespace: []string{"live"}, Withdrawn: true})
	require.False(t, f.HasAnnounced(moq.Tuple{"live"}))
}

func TestHandleIgnoresMalformedPayload(t *testing.T) {
	f := newTestFanout()
	f.handle(&nats.Msg{Data: []byte("not json")})
	require.False(t, f.HasAnnounced(moq.Tuple{"live"}))
}
