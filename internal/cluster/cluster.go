// Package cluster is an optional cross-relay namespace-announce fanout: a
// relay configured with a NATS URL publishes its own PublishNamespace
// announcements to a subject and tracks the announcements of peer relays,
// letting a relay's namespace lookup consult a federated view instead of
// only the namespaces announced on its own connections. Disabled by
// default; a relay with no NATS URL configured behaves exactly as a
// standalone relay.
package cluster

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/streaming-university/moqrelay/internal/moq"
)

// announceMessage is the payload published to Subject on every local
// namespace announcement.
type announceMessage struct {
	RelayID   string   `json:"relayId"`
	Namespace []string `json:"namespace"`
	Withdrawn bool     `json:"withdrawn,omitempty"`
}

// Fanout maintains a federated view of namespaces announced by the other
// relays in the cluster; this relay's own announcements are published but
// not recorded in the view.
type Fanout struct {
	relayID string
	subject string
	conn    *nats.Conn
	sub     *nats.Subscription
	log     *slog.Logger

	mu     sync.RWMutex
	remote map[string]map[string]bool // namespace key -> relayID -> announced
}

// Connect dials url and subscribes to subject, returning a Fanout ready to
// Announce and answer HasAnnounced. relayID distinguishes this relay's own
// announcements from a peer's in the federated view.
func Connect(url, subject, relayID string, log *slog.Logger) (*Fanout, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := nats.Connect(url, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}

	f := &Fanout{
		relayID: relayID,
		subject: subject,
		conn:    conn,
		log:     log.With("component", "cluster"),
		remote:  make(map[string]map[string]bool),
	}

	sub, err := conn.Subscribe(subject, f.handle)
	if err != nil {
		conn.Close()
		return nil, err
	}
	f.sub = sub
	return f, nil
}

func (f *Fanout) handle(msg *nats.Msg) {
	var m announceMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		f.log.Warn("malformed cluster announce message", "error", err)
		return
	}
	if m.RelayID == f.relayID {
		return
	}

	key := namespaceKey(m.Namespace)
	f.mu.Lock()
	defer f.mu.Unlock()
	relays, ok := f.remote[key]
	if !ok {
		relays = make(map[string]bool)
		f.remote[key] = relays
	}
	if m.Withdrawn {
		delete(relays, m.RelayID)
		if len(relays) == 0 {
			delete(f.remote, key)
		}
	} else {
		relays[m.RelayID] = true
	}
}

// Announce publishes that this relay now serves ns.
func (f *Fanout) Announce(ns moq.Tuple) error {
	return f.publish(ns, false)
}

// Withdraw publishes that this relay no longer serves ns.
func (f *Fanout) Withdraw(ns moq.Tuple) error {
	return f.publish(ns, true)
}

func (f *Fanout) publish(ns moq.Tuple, withdrawn bool) error {
	data, err := json.Marshal(announceMessage{RelayID: f.relayID, Namespace: ns, Withdrawn: withdrawn})
	if err != nil {
		return err
	}
	return f.conn.Publish(f.subject, data)
}

// HasAnnounced reports whether any peer relay has announced ns.
func (f *Fanout) HasAnnounced(ns moq.Tuple) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.remote[namespaceKey(ns)]
	return ok
}

// Close unsubscribes and closes the underlying NATS connection.
func (f *Fanout) Close() error {
	if f.sub != nil {
		_ = f.sub.Unsubscribe()
	}
	f.conn.Close()
	return nil
}

func namespaceKey(ns []string) string {
	key := ""
	for _, part := range ns {
		key += part + "\x00"
	}
	return key
}
