package webtransport

import (
	"errors"
	"net/http"

	"github.com/quic-go/quic-go/http3"
)

// SessionErrorCode is sent to the peer when a WebTransport session is
// closed, surfaced via CloseWithError.
type SessionErrorCode uint32

// StreamErrorCode is sent to the peer on stream reset, surfaced via
// CancelRead/CancelWrite.
type StreamErrorCode uint32

const webtransportSettingsID = 0x2b603742

// Server upgrades HTTP/3 requests carrying an Extended CONNECT to
// "webtransport" into WebTransport sessions, multiplexing QUIC streams and
// datagrams over the underlying HTTP/3 connection.
type Server struct {
	H3 http3.Server

	// CheckOrigin validates the Origin header of an upgrade request. A nil
	// CheckOrigin rejects every request.
	CheckOrigin func(r *http.Request) bool

	initialized bool
}

func (s *Server) init() {
	if s.initialized {
		return
	}
	s.H3.EnableDatagrams = true
	if s.H3.AdditionalSettings == nil {
		s.H3.AdditionalSettings = map[uint64]uint64{}
	}
	s.H3.AdditionalSettings[webtransportSettingsID] = 1
	s.initialized = true
}

// ListenAndServe starts the HTTP/3 server. It blocks until the server is
// closed or a fatal error occurs.
func (s *Server) ListenAndServe() error {
	s.init()
	return s.H3.ListenAndServe()
}

// Close immediately terminates the server and any open sessions.
func (s *Server) Close() error {
	return s.H3.Close()
}

// Upgrade validates an incoming request as a WebTransport Extended CONNECT,
// hijacks the underlying HTTP/3 stream and QUIC connection, and returns the
// resulting Session. The caller's handler must not write to w afterward.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (*Session, error) {
	s.init()

	if r.Method != http.MethodConnect || r.Proto != "webtransport" {
		http.Error(w, "expected a WebTransport Extended CONNECT request", http.StatusBadRequest)
		return nil, errors.New("webtransport: not an Extended CONNECT request")
	}
	if s.CheckOrigin == nil || !s.CheckOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return nil, errors.New("webtransport: origin rejected")
	}

	streamer, ok := w.(http3.HTTPStreamer)
	if !ok {
		http.Error(w, "webtransport upgrade unsupported", http.StatusInternalServerError)
		return nil, errors.New("webtransport: response writer is not an http3.HTTPStreamer")
	}
	hijacker, ok := w.(http3.Hijacker)
	if !ok {
		http.Error(w, "webtransport upgrade unsupported", http.StatusInternalServerError)
		return nil, errors.New("webtransport: response writer is not an http3.Hijacker")
	}

	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	return newSession(r.Context(), hijacker.Connection(), streamer.HTTPStream()), nil
}
