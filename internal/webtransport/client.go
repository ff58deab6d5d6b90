package webtransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/quic-go/quic-go/http3"
)

// Dial establishes a WebTransport session against url by performing the
// HTTP/3 Extended CONNECT upgrade, the client-side mirror of Server.Upgrade:
// the response body plays the role the request ResponseWriter plays on the
// server, exposing the same http3.HTTPStreamer/http3.Hijacker pair that
// hands back the control stream and the underlying QUIC connection.
func Dial(ctx context.Context, url string, tlsConfig *tls.Config) (*Session, error) {
	rt := &http3.RoundTripper{
		TLSClientConfig: tlsConfig,
		EnableDatagrams: true,
	}
	rt.AdditionalSettings = map[uint64]uint64{webtransportSettingsID: 1}

	req, err := http.NewRequestWithContext(ctx, http.MethodConnect, url, nil)
	if err != nil {
		return nil, fmt.Errorf("webtransport: build request: %w", err)
	}
	req.Proto = "webtransport"

	resp, err := rt.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("webtransport: connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webtransport: server rejected upgrade: %s", resp.Status)
	}

	streamer, ok := resp.Body.(http3.HTTPStreamer)
	if !ok {
		return nil, fmt.Errorf("webtransport: response body is not an http3.HTTPStreamer")
	}
	hijacker, ok := resp.Body.(http3.Hijacker)
	if !ok {
		return nil, fmt.Errorf("webtransport: response body is not an http3.Hijacker")
	}

	return newSession(ctx, hijacker.Connection(), streamer.HTTPStream()), nil
}
