// Package relay implements the session and message-handler component
// (§4.8): accepting a WebTransport session, negotiating setup, and running
// the control-stream dispatch loop that matches subscribers to publishers,
// rewrites request ids across the two sides, and streams cached or
// forwarded objects to subscriber connections.
package relay
