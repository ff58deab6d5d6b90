// Package control implements the control-stream framer (§4.3): a
// send/next-message loop over a bidirectional WebTransport stream, with a
// partial-message deadline that turns a stalled handshake or request into
// a ControlMessageTimeout rather than a hang.
package control
