// Package datastream implements the data-stream framer (§4.4): writing and
// incrementally reading the subgroup and fetch object streams that carry
// media data, as distinct from the control stream handled by package
// control. Unlike control messages, data-stream frames carry no outer
// length prefix, so a reader can't buffer-then-parse a whole message; it
// must retry a Cursor-based parse as more bytes arrive off the wire.
package datastream
