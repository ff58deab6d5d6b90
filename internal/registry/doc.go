// Package registry implements the connection-id-keyed client table (§4.7):
// a Client bundles one session's control framer, announced namespaces,
// published tracks, and the request-id bookkeeping the relay needs to
// correlate a subscriber's request with the synthesized request it forwards
// to a publisher, and Registry is the reader-writer-locked map of them all.
package registry
