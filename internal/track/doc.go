// Package track implements the track and subscription model (§4.6): a
// Track owns a TrackCache and fans out publisher events — a header, its
// objects, and stream-closed notices — to one long-lived subscription task
// per subscriber, each of which opens and reuses its own unidirectional
// send streams keyed by header id.
package track
