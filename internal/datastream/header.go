package datastream

import "github.com/streaming-university/moqrelay/internal/moq"

// HeaderKind distinguishes the two outer framings a data stream carries.
type HeaderKind int

const (
	KindSubgroup HeaderKind = iota
	KindFetch
)

// Header is the parsed outer framing of a data stream, read or written
// exactly once at the start of the stream's life.
type Header struct {
	Kind     HeaderKind
	Subgroup moq.SubgroupHeader
	Fetch    moq.FetchHeader
}

// PendingFetchLookup reports whether requestID names a Fetch the consumer
// issued and is still awaiting data for. RecvDataStream calls it when a
// fetch header arrives, so a stream correlated to an unrequested id is
// rejected instead of silently accepted (§4.4).
type PendingFetchLookup func(requestID uint64) bool
