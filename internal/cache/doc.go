// Package cache implements the track cache (§4.5): a bounded, per-header
// ring buffer that lets a relay answer a late subscriber's request for
// recent objects without going back to the publisher.
package cache
