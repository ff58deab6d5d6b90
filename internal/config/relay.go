package config

import (
	"golang.org/x/time/rate"

	"github.com/streaming-university/moqrelay/internal/relay"
)

// RelayConfig projects the relevant subset of Config into relay.Config.
func (c Config) RelayConfig() relay.Config {
	return relay.Config{
		MaxRequestID:  c.MaxRequestID,
		CacheCapacity: c.CacheSize,
		SetupDeadline: c.SetupDeadline,
		RequestRate:   rate.Limit(c.RequestRate),
		RequestBurst:  c.RequestBurst,
	}
}
