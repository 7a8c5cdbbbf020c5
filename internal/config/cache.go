package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the response cache middleware.
// When Enabled is false or no Redis client is configured, caching is
// disabled.  Methods is a comma separated list of HTTP methods to cache
// (e.g. "GET,HEAD").  TTL defines the lifetime of cache entries.
// KeyStrategy determines which parts of the request contribute to the
// cache key.  Prefix and MaxBodyBytes control namespacing and the maximum
// size of responses to cache.
type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Methods      string        `mapstructure:"methods"`
	TTL          time.Duration `mapstructure:"ttl"`
	KeyStrategy  string        `mapstructure:"key_strategy"`
	Prefix       string        `mapstructure:"prefix"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// Allows reports whether responses to method should be cached.
func (c CacheConfig) Allows(method string) bool {
	for _, p := range strings.Split(c.Methods, ",") {
		if strings.EqualFold(strings.TrimSpace(p), method) {
			return true
		}
	}
	return false
}
