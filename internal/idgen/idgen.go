// Package idgen generates opaque prefixed identifiers for webhook events
// and HTTP requests. Incident IDs are UUIDs and do not come from here.
package idgen

import (
	"crypto/rand"
	"strings"
)

const (
	EventPrefix   = "evt_"
	RequestPrefix = "req_"
)

// WithPrefix returns prefix followed by 26 lowercase base32 characters
// (128 bits of randomness).
func WithPrefix(prefix string) string {
	return prefix + strings.ToLower(rand.Text())
}

// Event returns a new webhook event ID.
func Event() string { return WithPrefix(EventPrefix) }

// Request returns a new request ID.
func Request() string { return WithPrefix(RequestPrefix) }
