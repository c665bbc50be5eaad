// ABOUTME: Delivery deduplication for inbound channel events
// ABOUTME: Defines the Deduper contract shared by the memory and redis backends

package dedupe

import (
	"context"
	"time"
)

// Defaults used when configuration leaves them unset.
const (
	DefaultTTL     = 24 * time.Hour
	DefaultMaxSize = 100_000
)

// Deduper claims event keys so a redelivered event is processed once.
type Deduper interface {
	// Claim marks key and reports true when this caller is the first to see it
	// within the TTL. A false result means the event is a redelivery.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key, letting a later redelivery be processed again.
	Release(ctx context.Context, key string) error
	Close() error
}

// EventKey builds the dedupe key for a channel message.
func EventKey(channelID, messageID string) string {
	return channelID + ":" + messageID
}
