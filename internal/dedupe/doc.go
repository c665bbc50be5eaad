// Package dedupe drops redelivered channel events.
//
// The channel delivers webhooks at least once. Before an event is processed
// its key is claimed; a second claim of the same key within the TTL fails,
// and the event is acknowledged without being processed again. When
// processing fails with a retryable error the key is released, so the
// channel's next redelivery goes through.
//
// Memory keeps keys in process. Redis shares them between instances.
package dedupe
