package engine

import (
	"time"

	"erps-platform/server/internal/broker"
)

// dedupEntry remembers one processed request and the response it produced.
type dedupEntry struct {
	at    time.Time
	reply *broker.Message
}

// dedup suppresses duplicate requests inside a sliding window. Retried
// publishes replay the original response instead of re-running the handler,
// so a create retry returns the same room id. Only the engine goroutine
// touches it; no locking.
type dedup struct {
	window  time.Duration
	entries map[string]*dedupEntry
}

func newDedup(window time.Duration) *dedup {
	return &dedup{
		window:  window,
		entries: make(map[string]*dedupEntry),
	}
}

func dedupKey(userID, verb, requestID string) string {
	return userID + "|" + verb + "|" + requestID
}

// check reports whether the request was already handled inside the window.
// Requests without a request id are never deduplicated.
func (d *dedup) check(userID, verb, requestID string, now time.Time) (*broker.Message, bool) {
	if requestID == "" {
		return nil, false
	}
	e, ok := d.entries[dedupKey(userID, verb, requestID)]
	if !ok {
		return nil, false
	}
	if now.Sub(e.at) > d.window {
		delete(d.entries, dedupKey(userID, verb, requestID))
		return nil, false
	}
	return e.reply, true
}

// mark records a handled request. The reply may be nil for events that
// produce no direct response.
func (d *dedup) mark(userID, verb, requestID string, reply *broker.Message, now time.Time) {
	if requestID == "" {
		return
	}
	d.entries[dedupKey(userID, verb, requestID)] = &dedupEntry{at: now, reply: reply}
}

// sweep drops entries older than the window.
func (d *dedup) sweep(now time.Time) {
	for k, e := range d.entries {
		if now.Sub(e.at) > d.window {
			delete(d.entries, k)
		}
	}
}

func (d *dedup) size() int {
	return len(d.entries)
}
