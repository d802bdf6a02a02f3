// Package journal stores the rootchain event stream for consumers that poll
// it by event id.
package journal

import (
	"context"

	"github.com/compose-network/rootchain/x/rootchain"
)

// DefaultReadLimit caps a Read without an explicit limit.
const DefaultReadLimit = 1000

// Journal is an append-only event log. Append is idempotent per event id, so
// redelivered events are dropped.
type Journal interface {
	rootchain.EventSink
	// Read returns up to limit events with ids greater than after, in order.
	Read(ctx context.Context, after uint64, limit int) ([]rootchain.Event, error)
	// Last returns the highest stored event id, 0 when empty.
	Last(ctx context.Context) (uint64, error)
	Close() error
}

func readLimit(limit int) int {
	if limit <= 0 || limit > DefaultReadLimit {
		return DefaultReadLimit
	}
	return limit
}
