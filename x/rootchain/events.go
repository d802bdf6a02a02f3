package rootchain

import (
	"context"
	"time"
)

// EventType names an entry of the exposed event stream.
type EventType string

const (
	EventBlockCommitted    EventType = "block_committed"
	EventBlockFinalized    EventType = "block_finalized"
	EventRequestCreated    EventType = "request_created"
	EventRequestFinalized  EventType = "request_finalized"
	EventRequestChallenged EventType = "request_challenged"
	EventForked            EventType = "forked"
)

// Event is delivered at least once; consumers deduplicate by ID.
type Event struct {
	ID          uint64      `json:"id"`
	Type        EventType   `json:"type"`
	Fork        uint64      `json:"fork"`
	BlockNumber uint64      `json:"block_number"`
	EpochNumber uint64      `json:"epoch_number"`
	RequestKind RequestKind `json:"request_kind"`
	RequestID   uint64      `json:"request_id"`
	IsExit      bool        `json:"is_exit"`
	Challenged  bool        `json:"challenged"`
	ForkedBlock uint64      `json:"forked_block"`
	Timestamp   uint64      `json:"timestamp"` // unix milliseconds
}

// EventSink receives committed ledger events in order.
type EventSink interface {
	Append(ctx context.Context, events ...Event) error
}

func (l *Ledger) emit(ev Event, at time.Time) {
	l.nextEventID++
	ev.ID = l.nextEventID
	ev.Timestamp = uint64(at.UnixMilli())
	l.outbox = append(l.outbox, ev)
}

// flushLocked hands buffered events to the sink. Undelivered events stay
// buffered and are retried by the next call, preserving order.
func (l *Ledger) flushLocked(ctx context.Context) error {
	if l.sink == nil {
		l.outbox = l.outbox[:0]
		return nil
	}
	if len(l.outbox) == 0 {
		return nil
	}
	if err := l.sink.Append(ctx, l.outbox...); err != nil {
		l.metrics.EventDeliveryFailures.Inc()
		l.log.Warn().
			Err(err).
			Int("pending_events", len(l.outbox)).
			Msg("Failed to deliver events, will retry")
		return err
	}
	l.outbox = l.outbox[:0]
	return nil
}

// FlushEvents retries delivery of buffered events.
func (l *Ledger) FlushEvents(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

// PendingEvents returns the number of undelivered events.
func (l *Ledger) PendingEvents() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outbox)
}
