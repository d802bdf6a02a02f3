package rootchain

import (
	"time"
)

func epochCategory(ep *Epoch) string {
	switch {
	case ep.UserActivated:
		return "ure"
	case ep.IsRequest && ep.Rebase:
		return "ore_rebase"
	case ep.IsRequest && ep.IsEmpty:
		return "ore_empty"
	case ep.IsRequest:
		return "ore"
	case ep.Rebase:
		return "nre_rebase"
	default:
		return "nre"
	}
}

// addEpoch appends ep as the open epoch of fs.
func (l *Ledger) addEpoch(fs *forkState, ep *Epoch) {
	fs.epochs = append(fs.epochs, ep)
	fs.info.LastEpoch = ep.Number
	l.metrics.EpochsOpened.WithLabelValues(epochCategory(ep)).Inc()

	l.log.Debug().
		Uint64("fork_id", fs.info.ID).
		Uint64("epoch", ep.Number).
		Str("category", ep.Label()).
		Uint64("start_block", ep.StartBlockNumber).
		Uint64("end_block", ep.EndBlockNumber).
		Bool("empty", ep.IsEmpty).
		Msg("Opened epoch")
}

func (l *Ledger) openNonRequestEpoch(fs *forkState, number, start uint64, now time.Time) {
	l.addEpoch(fs, &Epoch{
		Number:           number,
		StartBlockNumber: start,
		EndBlockNumber:   start + l.cfg.NRELength - 1,
		OpenedAt:         now,
	})
}

// openRequestEpoch opens an ORE spanning every sealed ERO request block not
// yet placed in fs. The open request block is sealed first when it holds
// requests. With nothing to place the ORE is empty: it repeats the request
// fields of the last non-empty ORE and closes at once.
func (l *Ledger) openRequestEpoch(fs *forkState, number, start uint64, now time.Time) {
	q := l.queues[KindERO]
	if q.open().NumEnter > 0 {
		l.sealRequestBlock(q, "epoch")
	}

	first := fs.info.NextRequestBlock
	count := q.sealedCount() - first
	if count == 0 {
		ep := &Epoch{
			Number:              number,
			RequestStart:        fs.lastORE.requestStart,
			RequestEnd:          fs.lastORE.requestEnd,
			FirstRequestBlockID: fs.lastORE.firstRequestBlockID,
			StartBlockNumber:    start,
			EndBlockNumber:      start - 1,
			IsEmpty:             true,
			Initialized:         true,
			IsRequest:           true,
			OpenedAt:            now,
		}
		l.addEpoch(fs, ep)
		l.closeEpoch(fs, ep)
		l.openNext(fs, now)
		return
	}

	ep := &Epoch{
		Number:              number,
		StartBlockNumber:    start,
		EndBlockNumber:      start + count - 1,
		FirstRequestBlockID: first,
		IsRequest:           true,
		OpenedAt:            now,
	}
	l.assignRequestBlocks(fs, ep, first, first+count-1)
	fs.info.NextRequestBlock = first + count
	l.addEpoch(fs, ep)
}

// assignRequestBlocks binds request blocks [from, to] to the request epoch ep.
func (l *Ledger) assignRequestBlocks(fs *forkState, ep *Epoch, from, to uint64) {
	q := l.queues[KindERO]
	for id := from; id <= to; id++ {
		rb := q.blocks[id]
		rb.ForkID = fs.info.ID
		rb.EpochNumber = ep.Number
	}
	ep.RequestStart = q.blocks[from].RequestStart
	ep.RequestEnd = q.blocks[to].RequestEnd

	fs.lastORE = oreSnapshot{
		requestStart:        ep.RequestStart,
		requestEnd:          ep.RequestEnd,
		firstRequestBlockID: ep.FirstRequestBlockID,
	}
	if fs.info.FirstEnterEpoch == 0 {
		fs.info.FirstEnterEpoch = ep.Number
	}
	fs.info.LastEnterEpoch = ep.Number
	fs.info.LastRequestEpoch = ep.Number
}

// openRebaseEpoch opens the next ORE′ or NRE′ of a fresh fork.
func (l *Ledger) openRebaseEpoch(fs *forkState, step rebaseStep, number, start uint64, now time.Time) {
	ep := &Epoch{
		Number:           number,
		StartBlockNumber: start,
		EndBlockNumber:   start + uint64(len(step.refs)) - 1,
		Rebase:           true,
		IsRequest:        step.request,
		OpenedAt:         now,
	}
	if step.request {
		ep.FirstRequestBlockID = step.rbStart
		q := l.queues[KindERO]
		for id := step.rbStart; id <= step.rbEnd; id++ {
			q.blocks[id].Submitted = false
		}
		l.assignRequestBlocks(fs, ep, step.rbStart, step.rbEnd)
		fs.info.NextRequestBlock = step.rbEnd + 1
	}
	fs.refs[number] = step.refs
	l.addEpoch(fs, ep)
}

// closeEpoch freezes the block range of ep.
func (l *Ledger) closeEpoch(fs *forkState, ep *Epoch) {
	ep.Closed = true
	if ep.Rebase && len(fs.pending) == 0 {
		fs.info.Rebased = true
		l.log.Info().
			Uint64("fork_id", fs.info.ID).
			Uint64("epoch", ep.Number).
			Msg("Fork rebase completed")
	}
}

// openNext opens the epoch following the last, closed one: pending rebase
// epochs first, then the NRE/ORE alternation.
func (l *Ledger) openNext(fs *forkState, now time.Time) {
	last := fs.openEpoch()
	number := last.Number + 1
	start := fs.info.LastBlock + 1

	if len(fs.pending) > 0 {
		step := fs.pending[0]
		fs.pending = fs.pending[1:]
		l.openRebaseEpoch(fs, step, number, start, now)
		return
	}
	if last.IsRequest {
		l.openNonRequestEpoch(fs, number, start, now)
		return
	}
	l.openRequestEpoch(fs, number, start, now)
}

// advanceFinalizedEpochs moves LastFinalizedEpoch over closed epochs whose
// blocks are all finalized.
func (l *Ledger) advanceFinalizedEpochs(fs *forkState) {
	for e := fs.info.LastFinalizedEpoch + 1; e <= fs.info.LastEpoch; e++ {
		ep := fs.ownEpoch(e)
		if ep == nil || !ep.Closed {
			return
		}
		if !ep.IsEmpty && ep.EndBlockNumber > fs.info.LastFinalizedBlock {
			return
		}
		fs.info.LastFinalizedEpoch = e
	}
}

// epochOf returns the epoch holding or about to hold block n in fs.
func (l *Ledger) epochOf(fs *forkState, n uint64) *Epoch {
	if n <= fs.info.LastBlock {
		_, blk := l.blockAt(fs, n)
		if blk == nil {
			return nil
		}
		return l.epochAt(fs, blk.EpochNumber)
	}
	if ep := fs.openEpoch(); !ep.Closed && ep.Contains(n) {
		return ep
	}
	return nil
}

// Classify reports whether block n of fork forkID belongs to a request epoch
// and whether that epoch is empty. n may be a committed block or a block of
// the open epoch.
func (l *Ledger) Classify(forkID, n uint64) (isRequest, isEmpty bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fs, err := l.fork(forkID)
	if err != nil {
		return false, false, err
	}
	ep := l.epochOf(fs, n)
	if ep == nil {
		return false, false, notFoundErr(ErrUnknownBlock, "block %d is outside the known epochs of fork %d", n, forkID)
	}
	return ep.IsRequest, ep.IsEmpty, nil
}

// OpenEpoch returns a snapshot of the epoch accepting the next block of the
// current fork.
func (l *Ledger) OpenEpoch() Epoch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.currentFork().openEpoch()
}
