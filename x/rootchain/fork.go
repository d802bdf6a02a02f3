package rootchain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PrepareUserActivatedExit posts the preparation bond that opens a
// user-activated exit. Only one preparation may be pending, and none while
// the current fork's own user-activated block is unfinalized.
func (l *Ledger) PrepareUserActivatedExit(ctx context.Context, from common.Address, bond *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.prepare(from, bond); err != nil {
		l.metrics.RecordRejection(err, "prepare_user_exit")
		return err
	}
	_ = l.flushLocked(ctx)
	return nil
}

func (l *Ledger) prepare(from common.Address, bond *uint256.Int) error {
	if err := l.checkBond(bond, l.bonds.URBPrepare, "urb preparation"); err != nil {
		return err
	}
	if l.prep != nil {
		return validationErr(ErrAlreadyPrepared, "prepared by %s", l.prep.from.Hex())
	}
	cur := l.currentFork().info
	if cur.ID != 0 && cur.LastFinalizedBlock < cur.ForkedBlock {
		return validationErr(ErrForkNotSettled, "fork %d user-activated block %d", cur.ID, cur.ForkedBlock).
			WithContext("last_finalized_block", cur.LastFinalizedBlock)
	}

	l.prep = &preparation{from: from, at: l.clock.Now()}
	l.log.Info().
		Str("from", from.Hex()).
		Uint64("fork_id", cur.ID).
		Uint64("last_finalized_block", cur.LastFinalizedBlock).
		Msg("User-activated exit prepared")
	return nil
}

// MakeERU files a user-activated exit request. It returns the ERU id.
func (l *Ledger) MakeERU(
	ctx context.Context,
	from, assetAddr common.Address,
	key common.Hash,
	value, bond *uint256.Int,
) (uint64, error) {
	return l.startRequest(ctx, KindERU, true, from, assetAddr, key, value, bond, "make_eru")
}

// SubmitUserActivatedBlock commits a URB holding the pending ERUs and forks
// the chain at the current fork's last finalized block. It returns the new
// fork id.
func (l *Ledger) SubmitUserActivatedBlock(
	ctx context.Context,
	from common.Address,
	roots Roots,
	bond *uint256.Int,
) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.submitUserActivatedBlock(from, roots, bond)
	if err != nil {
		l.metrics.RecordRejection(err, "submit_urb")
		return 0, err
	}
	_ = l.flushLocked(ctx)
	return id, nil
}

func (l *Ledger) submitUserActivatedBlock(from common.Address, roots Roots, bond *uint256.Int) (uint64, error) {
	if err := l.checkBond(bond, l.bonds.URB, KindURB.String()); err != nil {
		return 0, err
	}
	if l.prep == nil {
		return 0, validationErr(ErrNotPrepared, "no user-activated exit prepared")
	}
	if l.prep.from != from {
		return 0, validationErr(ErrNotPrepared, "prepared by %s, submitted by %s", l.prep.from.Hex(), from.Hex())
	}
	eru := l.queues[KindERU]
	if open := eru.open(); open.NumEnter == 0 && eru.unplaced == open.ID {
		return 0, validationErr(ErrNoUserRequests, "request block %d is empty", open.ID)
	}

	now := l.clock.Now()
	parent := l.currentFork()
	forked := parent.info.LastFinalizedBlock + 1
	_, settled := l.blockAt(parent, parent.info.LastFinalizedBlock)
	firstEpoch := settled.EpochNumber
	if parent.info.LastFinalizedEpoch > firstEpoch {
		firstEpoch = parent.info.LastFinalizedEpoch
	}
	firstEpoch++

	steps := l.rebasePlan(parent, forked)
	fs := newForkState(Fork{
		ID:                 uint64(len(l.forks)),
		Parent:             parent.info.ID,
		ForkedBlock:        forked,
		FirstEpoch:         firstEpoch,
		FirstBlock:         forked,
		LastFinalizedBlock: forked - 1,
		LastFinalizedEpoch: firstEpoch - 1,
		CreatedAt:          now,
		NextBlockToRebase:  forked,
		Rebased:            len(steps) == 0,
		NextRequestBlock:   parent.info.NextRequestBlock,
		LastRequestEpoch:   firstEpoch,
	})
	fs.pending = steps
	fs.lastORE = parent.lastORE
	if len(steps) > 0 && steps[0].request {
		fs.info.NextRequestBlock = steps[0].rbStart
	}
	fs.info.FirstEnterEpoch, fs.info.LastEnterEpoch = l.enterEpochsBefore(parent, firstEpoch)

	// The URB carries every ERU block since the preparation: blocks sealed
	// when they filled up plus the open one, if it holds requests.
	firstRB, lastRB := eru.unplaced, eru.open().ID
	if eru.open().NumEnter > 0 {
		l.sealRequestBlock(eru, "user_block")
	} else {
		lastRB--
	}
	for id := firstRB; id <= lastRB; id++ {
		rb := eru.blocks[id]
		rb.ForkID = fs.info.ID
		rb.EpochNumber = firstEpoch
		rb.Submitted = true
		fs.placements[KindERU][id] = forked
	}
	eru.unplaced = lastRB + 1
	reqStart, numReqs := eru.span(firstRB, lastRB)

	ure := &Epoch{
		Number:              firstEpoch,
		RequestStart:        reqStart,
		RequestEnd:          reqStart + numReqs - 1,
		StartBlockNumber:    forked,
		EndBlockNumber:      forked,
		FirstRequestBlockID: firstRB,
		Initialized:         true,
		IsRequest:           true,
		UserActivated:       true,
		OpenedAt:            now,
	}
	fs.blocks = append(fs.blocks, &PlasmaBlock{
		Number:             forked,
		Kind:               KindURB,
		EpochNumber:        firstEpoch,
		RequestBlockID:     firstRB,
		LastRequestBlockID: lastRB,
		CommittedAt:        now,
		Submitter:          from,
		StateRoot:          roots.StateRoot,
		TxRoot:             roots.TxRoot,
		ReceiptsRoot:       roots.ReceiptsRoot,
		IsRequest:          true,
		UserActivated:      true,
	})
	fs.info.LastBlock = forked

	parent.info.Orphaned = true
	l.forks = append(l.forks, fs)
	l.current = fs.info.ID
	l.prep = nil
	l.addEpoch(fs, ure)

	l.emit(Event{
		Type:        EventForked,
		Fork:        fs.info.ID,
		ForkedBlock: forked,
	}, now)
	l.emit(Event{
		Type:        EventBlockCommitted,
		Fork:        fs.info.ID,
		BlockNumber: forked,
		EpochNumber: firstEpoch,
	}, now)
	l.metrics.Forks.Inc()
	l.metrics.BlocksSubmitted.WithLabelValues(KindURB.String()).Inc()

	l.log.Warn().
		Uint64("fork_id", fs.info.ID).
		Uint64("parent_fork", parent.info.ID).
		Uint64("forked_block", forked).
		Uint64("first_epoch", firstEpoch).
		Uint64("orphaned_blocks", parent.info.LastBlock-parent.info.LastFinalizedBlock).
		Int("rebase_epochs", len(steps)).
		Str("submitter", from.Hex()).
		Msg("User-activated block forked the chain")

	l.closeEpoch(fs, ure)
	l.openNext(fs, now)
	l.updateForkGauges()
	return fs.info.ID, nil
}

// rebasePlan lists the rebase epochs a fork of p at forked must replay: one
// ORE′ covering every ERO request block whose ORB in p is not settled, and
// one NRE′ covering p's unsettled NRBs.
func (l *Ledger) rebasePlan(p *forkState, forked uint64) []rebaseStep {
	var (
		steps   []rebaseStep
		rbStart uint64
		found   bool
	)
	for _, ep := range p.epochs {
		if !ep.IsRequest || ep.UserActivated || ep.IsEmpty || ep.EndBlockNumber < forked {
			continue
		}
		from := ep.FirstRequestBlockID
		if ep.StartBlockNumber < forked {
			from += forked - ep.StartBlockNumber
		}
		if !found || from < rbStart {
			rbStart, found = from, true
		}
	}
	if found && rbStart < p.info.NextRequestBlock {
		rbEnd := p.info.NextRequestBlock - 1
		refs := make([]BlockRef, 0, rbEnd-rbStart+1)
		for id := rbStart; id <= rbEnd; id++ {
			ref := BlockRef{Fork: p.info.ID}
			if n, ok := p.placements[KindERO][id]; ok && n >= forked {
				ref.Number, ref.Valid = n, true
			}
			refs = append(refs, ref)
		}
		steps = append(steps, rebaseStep{request: true, rbStart: rbStart, rbEnd: rbEnd, refs: refs})
	}

	var nrbs []BlockRef
	for _, blk := range p.blocks {
		if blk.Number >= forked && blk.Kind == KindNRB {
			nrbs = append(nrbs, BlockRef{Fork: p.info.ID, Number: blk.Number, Valid: true})
		}
	}
	if len(nrbs) > 0 {
		steps = append(steps, rebaseStep{refs: nrbs})
	}
	return steps
}

// enterEpochsBefore returns the first and last non-empty ERO epochs of p
// numbered below limit.
func (l *Ledger) enterEpochsBefore(p *forkState, limit uint64) (first, last uint64) {
	if p.info.FirstEnterEpoch == 0 || p.info.FirstEnterEpoch >= limit {
		return 0, 0
	}
	for e := limit - 1; e >= p.info.FirstEnterEpoch; e-- {
		ep := l.epochAt(p, e)
		if ep != nil && ep.IsRequest && !ep.UserActivated && !ep.IsEmpty {
			return p.info.FirstEnterEpoch, e
		}
	}
	return p.info.FirstEnterEpoch, p.info.FirstEnterEpoch
}

// PreparedBy reports the address holding the pending preparation, if any.
func (l *Ledger) PreparedBy() (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.prep == nil {
		return common.Address{}, false
	}
	return l.prep.from, true
}
