package rootchain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SubmitBlock commits the next NRB or ORB of fork forkID and returns its
// number. An ORB consumes the next request block of its epoch.
func (l *Ledger) SubmitBlock(
	ctx context.Context,
	forkID uint64,
	kind BlockKind,
	from common.Address,
	roots Roots,
	bond *uint256.Int,
) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.submitBlock(forkID, kind, from, roots, bond)
	if err != nil {
		l.metrics.RecordRejection(err, "submit_block")
		return 0, err
	}
	_ = l.flushLocked(ctx)
	return n, nil
}

func (l *Ledger) submitBlock(
	forkID uint64,
	kind BlockKind,
	from common.Address,
	roots Roots,
	bond *uint256.Int,
) (uint64, error) {
	switch kind {
	case KindNRB, KindORB:
	case KindURB:
		return 0, validationErr(ErrInvalidBlockKind, "user-activated blocks are submitted with SubmitUserActivatedBlock")
	default:
		return 0, validationErr(ErrInvalidBlockKind, "block kind %d", kind)
	}

	fs, err := l.requireCurrent(forkID)
	if err != nil {
		return 0, err
	}
	if l.gated && from != l.op {
		return 0, validationErr(ErrNotOperator, "%s may not submit %s blocks", from.Hex(), kind).
			WithContext("operator", l.op.Hex())
	}
	if err := l.checkBond(bond, l.bonds.forBlock(kind), kind.String()); err != nil {
		return 0, err
	}

	ep := fs.openEpoch()
	expected := KindNRB
	if ep.IsRequest {
		expected = KindORB
	}
	if kind != expected {
		return 0, validationErr(ErrBlockKindMismatch, "epoch %d (%s) accepts %s, got %s",
			ep.Number, ep.Label(), expected, kind).
			WithContext("epoch", ep.Number)
	}
	n := fs.info.LastBlock + 1
	if ep.Closed || !ep.Contains(n) {
		return 0, validationErr(ErrEpochOverflow, "block %d outside epoch %d [%d, %d]",
			n, ep.Number, ep.StartBlockNumber, ep.EndBlockNumber)
	}

	now := l.clock.Now()
	blk := &PlasmaBlock{
		Number:       n,
		Kind:         kind,
		EpochNumber:  ep.Number,
		CommittedAt:  now,
		Submitter:    from,
		StateRoot:    roots.StateRoot,
		TxRoot:       roots.TxRoot,
		ReceiptsRoot: roots.ReceiptsRoot,
		IsRequest:    ep.IsRequest,
	}
	offset := n - ep.StartBlockNumber
	if kind == KindORB {
		rbID := ep.FirstRequestBlockID + offset
		l.queues[KindERO].blocks[rbID].Submitted = true
		blk.RequestBlockID = rbID
		blk.LastRequestBlockID = rbID
		fs.placements[KindERO][rbID] = n
	}
	if ep.Rebase {
		ref := fs.refs[ep.Number][offset]
		blk.ReferenceBlock = ref
		if ref.Valid {
			fs.info.NextBlockToRebase = ref.Number + 1
		}
	}

	fs.blocks = append(fs.blocks, blk)
	fs.info.LastBlock = n
	ep.Initialized = true

	l.emit(Event{
		Type:        EventBlockCommitted,
		Fork:        fs.info.ID,
		BlockNumber: n,
		EpochNumber: ep.Number,
	}, now)
	l.metrics.BlocksSubmitted.WithLabelValues(kind.String()).Inc()

	l.log.Info().
		Uint64("fork_id", fs.info.ID).
		Uint64("block_number", n).
		Uint64("epoch", ep.Number).
		Str("kind", kind.String()).
		Str("state_root", roots.StateRoot.Hex()).
		Msg("Block committed")

	if n == ep.EndBlockNumber {
		l.closeEpoch(fs, ep)
		l.openNext(fs, now)
	}
	l.updateForkGauges()
	return n, nil
}

// FinalizeBlock finalizes, in order, every block of fork forkID whose
// withholding period has elapsed and returns how many it finalized. It stops
// at the first block that is missing or not yet eligible, so repeated calls
// are safe.
func (l *Ledger) FinalizeBlock(ctx context.Context, forkID uint64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fs, err := l.requireCurrent(forkID)
	if err != nil {
		l.metrics.RecordRejection(err, "finalize_block")
		return 0, err
	}

	now := l.clock.Now()
	finalized := 0
	for n := fs.info.LastFinalizedBlock + 1; n <= fs.info.LastBlock; n++ {
		blk := fs.ownBlock(n)
		if blk == nil || now.Before(blk.CommittedAt.Add(l.cfg.WithholdingPeriod)) {
			break
		}
		blk.Finalized = true
		blk.FinalizedAt = now
		fs.info.LastFinalizedBlock = n
		finalized++

		l.emit(Event{
			Type:        EventBlockFinalized,
			Fork:        fs.info.ID,
			BlockNumber: n,
			EpochNumber: blk.EpochNumber,
		}, now)
	}
	if finalized == 0 {
		_ = l.flushLocked(ctx)
		return 0, nil
	}

	l.advanceFinalizedEpochs(fs)
	l.metrics.BlocksFinalized.Add(float64(finalized))
	l.updateForkGauges()

	l.log.Info().
		Uint64("fork_id", fs.info.ID).
		Int("finalized", finalized).
		Uint64("last_finalized_block", fs.info.LastFinalizedBlock).
		Uint64("last_finalized_epoch", fs.info.LastFinalizedEpoch).
		Msg("Blocks finalized")

	_ = l.flushLocked(ctx)
	return finalized, nil
}
