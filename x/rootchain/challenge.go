package rootchain

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/compose-network/rootchain/x/oracle"
)

// ChallengeExit bars the payout of the exit at requestIndex inside finalized
// request block blockNumber of fork forkID. receipt must be a failed receipt
// included at requestIndex of the block's receipts root.
func (l *Ledger) ChallengeExit(
	ctx context.Context,
	forkID, blockNumber, requestIndex uint64,
	receipt []byte,
	proof [][]byte,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.challenge(forkID, blockNumber, requestIndex, "reverted", func(t challengeTarget) error {
		if !l.oracle.VerifyReceiptFailure(receipt) {
			return validationErr(ErrInvalidProof, "receipt does not record a failure")
		}
		if !l.oracle.VerifyInclusion(t.blk.ReceiptsRoot, oracle.ReceiptKey(requestIndex), receipt, proof) {
			return validationErr(ErrInvalidProof, "receipt %d is not included in block %d", requestIndex, blockNumber).
				WithContext("receipts_root", t.blk.ReceiptsRoot.Hex())
		}
		return nil
	})
	if err != nil {
		l.metrics.RecordRejection(err, "challenge_exit")
		return err
	}
	_ = l.flushLocked(ctx)
	return nil
}

// ChallengeUnbackedExit bars the payout of an exit the requestor cannot
// cover: the block's state root must hold balance for the exited asset at
// the request's storage key, and balance must be below the exit amount.
// Native balances are committed under the requestor's storage key.
func (l *Ledger) ChallengeUnbackedExit(
	ctx context.Context,
	forkID, blockNumber, requestIndex uint64,
	balance *uint256.Int,
	proof [][]byte,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.challenge(forkID, blockNumber, requestIndex, "unbacked", func(t challengeTarget) error {
		if balance == nil {
			return validationErr(ErrInvalidProof, "balance is required")
		}
		if amount := t.req.Amount(); !balance.Lt(amount) {
			return validationErr(ErrInvalidProof, "balance %s covers exit of %s", balance.Dec(), amount.Dec())
		}
		key := t.req.TrieKey
		if t.req.IsTransfer {
			key = l.oracle.ComputeStorageKey(t.req.Requestor)
		}
		if !l.oracle.VerifyBalance(t.blk.StateRoot, key, balance, proof) {
			return validationErr(ErrInvalidProof, "balance %s is not committed in block %d", balance.Dec(), blockNumber).
				WithContext("state_root", t.blk.StateRoot.Hex())
		}
		return nil
	})
	if err != nil {
		l.metrics.RecordRejection(err, "challenge_unbacked_exit")
		return err
	}
	_ = l.flushLocked(ctx)
	return nil
}

type challengeTarget struct {
	owner *forkState
	blk   *PlasmaBlock
	kind  RequestKind
	req   *Request
}

// challenge resolves the exit at requestIndex of a finalized request block,
// checks the evidence with verify and marks the exit challenged.
func (l *Ledger) challenge(
	forkID, blockNumber, requestIndex uint64,
	evidence string,
	verify func(challengeTarget) error,
) error {
	t, err := l.resolveChallenge(forkID, blockNumber, requestIndex)
	if err != nil {
		return err
	}
	if err := verify(t); err != nil {
		return err
	}

	now := l.clock.Now()
	t.req.Challenged = true
	t.blk.Challenged = true
	t.blk.Challenging = true

	l.emit(Event{
		Type:        EventRequestChallenged,
		Fork:        t.owner.info.ID,
		BlockNumber: blockNumber,
		EpochNumber: t.blk.EpochNumber,
		RequestKind: t.kind,
		RequestID:   t.req.ID,
		IsExit:      true,
		Challenged:  true,
	}, now)
	l.metrics.Challenges.Inc()

	l.log.Warn().
		Uint64("fork_id", t.owner.info.ID).
		Uint64("block_number", blockNumber).
		Str("kind", t.kind.String()).
		Uint64("request_id", t.req.ID).
		Str("requestor", t.req.Requestor.Hex()).
		Str("evidence", evidence).
		Msg("Exit challenged")

	return nil
}

// resolveChallenge finds the request at requestIndex of block blockNumber.
// The index counts across every request block the block carries.
func (l *Ledger) resolveChallenge(forkID, blockNumber, requestIndex uint64) (challengeTarget, error) {
	fs, err := l.fork(forkID)
	if err != nil {
		return challengeTarget{}, err
	}
	owner, blk := l.blockAt(fs, blockNumber)
	if blk == nil {
		return challengeTarget{}, notFoundErr(ErrUnknownBlock, "block %d of fork %d", blockNumber, forkID)
	}
	if !blk.Finalized {
		return challengeTarget{}, validationErr(ErrBlockNotFinalized, "block %d of fork %d", blockNumber, owner.info.ID)
	}
	if !blk.IsRequest {
		return challengeTarget{}, validationErr(ErrNotRequestBlock, "block %d of fork %d is a %s",
			blockNumber, owner.info.ID, blk.Kind)
	}

	kind := KindERO
	if blk.UserActivated {
		kind = KindERU
	}
	q := l.queues[kind]
	start, count := q.span(blk.RequestBlockID, blk.LastRequestBlockID)
	if requestIndex >= count {
		return challengeTarget{}, validationErr(ErrRequestIndexOutOfRange, "index %d, block %d holds %d requests",
			requestIndex, blockNumber, count)
	}
	req := q.requests[start+requestIndex]
	if !req.IsExit {
		return challengeTarget{}, validationErr(ErrNotExit, "%s request %d", kind, req.ID)
	}
	if req.Finalized {
		return challengeTarget{}, validationErr(ErrRequestFinalized, "%s request %d", kind, req.ID)
	}
	if req.Challenged {
		return challengeTarget{}, NewError(ErrorTypeAlreadyChallenged, fmt.Sprintf("%s request %d", kind, req.ID)).
			WithCause(ErrAlreadyChallenged)
	}
	return challengeTarget{owner: owner, blk: blk, kind: kind, req: req}, nil
}
