package rootchain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/compose-network/rootchain/x/asset"
)

// requestContent is the committed payload of a request.
type requestContent struct {
	Requestor  common.Address
	Target     common.Address
	IsExit     bool
	IsTransfer bool
	Value      *uint256.Int
	TrieKey    common.Hash
	TrieValue  *uint256.Int
}

func contentHash(req *Request) (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(&requestContent{
		Requestor:  req.Requestor,
		Target:     req.Target,
		IsExit:     req.IsExit,
		IsTransfer: req.IsTransfer,
		Value:      req.Value,
		TrieKey:    req.TrieKey,
		TrieValue:  req.TrieValue,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode request: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// StartEnter escrows value of asset from the requestor and files an enter
// request. It returns the ERO request id.
func (l *Ledger) StartEnter(
	ctx context.Context,
	from, assetAddr common.Address,
	key common.Hash,
	value, bond *uint256.Int,
) (uint64, error) {
	return l.startRequest(ctx, KindERO, false, from, assetAddr, key, value, bond, "start_enter")
}

// StartExit files an exit request paid out to the requestor once it
// finalizes unchallenged. It returns the ERO request id.
func (l *Ledger) StartExit(
	ctx context.Context,
	from, assetAddr common.Address,
	key common.Hash,
	value, bond *uint256.Int,
) (uint64, error) {
	return l.startRequest(ctx, KindERO, true, from, assetAddr, key, value, bond, "start_exit")
}

func (l *Ledger) startRequest(
	ctx context.Context,
	kind RequestKind,
	isExit bool,
	from, assetAddr common.Address,
	key common.Hash,
	value, bond *uint256.Int,
	op string,
) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if kind == KindERU && l.prep == nil {
		err := validationErr(ErrNotPrepared, "user-activated exits require a preparation bond")
		l.metrics.RecordRejection(err, op)
		return 0, err
	}
	id, err := l.createRequest(kind, isExit, from, assetAddr, key, value, bond)
	if err != nil {
		l.metrics.RecordRejection(err, op)
		return 0, err
	}
	_ = l.flushLocked(ctx)
	return id, nil
}

func (l *Ledger) createRequest(
	kind RequestKind,
	isExit bool,
	from, assetAddr common.Address,
	key common.Hash,
	value, bond *uint256.Int,
) (uint64, error) {
	if err := l.checkBond(bond, l.bonds.forRequest(kind), kind.String()); err != nil {
		return 0, err
	}
	if value == nil || value.IsZero() {
		return 0, validationErr(ErrInvalidAmount, "request value must be positive")
	}
	a, err := l.assets.Asset(assetAddr)
	if err != nil {
		return 0, validationErr(ErrInvalidAsset, "asset %s: %v", assetAddr.Hex(), err)
	}

	req := &Request{
		IsExit:    isExit,
		Requestor: from,
		Target:    assetAddr,
		TrieKey:   key,
		Value:     new(uint256.Int),
		TrieValue: new(uint256.Int),
	}
	if assetAddr == asset.NativeAddress {
		req.IsTransfer = true
		req.Value.Set(value)
	} else {
		req.TrieValue.Set(value)
		if key == (common.Hash{}) {
			req.TrieKey = l.oracle.ComputeStorageKey(from)
		}
	}
	if req.ContentHash, err = contentHash(req); err != nil {
		return 0, err
	}

	if !isExit {
		if bal := a.BalanceOf(from); bal.Lt(value) {
			return 0, validationErr(asset.ErrInsufficientBalance, "balance %s below enter value %s",
				bal.Dec(), value.Dec()).
				WithContext("requestor", from.Hex())
		}
		if err := a.Debit(from, value); err != nil {
			return 0, validationErr(ErrInvalidAmount, "failed to escrow enter value: %v", err)
		}
	}

	now := l.clock.Now()
	req.CreatedAt = now
	q := l.queues[kind]
	q.add(req)
	if rb, sealed := q.sealIfFull(l.oracle.RequestTrieRoot); sealed {
		l.recordSeal(q, rb, "full")
	}

	l.emit(Event{
		Type:        EventRequestCreated,
		RequestKind: kind,
		RequestID:   req.ID,
		IsExit:      isExit,
	}, now)
	direction := "enter"
	if isExit {
		direction = "exit"
	}
	l.metrics.RequestsCreated.WithLabelValues(kind.String(), direction).Inc()

	l.log.Info().
		Str("kind", kind.String()).
		Uint64("request_id", req.ID).
		Uint64("request_block_id", req.RequestBlockID).
		Str("direction", direction).
		Str("requestor", from.Hex()).
		Str("asset", assetAddr.Hex()).
		Str("value", value.Dec()).
		Msg("Request created")

	return req.ID, nil
}

// sealRequestBlock seals the open request block of q.
func (l *Ledger) sealRequestBlock(q *requestQueue, reason string) *RequestBlock {
	rb := q.seal(l.oracle.RequestTrieRoot)
	l.recordSeal(q, rb, reason)
	return rb
}

func (l *Ledger) recordSeal(q *requestQueue, rb *RequestBlock, reason string) {
	l.metrics.RequestBlocksSealed.WithLabelValues(q.kind.String(), reason).Inc()
	l.metrics.RequestBlockFill.Observe(float64(rb.NumEnter))

	l.log.Debug().
		Str("kind", q.kind.String()).
		Uint64("request_block_id", rb.ID).
		Uint64("request_start", rb.RequestStart).
		Uint64("request_end", rb.RequestEnd).
		Uint64("num_enter", rb.NumEnter).
		Str("reason", reason).
		Msg("Request block sealed")
}

// FinalizeRequest settles request id of kind. Requests settle strictly in
// id order. A request whose block is not finalized in the current fork, or
// whose exit period has not elapsed, yields OutcomeNotYetEligible and no
// error.
func (l *Ledger) FinalizeRequest(ctx context.Context, kind RequestKind, id uint64) (RequestOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out, err := l.finalizeRequest(kind, id)
	if err != nil {
		l.metrics.RecordRejection(err, "finalize_request")
		return out, err
	}
	_ = l.flushLocked(ctx)
	return out, nil
}

// FinalizeNextRequest settles the lowest unfinalized request of kind.
func (l *Ledger) FinalizeNextRequest(ctx context.Context, kind RequestKind) (RequestOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !kind.valid() {
		return RequestOutcome{}, validationErr(ErrInvalidRequestKind, "request kind %d", kind)
	}
	q := l.queues[kind]
	if q.next >= q.nextID() {
		return RequestOutcome{Kind: kind, RequestID: q.next, Status: OutcomeNoRequest}, nil
	}
	out, err := l.finalizeRequest(kind, q.next)
	if err != nil {
		l.metrics.RecordRejection(err, "finalize_request")
		return out, err
	}
	_ = l.flushLocked(ctx)
	return out, nil
}

// FinalizeRequests settles up to limit eligible requests of kind in order and
// returns the outcomes of those it finalized. limit <= 0 means no limit.
func (l *Ledger) FinalizeRequests(ctx context.Context, kind RequestKind, limit int) ([]RequestOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !kind.valid() {
		return nil, validationErr(ErrInvalidRequestKind, "request kind %d", kind)
	}
	q := l.queues[kind]
	var outs []RequestOutcome
	for (limit <= 0 || len(outs) < limit) && q.next < q.nextID() {
		out, err := l.finalizeRequest(kind, q.next)
		if err != nil {
			l.metrics.RecordRejection(err, "finalize_request")
			_ = l.flushLocked(ctx)
			return outs, err
		}
		if !out.Finalized() {
			break
		}
		outs = append(outs, out)
	}
	_ = l.flushLocked(ctx)
	return outs, nil
}

func (l *Ledger) finalizeRequest(kind RequestKind, id uint64) (RequestOutcome, error) {
	out := RequestOutcome{Kind: kind, RequestID: id}
	if !kind.valid() {
		return out, validationErr(ErrInvalidRequestKind, "request kind %d", kind)
	}
	q := l.queues[kind]
	req := q.request(id)
	if req == nil {
		return out, notFoundErr(ErrUnknownRequest, "%s request %d", kind, id)
	}
	if id < q.next {
		return out, NewError(ErrorTypeDoubleFinalization, fmt.Sprintf("%s request %d", kind, id)).
			WithCause(ErrDoubleFinalization)
	}
	if id > q.next {
		return out, NewError(ErrorTypeOrderViolation,
			fmt.Sprintf("%s request %d before request %d", kind, id, q.next)).
			WithCause(ErrOrderViolation).
			WithContext("next_request", q.next)
	}

	now := l.clock.Now()
	_, blk, placed := l.placement(l.currentFork(), kind, req.RequestBlockID)
	if !placed || blk == nil || !blk.Finalized || now.Before(blk.CommittedAt.Add(l.cfg.ExitPeriod)) {
		out.Status = OutcomeNotYetEligible
		return out, nil
	}

	amount := req.Amount()
	if req.IsExit && !req.Challenged {
		a, err := l.assets.Asset(req.Target)
		if err != nil {
			return out, validationErr(ErrInvalidAsset, "asset %s: %v", req.Target.Hex(), err)
		}
		if err := a.Credit(req.Requestor, amount); err != nil {
			return out, fmt.Errorf("failed to pay out %s request %d: %w", kind, id, err)
		}
		out.Credited = new(uint256.Int).Set(amount)
	}

	req.Finalized = true
	req.FinalizedAt = now
	q.next++
	out.Status = OutcomeFinalized
	out.Challenged = req.Challenged

	if req.Challenged {
		if !q.hasChallengedPending(blk.RequestBlockID, blk.LastRequestBlockID) {
			blk.Challenging = false
		}
	}

	l.emit(Event{
		Type:        EventRequestFinalized,
		RequestKind: kind,
		RequestID:   id,
		IsExit:      req.IsExit,
		Challenged:  req.Challenged,
	}, now)
	outcome := "settled"
	if req.Challenged {
		outcome = "challenged"
	}
	l.metrics.RequestsFinalized.WithLabelValues(kind.String(), outcome).Inc()

	l.log.Info().
		Str("kind", kind.String()).
		Uint64("request_id", id).
		Bool("exit", req.IsExit).
		Bool("challenged", req.Challenged).
		Dur("age", now.Sub(req.CreatedAt).Round(time.Second)).
		Msg("Request finalized")

	return out, nil
}
