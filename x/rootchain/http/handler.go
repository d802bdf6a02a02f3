package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/rootchain/server/api"
	"github.com/compose-network/rootchain/x/rootchain"
)

// EventReader serves the delivered event stream.
type EventReader interface {
	Read(ctx context.Context, after uint64, limit int) ([]rootchain.Event, error)
	Last(ctx context.Context) (uint64, error)
}

// Handler serves the rootchain ledger over HTTP.
type Handler struct {
	ledger *rootchain.Ledger
	events EventReader
	log    zerolog.Logger
}

// NewHandler builds the handler. events may be nil, in which case the
// events route answers 503.
func NewHandler(ledger *rootchain.Ledger, events EventReader, log zerolog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		events: events,
		log:    log.With().Str("component", "rootchain-http").Logger(),
	}
}

// writeLedgerError maps ledger rejections onto HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	errType, ok := rootchain.TypeOf(err)
	if !ok {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Ledger call failed")
		apicommon.WriteError(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}

	status := http.StatusBadRequest
	switch errType {
	case rootchain.ErrorTypeNotFound:
		status = http.StatusNotFound
	case rootchain.ErrorTypeOrderViolation,
		rootchain.ErrorTypeAlreadyChallenged,
		rootchain.ErrorTypeDoubleFinalization:
		status = http.StatusConflict
	}
	apicommon.WriteError(w, r, status, errType.String(), err.Error(), nil)
}

func badRequest(w http.ResponseWriter, r *http.Request, code string, err error) {
	apicommon.WriteError(w, r, http.StatusBadRequest, code, err.Error(), nil)
}

func pathUint(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)[name], 10, 64)
}

func pathKind(r *http.Request) (rootchain.RequestKind, error) {
	return rootchain.ParseRequestKind(mux.Vars(r)["kind"])
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	apicommon.WriteJSON(w, http.StatusOK, h.ledger.Stats())
}

func (h *Handler) handleCurrentFork(w http.ResponseWriter, _ *http.Request) {
	apicommon.WriteJSON(w, http.StatusOK, h.ledger.CurrentFork())
}

func (h *Handler) handleFork(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "fork")
	if err != nil {
		badRequest(w, r, "invalid_fork", err)
		return
	}
	fork, err := h.ledger.Fork(id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, fork)
}

func (h *Handler) handleEpoch(w http.ResponseWriter, r *http.Request) {
	fork, number, ok := h.forkAndNumber(w, r)
	if !ok {
		return
	}
	ep, err := h.ledger.Epoch(fork, number)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, ep)
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	fork, number, ok := h.forkAndNumber(w, r)
	if !ok {
		return
	}
	blk, err := h.ledger.Block(fork, number)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, blk)
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	fork, number, ok := h.forkAndNumber(w, r)
	if !ok {
		return
	}
	isRequest, isEmpty, err := h.ledger.Classify(fork, number)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, classifyResp{
		Fork:      fork,
		Number:    number,
		IsRequest: isRequest,
		IsEmpty:   isEmpty,
	})
}

func (h *Handler) forkAndNumber(w http.ResponseWriter, r *http.Request) (uint64, uint64, bool) {
	fork, err := pathUint(r, "fork")
	if err != nil {
		badRequest(w, r, "invalid_fork", err)
		return 0, 0, false
	}
	number, err := pathUint(r, "number")
	if err != nil {
		badRequest(w, r, "invalid_number", err)
		return 0, 0, false
	}
	return fork, number, true
}

func (h *Handler) handleOpenEpoch(w http.ResponseWriter, _ *http.Request) {
	apicommon.WriteJSON(w, http.StatusOK, h.ledger.OpenEpoch())
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.kindAndID(w, r)
	if !ok {
		return
	}
	req, err := h.ledger.Request(kind, id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleRequestBlock(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.kindAndID(w, r)
	if !ok {
		return
	}
	rb, err := h.ledger.RequestBlock(kind, id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, rb)
}

func (h *Handler) kindAndID(w http.ResponseWriter, r *http.Request) (rootchain.RequestKind, uint64, bool) {
	kind, err := pathKind(r)
	if err != nil {
		badRequest(w, r, "invalid_kind", err)
		return 0, 0, false
	}
	id, err := pathUint(r, "id")
	if err != nil {
		badRequest(w, r, "invalid_id", err)
		return 0, 0, false
	}
	return kind, id, true
}

func (h *Handler) handleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req submitBlockReq
	if err := apicommon.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "invalid_json", err)
		return
	}
	bond, err := parseWei("bond", req.Bond)
	if err != nil {
		badRequest(w, r, "invalid_bond", err)
		return
	}

	number, err := h.ledger.SubmitBlock(r.Context(), req.Fork, req.Kind, req.From, req.Roots, bond)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, submitBlockResp{Fork: req.Fork, Number: number})
}

func (h *Handler) handleFinalizeBlock(w http.ResponseWriter, r *http.Request) {
	fork, err := pathUint(r, "fork")
	if err != nil {
		badRequest(w, r, "invalid_fork", err)
		return
	}
	n, err := h.ledger.FinalizeBlock(r.Context(), fork)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, finalizeBlockResp{Fork: fork, Finalized: n})
}

type startFunc func(
	ctx context.Context,
	from, assetAddr common.Address,
	key common.Hash,
	value, bond *uint256.Int,
) (uint64, error)

func (h *Handler) handleEnter(w http.ResponseWriter, r *http.Request) {
	h.handleStart(w, r, rootchain.KindERO, h.ledger.StartEnter)
}

func (h *Handler) handleExit(w http.ResponseWriter, r *http.Request) {
	h.handleStart(w, r, rootchain.KindERO, h.ledger.StartExit)
}

func (h *Handler) handleUserRequest(w http.ResponseWriter, r *http.Request) {
	h.handleStart(w, r, rootchain.KindERU, h.ledger.MakeERU)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request, kind rootchain.RequestKind, start startFunc) {
	defer r.Body.Close()

	var req requestReq
	if err := apicommon.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "invalid_json", err)
		return
	}
	value, err := parseWei("value", req.Value)
	if err != nil {
		badRequest(w, r, "invalid_value", err)
		return
	}
	bond, err := parseWei("bond", req.Bond)
	if err != nil {
		badRequest(w, r, "invalid_bond", err)
		return
	}

	id, err := start(r.Context(), req.From, req.Asset, req.TrieKey, value, bond)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, requestResp{Kind: kind, ID: id})
}

func (h *Handler) handleFinalizeRequests(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	kind, err := pathKind(r)
	if err != nil {
		badRequest(w, r, "invalid_kind", err)
		return
	}
	var req finalizeRequestsReq
	if r.ContentLength != 0 {
		if err := apicommon.DecodeJSON(r, &req); err != nil {
			badRequest(w, r, "invalid_json", err)
			return
		}
	}
	if req.Limit < 0 {
		badRequest(w, r, "invalid_limit", errors.New("limit must not be negative"))
		return
	}

	var outs []rootchain.RequestOutcome
	if req.ID != nil {
		var out rootchain.RequestOutcome
		out, err = h.ledger.FinalizeRequest(r.Context(), kind, *req.ID)
		outs = []rootchain.RequestOutcome{out}
	} else {
		outs, err = h.ledger.FinalizeRequests(r.Context(), kind, req.Limit)
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if outs == nil {
		outs = []rootchain.RequestOutcome{}
	}
	apicommon.WriteJSON(w, http.StatusOK, outs)
}

func (h *Handler) handlePrepare(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req prepareReq
	if err := apicommon.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "invalid_json", err)
		return
	}
	bond, err := parseWei("bond", req.Bond)
	if err != nil {
		badRequest(w, r, "invalid_bond", err)
		return
	}
	if err := h.ledger.PrepareUserActivatedExit(r.Context(), req.From, bond); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUserBlock(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req userBlockReq
	if err := apicommon.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "invalid_json", err)
		return
	}
	bond, err := parseWei("bond", req.Bond)
	if err != nil {
		badRequest(w, r, "invalid_bond", err)
		return
	}

	forkID, err := h.ledger.SubmitUserActivatedBlock(r.Context(), req.From, req.Roots, bond)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	fork, err := h.ledger.Fork(forkID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, fork)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req challengeReq
	if err := apicommon.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, "invalid_json", err)
		return
	}
	switch {
	case len(req.Receipt) == 0 && req.Balance == "":
		badRequest(w, r, "invalid_evidence", errors.New("receipt or balance is required"))
		return
	case len(req.Receipt) > 0 && req.Balance != "":
		badRequest(w, r, "invalid_evidence", errors.New("receipt and balance are mutually exclusive"))
		return
	}

	var err error
	if req.Balance != "" {
		balance, perr := parseWei("balance", req.Balance)
		if perr != nil {
			badRequest(w, r, "invalid_balance", perr)
			return
		}
		err = h.ledger.ChallengeUnbackedExit(r.Context(), req.Fork, req.BlockNumber, req.RequestIndex, balance, req.proofNodes())
	} else {
		err = h.ledger.ChallengeExit(r.Context(), req.Fork, req.BlockNumber, req.RequestIndex, req.Receipt, req.proofNodes())
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		apicommon.WriteError(w, r, http.StatusServiceUnavailable, "journal_disabled", "event journal is not enabled", nil)
		return
	}

	q := r.URL.Query()
	var (
		after uint64
		limit int
		err   error
	)
	if v := q.Get("after"); v != "" {
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			badRequest(w, r, "invalid_after", err)
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			badRequest(w, r, "invalid_limit", errors.New("limit must be a non-negative integer"))
			return
		}
	}

	events, err := h.events.Read(r.Context(), after, limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	last, err := h.events.Last(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if events == nil {
		events = []rootchain.Event{}
	}
	apicommon.WriteJSON(w, http.StatusOK, eventsResp{Events: events, Last: last})
}
