package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/rootchain/metrics"
	apicommon "github.com/compose-network/rootchain/server/api"
	"github.com/compose-network/rootchain/x/asset"
	"github.com/compose-network/rootchain/x/clock"
	"github.com/compose-network/rootchain/x/journal"
	"github.com/compose-network/rootchain/x/oracle"
	"github.com/compose-network/rootchain/x/rootchain"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000001001")
)

type testEnv struct {
	router  *mux.Router
	ledger  *rootchain.Ledger
	clk     *clock.Manual
	native  *asset.Memory
	journal *journal.Memory
}

func newEnv(t *testing.T, withJournal bool) *testEnv {
	t.Helper()

	orc, err := oracle.New(oracle.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	env := &testEnv{
		clk:    clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		native: asset.NewMemory(asset.NativeAddress),
	}
	assets := asset.NewMemoryRegistry()
	assets.Register(env.native)

	deps := rootchain.Dependencies{
		Clock:   env.clk,
		Oracle:  orc,
		Assets:  assets,
		Metrics: rootchain.NewMetricsWith(metrics.NewComponentRegistryWith(prometheus.NewRegistry(), "rootchain", "ledger")),
		Logger:  zerolog.Nop(),
	}
	var events EventReader
	if withJournal {
		env.journal = journal.NewMemory()
		deps.Sink = env.journal
		events = env.journal
	}
	env.ledger, err = rootchain.New(rootchain.DefaultConfig(), deps)
	require.NoError(t, err)

	env.router = mux.NewRouter()
	NewHandler(env.ledger, events, zerolog.Nop()).RegisterMux(env.router)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) submitBlock(t *testing.T, kind string) uint64 {
	t.Helper()
	bond := e.ledger.Bonds().NRB
	if kind == "orb" {
		bond = e.ledger.Bonds().ORB
	}
	rec := e.do(t, http.MethodPost, routeSubmitBlock, map[string]any{
		"fork": 0,
		"kind": kind,
		"from": operator,
		"bond": bond.Dec(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp submitBlockResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Number
}

func (e *testEnv) enter(t *testing.T, who common.Address, wei uint64) uint64 {
	t.Helper()
	value := uint256.NewInt(wei)
	require.NoError(t, e.native.Credit(who, value))
	rec := e.do(t, http.MethodPost, routeEnter, map[string]any{
		"from":  who,
		"asset": asset.NativeAddress,
		"value": value.Dec(),
		"bond":  e.ledger.Bonds().ERO.Dec(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp requestResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, rootchain.KindERO, resp.Kind)
	return resp.ID
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) apicommon.ErrorDetail {
	t.Helper()
	var body apicommon.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestHandler_SubmitAndReadBlocks(t *testing.T) {
	t.Parallel()
	env := newEnv(t, false)

	require.Equal(t, uint64(1), env.submitBlock(t, "nrb"))
	require.Equal(t, uint64(2), env.submitBlock(t, "nrb"))

	rec := env.do(t, http.MethodGet, "/v1/rootchain/forks/0/blocks/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var blk rootchain.PlasmaBlock
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&blk))
	assert.Equal(t, uint64(2), blk.Number)
	assert.Equal(t, rootchain.KindNRB, blk.Kind)
	assert.Equal(t, operator, blk.Submitter)

	rec = env.do(t, http.MethodGet, "/v1/rootchain/forks/0/epochs/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ep rootchain.Epoch
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ep))
	assert.True(t, ep.Closed)
	assert.Equal(t, uint64(2), ep.NumBlocks())

	rec = env.do(t, http.MethodGet, "/v1/rootchain/forks/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fork rootchain.Fork
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fork))
	assert.Equal(t, uint64(2), fork.LastBlock)
}

func TestHandler_ErrorMapping(t *testing.T) {
	t.Parallel()
	env := newEnv(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "unknown fork",
			method: http.MethodGet,
			path:   "/v1/rootchain/forks/7",
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "unknown block",
			method: http.MethodGet,
			path:   "/v1/rootchain/forks/0/blocks/99",
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "unknown request kind",
			method: http.MethodGet,
			path:   "/v1/rootchain/requests/xyz/0",
			status: http.StatusBadRequest,
			code:   "invalid_kind",
		},
		{
			name:   "wrong bond",
			method: http.MethodPost,
			path:   routeSubmitBlock,
			body:   map[string]any{"fork": 0, "kind": "nrb", "from": operator, "bond": "1"},
			status: http.StatusBadRequest,
			code:   "validation",
		},
		{
			name:   "missing bond",
			method: http.MethodPost,
			path:   routeSubmitBlock,
			body:   map[string]any{"fork": 0, "kind": "nrb", "from": operator},
			status: http.StatusBadRequest,
			code:   "invalid_bond",
		},
		{
			name:   "unknown block kind",
			method: http.MethodPost,
			path:   routeSubmitBlock,
			body:   map[string]any{"fork": 0, "kind": "xrb", "from": operator, "bond": "1"},
			status: http.StatusBadRequest,
			code:   "invalid_json",
		},
		{
			name:   "unknown field",
			method: http.MethodPost,
			path:   routePrepare,
			body:   map[string]any{"from": operator, "bond": "1", "extra": true},
			status: http.StatusBadRequest,
			code:   "invalid_json",
		},
		{
			name:   "challenge without evidence",
			method: http.MethodPost,
			path:   routeChallenge,
			body:   map[string]any{"fork": 0, "block_number": 1},
			status: http.StatusBadRequest,
			code:   "invalid_evidence",
		},
		{
			name:   "challenge with both evidences",
			method: http.MethodPost,
			path:   routeChallenge,
			body:   map[string]any{"fork": 0, "block_number": 1, "receipt": "0x01", "balance": "1"},
			status: http.StatusBadRequest,
			code:   "invalid_evidence",
		},
		{
			name:   "challenge with malformed balance",
			method: http.MethodPost,
			path:   routeChallenge,
			body:   map[string]any{"fork": 0, "block_number": 1, "balance": "-1"},
			status: http.StatusBadRequest,
			code:   "invalid_balance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeErr(t, rec).Code)
		})
	}
}

func TestHandler_RequestLifecycle(t *testing.T) {
	t.Parallel()
	env := newEnv(t, false)

	env.enter(t, alice, 100)
	env.enter(t, alice, 200)
	env.submitBlock(t, "nrb")
	env.submitBlock(t, "nrb")
	env.submitBlock(t, "orb")

	rec := env.do(t, http.MethodGet, "/v1/rootchain/request-blocks/ero/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rb rootchain.RequestBlock
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rb))
	assert.True(t, rb.Submitted)
	assert.Equal(t, uint64(2), rb.NumEnter)

	env.clk.Advance(rootchain.DefaultExitPeriod)
	rec = env.do(t, http.MethodPost, "/v1/rootchain/forks/0/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fin finalizeBlockResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fin))
	assert.Equal(t, 3, fin.Finalized)

	// Out of order.
	rec = env.do(t, http.MethodPost, "/v1/rootchain/requests/ero/finalize", map[string]any{"id": 1})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "order_violation", decodeErr(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/v1/rootchain/requests/ero/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var outs []rootchain.RequestOutcome
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&outs))
	require.Len(t, outs, 2)
	assert.Equal(t, rootchain.OutcomeFinalized, outs[1].Status)

	rec = env.do(t, http.MethodPost, "/v1/rootchain/requests/ero/finalize", map[string]any{"id": 0})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "double_finalization", decodeErr(t, rec).Code)

	rec = env.do(t, http.MethodGet, "/v1/rootchain/requests/ero/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var req rootchain.Request
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&req))
	assert.True(t, req.Finalized)
	assert.Equal(t, alice, req.Requestor)
}

func TestHandler_UserActivatedExit(t *testing.T) {
	t.Parallel()
	env := newEnv(t, false)
	bonds := env.ledger.Bonds()

	rec := env.do(t, http.MethodPost, routePrepare, map[string]any{"from": alice, "bond": bonds.URBPrepare.Dec()})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, routeUserRequest, map[string]any{
		"from":  alice,
		"asset": asset.NativeAddress,
		"value": "5",
		"bond":  bonds.ERU.Dec(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, routeUserBlock, map[string]any{"from": alice, "bond": bonds.URB.Dec()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var fork rootchain.Fork
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fork))
	assert.Equal(t, uint64(1), fork.ID)
	assert.Equal(t, uint64(1), fork.ForkedBlock)

	rec = env.do(t, http.MethodGet, "/v1/rootchain/forks/1/blocks/1/class", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var class classifyResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&class))
	assert.True(t, class.IsRequest)

	rec = env.do(t, http.MethodGet, routeStats, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats rootchain.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, uint64(1), stats.CurrentFork)
	assert.Equal(t, uint64(1), stats.UserExitRequests)
}

func TestHandler_Events(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, false)
		rec := env.do(t, http.MethodGet, routeEvents, nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("paged", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, true)
		for range 3 {
			env.submitBlock(t, "nrb")
		}

		rec := env.do(t, http.MethodGet, routeEvents+"?after=1&limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp eventsResp
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Events, 1)
		assert.Equal(t, uint64(2), resp.Events[0].ID)
		assert.Equal(t, rootchain.EventBlockCommitted, resp.Events[0].Type)
		assert.Equal(t, uint64(3), resp.Last)

		rec = env.do(t, http.MethodGet, routeEvents+"?limit=-1", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
