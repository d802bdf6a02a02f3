package finalizer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/rootchain/metrics"
	"github.com/compose-network/rootchain/x/asset"
	"github.com/compose-network/rootchain/x/clock"
	"github.com/compose-network/rootchain/x/oracle"
	"github.com/compose-network/rootchain/x/rootchain"
)

var genesis = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRegistry() *metrics.ComponentRegistry {
	return metrics.NewComponentRegistryWith(prometheus.NewRegistry(), "rootchain", "finalizer")
}

func testRunnerConfig(clk *clock.Manual) Config {
	cfg := DefaultConfig(zerolog.Nop())
	cfg.Interval = 5 * time.Millisecond
	cfg.Now = clk.Now
	return cfg
}

func newLedger(t *testing.T, clk *clock.Manual, native *asset.Memory) *rootchain.Ledger {
	t.Helper()
	orc, err := oracle.New(oracle.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	assets := asset.NewMemoryRegistry()
	assets.Register(native)

	l, err := rootchain.New(rootchain.DefaultConfig(), rootchain.Dependencies{
		Clock:   clk,
		Oracle:  orc,
		Assets:  assets,
		Metrics: rootchain.NewMetricsWith(metrics.NewComponentRegistryWith(prometheus.NewRegistry(), "rootchain", "ledger")),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return l
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) CurrentFork() rootchain.Fork {
	return m.Called().Get(0).(rootchain.Fork)
}

func (m *mockLedger) FinalizeBlock(ctx context.Context, forkID uint64) (int, error) {
	args := m.Called(ctx, forkID)
	return args.Int(0), args.Error(1)
}

func (m *mockLedger) FinalizeRequests(ctx context.Context, kind rootchain.RequestKind, limit int) ([]rootchain.RequestOutcome, error) {
	args := m.Called(ctx, kind, limit)
	outs, _ := args.Get(0).([]rootchain.RequestOutcome)
	return outs, args.Error(1)
}

func (m *mockLedger) FlushEvents(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(genesis)

	_, err := New(testRunnerConfig(clk), nil, testRegistry())
	require.Error(t, err)

	cfg := testRunnerConfig(clk)
	cfg.Interval = 0
	_, err = New(cfg, new(mockLedger), testRegistry())
	require.Error(t, err)

	cfg = testRunnerConfig(clk)
	cfg.MaxRequestsPerTick = -1
	_, err = New(cfg, new(mockLedger), testRegistry())
	require.Error(t, err)
}

func TestTick_FinalizesBlocksThenRequests(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	clk := clock.NewManual(genesis)
	native := asset.NewMemory(asset.NativeAddress)
	l := newLedger(t, clk, native)
	bonds := l.Bonds()

	who := common.HexToAddress("0x1001")
	amount := uint256.NewInt(1_000)
	require.NoError(t, native.Credit(who, amount))
	_, err := l.StartEnter(ctx, who, asset.NativeAddress, common.Hash{}, amount, bonds.ERO)
	require.NoError(t, err)

	operator := common.HexToAddress("0xaa")
	for _, kind := range []rootchain.BlockKind{rootchain.KindNRB, rootchain.KindNRB, rootchain.KindORB} {
		bond := bonds.NRB
		if kind == rootchain.KindORB {
			bond = bonds.ORB
		}
		_, err := l.SubmitBlock(ctx, 0, kind, operator, rootchain.Roots{}, bond)
		require.NoError(t, err)
	}

	r, err := New(testRunnerConfig(clk), l, testRegistry())
	require.NoError(t, err)

	// Nothing is due before the withholding period.
	res, err := r.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, res.BlocksFinalized)
	require.Zero(t, res.RequestsFinalized[rootchain.KindERO])

	clk.Advance(rootchain.DefaultExitPeriod)
	res, err = r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), res.Fork)
	require.Equal(t, 3, res.BlocksFinalized)
	require.Equal(t, 1, res.RequestsFinalized[rootchain.KindERO])
	require.Zero(t, res.RequestsFinalized[rootchain.KindERU])

	require.Equal(t, uint64(3), l.CurrentFork().LastFinalizedBlock)
	require.Equal(t, uint64(1), l.NextRequestToFinalize(rootchain.KindERO))
	require.Equal(t, float64(3), testutil.ToFloat64(r.blocks))
	require.Equal(t, float64(2), testutil.ToFloat64(r.ticks.WithLabelValues("ok")))
}

func TestTick_LedgerError(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(genesis)
	ledger := new(mockLedger)
	boom := errors.New("boom")

	ledger.On("CurrentFork").Return(rootchain.Fork{ID: 2})
	ledger.On("FinalizeBlock", mock.Anything, uint64(2)).Return(1, nil)
	ledger.On("FinalizeRequests", mock.Anything, rootchain.KindERO, DefaultMaxRequestsPerTick).Return(nil, boom)

	r, err := New(testRunnerConfig(clk), ledger, testRegistry())
	require.NoError(t, err)

	res, err := r.Tick(t.Context())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, res.BlocksFinalized)
	require.Equal(t, float64(1), testutil.ToFloat64(r.ticks.WithLabelValues("error")))
	ledger.AssertNotCalled(t, "FlushEvents", mock.Anything)
}

func TestTick_FlushFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(genesis)
	ledger := new(mockLedger)

	ledger.On("CurrentFork").Return(rootchain.Fork{})
	ledger.On("FinalizeBlock", mock.Anything, uint64(0)).Return(0, nil)
	ledger.On("FinalizeRequests", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	ledger.On("FlushEvents", mock.Anything).Return(errors.New("journal down"))

	r, err := New(testRunnerConfig(clk), ledger, testRegistry())
	require.NoError(t, err)

	_, err = r.Tick(t.Context())
	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestRunner_StartStop(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(genesis)
	ledger := new(mockLedger)

	var ticks atomic.Int64
	ledger.On("CurrentFork").Return(rootchain.Fork{})
	ledger.On("FinalizeBlock", mock.Anything, uint64(0)).
		Run(func(mock.Arguments) { ticks.Add(1) }).
		Return(0, nil)
	ledger.On("FinalizeRequests", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	ledger.On("FlushEvents", mock.Anything).Return(nil)

	r, err := New(testRunnerConfig(clk), ledger, testRegistry())
	require.NoError(t, err)

	require.NoError(t, r.Start(t.Context()))
	require.NoError(t, r.Start(t.Context()), "second start is a no-op")

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, r.Stop(t.Context()))
	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, stopped, ticks.Load())
	require.NoError(t, r.Stop(t.Context()), "second stop is a no-op")
}
