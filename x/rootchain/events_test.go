package rootchain

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/rootchain/metrics"
	"github.com/compose-network/rootchain/x/asset"
	"github.com/compose-network/rootchain/x/clock"
	"github.com/compose-network/rootchain/x/oracle"
)

func newLedgerWithSink(t *testing.T, sink EventSink) *Ledger {
	t.Helper()
	orc, err := oracle.New(oracle.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	l, err := New(testConfig(), Dependencies{
		Clock:   clock.NewManual(genesisTime),
		Oracle:  orc,
		Assets:  asset.NewMemoryRegistry(),
		Sink:    sink,
		Metrics: NewMetricsWith(metrics.NewComponentRegistryWith(prometheus.NewRegistry(), "rootchain", "ledger")),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return l
}

func TestEvents_RetriedAfterSinkFailure(t *testing.T) {
	t.Parallel()

	sink := new(mockSink)
	l := newLedgerWithSink(t, sink)
	ctx := t.Context()
	bond := l.Bonds().NRB

	sink.On("Append", mock.Anything, mock.MatchedBy(func(evs []Event) bool { return len(evs) == 1 })).
		Return(errors.New("journal unavailable")).Once()

	_, err := l.SubmitBlock(ctx, 0, KindNRB, operatorKey, Roots{}, bond)
	require.NoError(t, err, "sink failures do not reject ledger calls")
	require.Equal(t, 1, l.PendingEvents())

	var delivered []Event
	sink.On("Append", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			delivered = append(delivered, args.Get(1).([]Event)...)
		}).
		Return(nil)

	_, err = l.SubmitBlock(ctx, 0, KindNRB, operatorKey, Roots{}, bond)
	require.NoError(t, err)
	require.Zero(t, l.PendingEvents())

	require.Len(t, delivered, 2)
	require.Equal(t, uint64(1), delivered[0].ID)
	require.Equal(t, uint64(1), delivered[0].BlockNumber)
	require.Equal(t, uint64(2), delivered[1].ID)
	require.Equal(t, uint64(2), delivered[1].BlockNumber)
	sink.AssertExpectations(t)
}

func TestEvents_FlushEvents(t *testing.T) {
	t.Parallel()

	sink := new(mockSink)
	l := newLedgerWithSink(t, sink)

	sink.On("Append", mock.Anything, mock.Anything).Return(errors.New("down")).Once()
	_, err := l.SubmitBlock(t.Context(), 0, KindNRB, operatorKey, Roots{}, l.Bonds().NRB)
	require.NoError(t, err)

	sink.On("Append", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, l.FlushEvents(t.Context()))
	require.Zero(t, l.PendingEvents())

	// Nothing buffered, nothing sent.
	require.NoError(t, l.FlushEvents(t.Context()))
	sink.AssertNumberOfCalls(t, "Append", 2)
}

func TestEvents_IDsIncrease(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.enter(t, user(1), ether(1))
	f.submitN(t, KindNRB, 2)
	f.submit(t, KindORB)
	f.finalizeAll(t, f.cfg.ExitPeriod)
	_, err := f.l.FinalizeNextRequest(t.Context(), KindERO)
	require.NoError(t, err)

	require.NotEmpty(t, f.sink.events)
	var last uint64
	for i, ev := range f.sink.events {
		require.Equal(t, uint64(i+1), ev.ID)
		require.GreaterOrEqual(t, ev.Timestamp, last)
		require.GreaterOrEqual(t, ev.Timestamp, uint64(genesisTime.UnixMilli()))
		last = ev.Timestamp
	}
}

func TestEvents_NilSinkDropsEvents(t *testing.T) {
	t.Parallel()

	l := newLedgerWithSink(t, nil)
	_, err := l.SubmitBlock(t.Context(), 0, KindNRB, operatorKey, Roots{}, l.Bonds().NRB)
	require.NoError(t, err)
	require.Zero(t, l.PendingEvents())
}

func TestEvents_NumberedAfterLastEventID(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	orc, err := oracle.New(oracle.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	l, err := New(testConfig(), Dependencies{
		Clock:       clock.NewManual(genesisTime),
		Oracle:      orc,
		Assets:      asset.NewMemoryRegistry(),
		Sink:        sink,
		Metrics:     NewMetricsWith(metrics.NewComponentRegistryWith(prometheus.NewRegistry(), "rootchain", "ledger")),
		Logger:      zerolog.Nop(),
		LastEventID: 41,
	})
	require.NoError(t, err)

	_, err = l.SubmitBlock(t.Context(), 0, KindNRB, operatorKey, Roots{}, l.Bonds().NRB)
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	require.Equal(t, uint64(42), sink.events[0].ID)
}
