package rootchain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/rootchain/x/asset"
	"github.com/compose-network/rootchain/x/oracle"
)

func TestStartEnter_Validation(t *testing.T) {
	t.Parallel()

	unknownAsset := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	tests := []struct {
		name    string
		asset   common.Address
		value   *uint256.Int
		bond    func(Bonds) *uint256.Int
		fund    *uint256.Int
		wantErr error
	}{
		{
			name:    "wrong bond",
			asset:   asset.NativeAddress,
			value:   ether(1),
			bond:    func(b Bonds) *uint256.Int { return b.ERU },
			fund:    ether(1),
			wantErr: ErrInvalidBond,
		},
		{
			name:    "zero value",
			asset:   asset.NativeAddress,
			value:   new(uint256.Int),
			bond:    func(b Bonds) *uint256.Int { return b.ERO },
			fund:    ether(1),
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "unknown asset",
			asset:   unknownAsset,
			value:   ether(1),
			bond:    func(b Bonds) *uint256.Int { return b.ERO },
			fund:    ether(1),
			wantErr: ErrInvalidAsset,
		},
		{
			name:    "insufficient balance",
			asset:   asset.NativeAddress,
			value:   ether(2),
			bond:    func(b Bonds) *uint256.Int { return b.ERO },
			fund:    ether(1),
			wantErr: asset.ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			who := user(1)
			require.NoError(t, f.native.Credit(who, tt.fund))

			_, err := f.l.StartEnter(t.Context(), who, tt.asset, common.Hash{}, tt.value, tt.bond(f.bonds()))
			require.ErrorIs(t, err, tt.wantErr)
			require.True(t, IsValidation(err))

			require.Zero(t, f.l.NumRequests(KindERO))
			require.Equal(t, tt.fund, f.native.BalanceOf(who), "rejected enter must not escrow")
			require.Empty(t, f.sink.events)
		})
	}
}

func TestStartExit_ExplicitTrieKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	key := common.HexToHash("0x0102")
	id, err := f.l.StartExit(t.Context(), user(1), tokenAddr, key, ether(1), f.bonds().ERO)
	require.NoError(t, err)

	req, err := f.l.Request(KindERO, id)
	require.NoError(t, err)
	require.Equal(t, key, req.TrieKey)
	require.True(t, req.IsExit)
	require.True(t, req.Value.IsZero())
	require.NotEqual(t, common.Hash{}, req.ContentHash)

	created := f.sink.ofType(EventRequestCreated)
	require.Len(t, created, 1)
	require.True(t, created[0].IsExit)
	require.Equal(t, KindERO, created[0].RequestKind)
}

func TestRequestBlock_TrieRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.MaxRequests = 2 })

	f.enter(t, user(1), ether(1))
	f.enter(t, user(2), ether(2))

	var hashes []common.Hash
	for id := uint64(0); id < 2; id++ {
		req, err := f.l.Request(KindERO, id)
		require.NoError(t, err)
		hashes = append(hashes, req.ContentHash)
	}
	rb, err := f.l.RequestBlock(KindERO, 0)
	require.NoError(t, err)
	require.True(t, rb.Sealed)
	require.Equal(t, oracle.RequestTrieRoot(hashes), rb.TrieRoot)
}

func TestFinalizeRequest_Order(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		f.enter(t, user(i), ether(1))
	}
	f.submitN(t, KindNRB, 2)
	f.submit(t, KindORB)
	f.finalizeAll(t, f.cfg.ExitPeriod)

	_, err := f.l.FinalizeRequest(ctx, KindERO, 1)
	requireErrorType(t, err, ErrorTypeOrderViolation)
	require.ErrorIs(t, err, ErrOrderViolation)

	req, err := f.l.Request(KindERO, 1)
	require.NoError(t, err)
	require.False(t, req.Finalized, "order violation must not finalize")

	out, err := f.l.FinalizeRequest(ctx, KindERO, 0)
	require.NoError(t, err)
	require.True(t, out.Finalized())

	_, err = f.l.FinalizeRequest(ctx, KindERO, 0)
	requireErrorType(t, err, ErrorTypeDoubleFinalization)
	require.ErrorIs(t, err, ErrDoubleFinalization)

	_, err = f.l.FinalizeRequest(ctx, KindERO, 7)
	requireErrorType(t, err, ErrorTypeNotFound)

	outs, err := f.l.FinalizeRequests(ctx, KindERO, 1)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, uint64(1), outs[0].RequestID)
	require.Equal(t, uint64(2), f.l.NextRequestToFinalize(KindERO))
}

func TestFinalizeRequests_StopsAtIneligible(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	f.enter(t, user(1), ether(1))
	f.submitN(t, KindNRB, 2)
	f.submit(t, KindORB)
	// Lands in the next request block, not yet committed.
	f.enter(t, user(2), ether(1))
	f.finalizeAll(t, f.cfg.ExitPeriod)

	outs, err := f.l.FinalizeRequests(ctx, KindERO, 0)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	out, err := f.l.FinalizeNextRequest(ctx, KindERO)
	require.NoError(t, err)
	require.Equal(t, OutcomeNotYetEligible, out.Status)
	require.Equal(t, uint64(1), out.RequestID)
	require.Equal(t, uint64(1), f.l.NextRequestToFinalize(KindERO))
}

func TestFinalizeNextRequest_InvalidKind(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.l.FinalizeNextRequest(t.Context(), RequestKind(5))
	require.ErrorIs(t, err, ErrInvalidRequestKind)

	out, err := f.l.FinalizeNextRequest(t.Context(), KindERU)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoRequest, out.Status)
}

func TestMakeERU_RequiresPreparation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.l.MakeERU(t.Context(), user(1), asset.NativeAddress, common.Hash{}, ether(1), f.bonds().ERU)
	require.ErrorIs(t, err, ErrNotPrepared)
	require.Zero(t, f.l.NumRequests(KindERU))
}
