package asset

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreditDebit(t *testing.T) {
	t.Parallel()

	tok := NewMemory(common.HexToAddress("0x01"))
	alice := common.HexToAddress("0xa11ce")

	require.True(t, tok.BalanceOf(alice).IsZero())
	require.NoError(t, tok.Credit(alice, uint256.NewInt(10)))
	require.NoError(t, tok.Debit(alice, uint256.NewInt(4)))
	require.Equal(t, uint256.NewInt(6), tok.BalanceOf(alice))
	require.Equal(t, uint256.NewInt(6), tok.TotalSupply())

	err := tok.Debit(alice, uint256.NewInt(7))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, uint256.NewInt(6), tok.BalanceOf(alice), "failed debit must not change balance")

	require.ErrorIs(t, tok.Credit(alice, new(uint256.Int)), ErrZeroAmount)
	require.ErrorIs(t, tok.Debit(alice, nil), ErrZeroAmount)
}

func TestMemory_BalanceOfReturnsCopy(t *testing.T) {
	t.Parallel()

	tok := NewMemory(common.HexToAddress("0x01"))
	bob := common.HexToAddress("0xb0b")
	require.NoError(t, tok.Credit(bob, uint256.NewInt(3)))

	bal := tok.BalanceOf(bob)
	bal.SetUint64(1000)
	require.Equal(t, uint256.NewInt(3), tok.BalanceOf(bob))
}

func TestMemoryRegistry(t *testing.T) {
	t.Parallel()

	r := NewMemoryRegistry()
	native, err := r.Asset(NativeAddress)
	require.NoError(t, err)
	require.Equal(t, NativeAddress, native.Address())

	_, err = r.Asset(common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, ErrUnknownAsset)

	tok := NewMemory(common.HexToAddress("0xdead"))
	r.Register(tok)
	got, err := r.Asset(tok.Address())
	require.NoError(t, err)
	require.Same(t, tok, got)
}
