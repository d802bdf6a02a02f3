// Package asset defines the token collaborator moved by enter and exit
// requests, together with an in-memory ledger used by the app and tests.
package asset

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeAddress identifies the parent ledger's native asset. Requests against it
// are plain value transfers rather than keyed-storage updates.
var NativeAddress = common.Address{}

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrZeroAmount          = errors.New("amount must be positive")
)

// Asset is a fungible token contract on the parent ledger.
type Asset interface {
	Address() common.Address
	BalanceOf(account common.Address) *uint256.Int
	Debit(account common.Address, amount *uint256.Int) error
	Credit(account common.Address, amount *uint256.Int) error
}

// Registry resolves asset contracts by address.
type Registry interface {
	Asset(addr common.Address) (Asset, error)
}

func checkAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	return nil
}

func unknown(addr common.Address) error {
	return fmt.Errorf("%w: %s", ErrUnknownAsset, addr.Hex())
}
