package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	_ Asset    = (*Memory)(nil)
	_ Registry = (*MemoryRegistry)(nil)
)

// Memory is an in-memory token ledger.
type Memory struct {
	mu       sync.RWMutex
	address  common.Address
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
}

// NewMemory returns an empty token ledger at addr.
func NewMemory(addr common.Address) *Memory {
	return &Memory{
		address:  addr,
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (m *Memory) Address() common.Address { return m.address }

func (m *Memory) BalanceOf(account common.Address) *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

func (m *Memory) Debit(account common.Address, amount *uint256.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[account]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("%w: account %s on %s", ErrInsufficientBalance, account.Hex(), m.address.Hex())
	}
	bal.Sub(bal, amount)
	m.supply.Sub(m.supply, amount)
	return nil
}

func (m *Memory) Credit(account common.Address, amount *uint256.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[account]
	if !ok {
		bal = new(uint256.Int)
		m.balances[account] = bal
	}
	if _, overflow := bal.AddOverflow(bal, amount); overflow {
		return fmt.Errorf("balance overflow for %s", account.Hex())
	}
	m.supply.Add(m.supply, amount)
	return nil
}

// TotalSupply returns the sum of all balances.
func (m *Memory) TotalSupply() *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(uint256.Int).Set(m.supply)
}

// MemoryRegistry maps addresses to in-memory assets.
type MemoryRegistry struct {
	mu     sync.RWMutex
	assets map[common.Address]Asset
}

// NewMemoryRegistry returns a registry that already holds the native asset.
func NewMemoryRegistry() *MemoryRegistry {
	r := &MemoryRegistry{assets: make(map[common.Address]Asset)}
	r.Register(NewMemory(NativeAddress))
	return r
}

// Register adds or replaces an asset.
func (r *MemoryRegistry) Register(a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.Address()] = a
}

func (r *MemoryRegistry) Asset(addr common.Address) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[addr]
	if !ok {
		return nil, unknown(addr)
	}
	return a, nil
}
