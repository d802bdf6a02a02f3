// Package oracle implements the trie/proof helpers used to prove child-chain
// facts to the rootchain: storage-key derivation, Merkle-Patricia inclusion
// proofs, committed balances and receipt decoding.
package oracle

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const DefaultKeyCacheSize = 4096

// Config configures the storage-key derivation.
type Config struct {
	// BalanceSlot is the storage slot of the token balance mapping.
	BalanceSlot  uint64 `mapstructure:"balance_slot"   yaml:"balance_slot"`
	KeyCacheSize int    `mapstructure:"key_cache_size" yaml:"key_cache_size"`
}

func DefaultConfig() Config {
	return Config{BalanceSlot: 0, KeyCacheSize: DefaultKeyCacheSize}
}

// Oracle verifies child-chain facts against committed roots.
type Oracle struct {
	slot common.Hash
	keys *lru.Cache[common.Address, common.Hash]
	log  zerolog.Logger
}

// New returns an Oracle for cfg.
func New(cfg Config, log zerolog.Logger) (*Oracle, error) {
	size := cfg.KeyCacheSize
	if size <= 0 {
		size = DefaultKeyCacheSize
	}
	cache, err := lru.New[common.Address, common.Hash](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}

	var slot common.Hash
	binary.BigEndian.PutUint64(slot[common.HashLength-8:], cfg.BalanceSlot)

	return &Oracle{
		slot: slot,
		keys: cache,
		log:  log.With().Str("component", "oracle").Logger(),
	}, nil
}

// ComputeStorageKey returns keccak256(pad32(addr) ‖ pad32(slot)), the storage
// location of addr's balance in a Solidity mapping at the configured slot.
func (o *Oracle) ComputeStorageKey(addr common.Address) common.Hash {
	if key, ok := o.keys.Get(addr); ok {
		return key
	}
	key := crypto.Keccak256Hash(common.LeftPadBytes(addr.Bytes(), 32), o.slot.Bytes())
	o.keys.Add(addr, key)
	return key
}

// VerifyInclusion checks a Merkle-Patricia proof for key under root. A nil
// value asks for an exclusion proof.
func (o *Oracle) VerifyInclusion(root common.Hash, key, value []byte, proof [][]byte) bool {
	db := memorydb.New()
	for _, node := range proof {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return false
		}
	}

	got, err := trie.VerifyProof(root, key, db)
	if err != nil {
		o.log.Debug().Err(err).Str("root", root.Hex()).Msg("proof rejected")
		return false
	}
	if value == nil {
		return len(got) == 0
	}
	return bytes.Equal(got, value)
}

// VerifyReceiptFailure reports whether receipt is a well-formed receipt of a
// reverted transaction.
func (o *Oracle) VerifyReceiptFailure(receipt []byte) bool {
	var r types.Receipt
	if err := r.UnmarshalBinary(receipt); err != nil {
		o.log.Debug().Err(err).Msg("malformed receipt")
		return false
	}
	return r.Status == types.ReceiptStatusFailed
}

// ReceiptKey is the receipt-trie key of the receipt at index.
func ReceiptKey(index uint64) []byte {
	return rlp.AppendUint64(nil, index)
}

// RequestTrieRoot commits to the content hashes of a sealed request block.
func (o *Oracle) RequestTrieRoot(hashes []common.Hash) common.Hash {
	return RequestTrieRoot(hashes)
}

// RequestTrieRoot commits to an ordered list of request content hashes. Keys
// are the 8-byte big-endian positions, so insertion is already sorted.
func RequestTrieRoot(hashes []common.Hash) common.Hash {
	st := trie.NewStackTrie(nil)
	for i, h := range hashes {
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], uint64(i))
		if err := st.Update(key[:], h.Bytes()); err != nil {
			// keys are strictly increasing and values non-empty
			panic(err)
		}
	}
	return st.Hash()
}

// BalanceKey is the state-trie key of the balance stored at storage key.
func BalanceKey(key common.Hash) []byte {
	return crypto.Keccak256(key.Bytes())
}

// EncodeBalance is the state-trie value of a committed balance.
func EncodeBalance(balance *uint256.Int) ([]byte, error) {
	return rlp.EncodeToBytes(balance)
}

// VerifyBalance checks that the child state under root holds balance at
// storage key. A zero balance may also be shown by an exclusion proof.
func (o *Oracle) VerifyBalance(root, key common.Hash, balance *uint256.Int, proof [][]byte) bool {
	enc, err := EncodeBalance(balance)
	if err != nil {
		return false
	}
	if o.VerifyInclusion(root, BalanceKey(key), enc, proof) {
		return true
	}
	return balance.IsZero() && o.VerifyInclusion(root, BalanceKey(key), nil, proof)
}

// ReceiptProof builds the receipts root of encoded receipts and an inclusion
// proof for the receipt at index. Challengers use it to assemble evidence.
func ReceiptProof(receipts [][]byte, index uint64) (common.Hash, [][]byte, error) {
	if index >= uint64(len(receipts)) {
		return common.Hash{}, nil, fmt.Errorf("receipt index %d out of range (%d receipts)", index, len(receipts))
	}
	keys := make([][]byte, len(receipts))
	for i := range receipts {
		keys[i] = ReceiptKey(uint64(i))
	}
	return prove(keys, receipts, keys[index])
}

// BalanceProof builds a state root committing balances and a proof for the
// balance at key, which may be absent.
func BalanceProof(balances map[common.Hash]*uint256.Int, key common.Hash) (common.Hash, [][]byte, error) {
	keys := make([][]byte, 0, len(balances))
	values := make([][]byte, 0, len(balances))
	for k, b := range balances {
		enc, err := EncodeBalance(b)
		if err != nil {
			return common.Hash{}, nil, fmt.Errorf("failed to encode balance of %s: %w", k.Hex(), err)
		}
		keys = append(keys, BalanceKey(k))
		values = append(values, enc)
	}
	return prove(keys, values, BalanceKey(key))
}

func prove(keys, values [][]byte, target []byte) (common.Hash, [][]byte, error) {
	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
	for i := range keys {
		if err := tr.Update(keys[i], values[i]); err != nil {
			return common.Hash{}, nil, fmt.Errorf("failed to insert trie entry %d: %w", i, err)
		}
	}

	db := memorydb.New()
	if err := tr.Prove(target, db); err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to prove %x: %w", target, err)
	}

	it := db.NewIterator(nil, nil)
	defer it.Release()

	var proof [][]byte
	for it.Next() {
		proof = append(proof, common.CopyBytes(it.Value()))
	}
	return tr.Hash(), proof, nil
}
