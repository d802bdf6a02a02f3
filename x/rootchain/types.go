package rootchain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BlockKind is the closed set of checkpoint block kinds.
type BlockKind uint8

const (
	// KindNRB is a non-request block.
	KindNRB BlockKind = iota
	// KindORB is an operator request block carrying enter/exit requests.
	KindORB
	// KindURB is a user-activated block carrying forced exits.
	KindURB
)

func (k BlockKind) String() string {
	switch k {
	case KindNRB:
		return "nrb"
	case KindORB:
		return "orb"
	case KindURB:
		return "urb"
	default:
		return fmt.Sprintf("block_kind(%d)", uint8(k))
	}
}

// ParseBlockKind parses the textual form produced by String.
func ParseBlockKind(s string) (BlockKind, error) {
	switch s {
	case "nrb", "NRB":
		return KindNRB, nil
	case "orb", "ORB":
		return KindORB, nil
	case "urb", "URB":
		return KindURB, nil
	default:
		return 0, fmt.Errorf("unknown block kind %q", s)
	}
}

// RequestKind selects one of the two request id spaces.
type RequestKind uint8

const (
	// KindERO numbers enter and exit requests batched by the operator.
	KindERO RequestKind = iota
	// KindERU numbers user-activated exits.
	KindERU

	numRequestKinds = 2
)

func (k RequestKind) String() string {
	switch k {
	case KindERO:
		return "ero"
	case KindERU:
		return "eru"
	default:
		return fmt.Sprintf("request_kind(%d)", uint8(k))
	}
}

// ParseRequestKind parses the textual form produced by String.
func ParseRequestKind(s string) (RequestKind, error) {
	switch s {
	case "ero", "ERO":
		return KindERO, nil
	case "eru", "ERU":
		return KindERU, nil
	default:
		return 0, fmt.Errorf("unknown request kind %q", s)
	}
}

func (k RequestKind) valid() bool { return k < numRequestKinds }

func (k BlockKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *BlockKind) UnmarshalText(b []byte) error {
	v, err := ParseBlockKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k RequestKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RequestKind) UnmarshalText(b []byte) error {
	v, err := ParseRequestKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Roots are the three child-chain commitments carried by every block.
type Roots struct {
	StateRoot    common.Hash `json:"state_root"`
	TxRoot       common.Hash `json:"tx_root"`
	ReceiptsRoot common.Hash `json:"receipts_root"`
}

// BlockRef is an immutable (fork, block number) pointer resolved by lookup.
type BlockRef struct {
	Fork   uint64 `json:"fork"`
	Number uint64 `json:"number"`
	Valid  bool   `json:"valid"`
}

// Fork is a branch of block history.
type Fork struct {
	ID                 uint64    `json:"id"`
	Parent             uint64    `json:"parent"`
	ForkedBlock        uint64    `json:"forked_block"`
	FirstEpoch         uint64    `json:"first_epoch"`
	LastEpoch          uint64    `json:"last_epoch"`
	FirstBlock         uint64    `json:"first_block"`
	LastBlock          uint64    `json:"last_block"`
	LastFinalizedBlock uint64    `json:"last_finalized_block"`
	LastFinalizedEpoch uint64    `json:"last_finalized_epoch"`
	CreatedAt          time.Time `json:"created_at"`
	FirstEnterEpoch    uint64    `json:"first_enter_epoch"`
	LastEnterEpoch     uint64    `json:"last_enter_epoch"`
	NextBlockToRebase  uint64    `json:"next_block_to_rebase"`
	Rebased            bool      `json:"rebased"`
	NextRequestBlock   uint64    `json:"next_request_block"`
	LastRequestEpoch   uint64    `json:"last_request_epoch"`
	Orphaned           bool      `json:"orphaned"`
}

// Epoch is a contiguous block range of one category within a fork.
type Epoch struct {
	Number              uint64    `json:"number"`
	RequestStart        uint64    `json:"request_start"`
	RequestEnd          uint64    `json:"request_end"`
	StartBlockNumber    uint64    `json:"start_block_number"`
	EndBlockNumber      uint64    `json:"end_block_number"`
	FirstRequestBlockID uint64    `json:"first_request_block_id"`
	IsEmpty             bool      `json:"is_empty"`
	Initialized         bool      `json:"initialized"`
	IsRequest           bool      `json:"is_request"`
	UserActivated       bool      `json:"user_activated"`
	Rebase              bool      `json:"rebase"`
	Closed              bool      `json:"closed"`
	OpenedAt            time.Time `json:"opened_at"`
}

// NumBlocks is the number of blocks the epoch spans.
func (e *Epoch) NumBlocks() uint64 {
	if e.IsEmpty || e.EndBlockNumber < e.StartBlockNumber {
		return 0
	}
	return e.EndBlockNumber - e.StartBlockNumber + 1
}

// Contains reports whether block number n falls inside the epoch.
func (e *Epoch) Contains(n uint64) bool {
	return !e.IsEmpty && n >= e.StartBlockNumber && n <= e.EndBlockNumber
}

// RequestKind is the id space batched by a request epoch.
func (e *Epoch) RequestKind() RequestKind {
	if e.UserActivated {
		return KindERU
	}
	return KindERO
}

// Label names the epoch category (NRE, ORE, URE and their rebase forms).
func (e *Epoch) Label() string {
	switch {
	case e.UserActivated:
		return "URE"
	case e.IsRequest && e.Rebase:
		return "ORE'"
	case e.IsRequest:
		return "ORE"
	case e.Rebase:
		return "NRE'"
	default:
		return "NRE"
	}
}

// PlasmaBlock is one committed checkpoint. ORBs and URBs carry the request
// blocks RequestBlockID..LastRequestBlockID: exactly one for an ORB, every
// ERU block filed since the preparation for a URB.
type PlasmaBlock struct {
	Number             uint64         `json:"number"`
	Kind               BlockKind      `json:"kind"`
	EpochNumber        uint64         `json:"epoch_number"`
	RequestBlockID     uint64         `json:"request_block_id"`
	LastRequestBlockID uint64         `json:"last_request_block_id"`
	ReferenceBlock     BlockRef       `json:"reference_block"`
	CommittedAt        time.Time      `json:"committed_at"`
	FinalizedAt        time.Time      `json:"finalized_at"`
	Submitter          common.Address `json:"submitter"`
	StateRoot          common.Hash    `json:"state_root"`
	TxRoot             common.Hash    `json:"tx_root"`
	ReceiptsRoot       common.Hash    `json:"receipts_root"`
	IsRequest          bool           `json:"is_request"`
	UserActivated      bool           `json:"user_activated"`
	Challenged         bool           `json:"challenged"`
	Challenging        bool           `json:"challenging"`
	Finalized          bool           `json:"finalized"`
}

// Request is a cross-layer transfer intent.
type Request struct {
	ID             uint64         `json:"id"`
	Kind           RequestKind    `json:"kind"`
	RequestBlockID uint64         `json:"request_block_id"`
	CreatedAt      time.Time      `json:"created_at"`
	FinalizedAt    time.Time      `json:"finalized_at"`
	IsExit         bool           `json:"is_exit"`
	IsTransfer     bool           `json:"is_transfer"`
	Finalized      bool           `json:"finalized"`
	Challenged     bool           `json:"challenged"`
	Value          *uint256.Int   `json:"value"`
	Requestor      common.Address `json:"requestor"`
	Target         common.Address `json:"target"`
	TrieKey        common.Hash    `json:"trie_key"`
	TrieValue      *uint256.Int   `json:"trie_value"`
	ContentHash    common.Hash    `json:"content_hash"`
}

// Amount is the quantity moved by the request.
func (r *Request) Amount() *uint256.Int {
	if r.IsTransfer {
		return r.Value
	}
	return r.TrieValue
}

func (r *Request) clone() Request {
	cp := *r
	cp.Value = new(uint256.Int).Set(r.Value)
	cp.TrieValue = new(uint256.Int).Set(r.TrieValue)
	return cp
}

// RequestBlock is a batch of up to MaxRequests requests of one kind.
type RequestBlock struct {
	ID           uint64      `json:"id"`
	Kind         RequestKind `json:"kind"`
	Sealed       bool        `json:"sealed"`
	Submitted    bool        `json:"submitted"`
	NumEnter     uint64      `json:"num_enter"`
	ForkID       uint64      `json:"fork_id"`
	EpochNumber  uint64      `json:"epoch_number"`
	RequestStart uint64      `json:"request_start"`
	RequestEnd   uint64      `json:"request_end"`
	TrieRoot     common.Hash `json:"trie_root"`
}

// Contains reports whether request id falls inside the block.
func (rb *RequestBlock) Contains(id uint64) bool {
	return rb.NumEnter > 0 && id >= rb.RequestStart && id <= rb.RequestEnd
}

// OutcomeStatus describes what a finalization call did.
type OutcomeStatus string

const (
	OutcomeFinalized      OutcomeStatus = "finalized"
	OutcomeNotYetEligible OutcomeStatus = "not_yet_eligible"
	OutcomeNoRequest      OutcomeStatus = "no_request"
)

// RequestOutcome reports the result of finalizing one request.
type RequestOutcome struct {
	Kind       RequestKind   `json:"kind"`
	RequestID  uint64        `json:"request_id"`
	Status     OutcomeStatus `json:"status"`
	Challenged bool          `json:"challenged"`
	Credited   *uint256.Int  `json:"credited,omitempty"`
}

// Finalized reports whether the call finalized the request.
func (o RequestOutcome) Finalized() bool { return o.Status == OutcomeFinalized }
