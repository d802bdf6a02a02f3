package rootchain

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/compose-network/rootchain/x/asset"
	"github.com/compose-network/rootchain/x/clock"
)

// Oracle proves child-chain facts against committed roots.
type Oracle interface {
	ComputeStorageKey(addr common.Address) common.Hash
	VerifyInclusion(root common.Hash, key, value []byte, proof [][]byte) bool
	VerifyReceiptFailure(receipt []byte) bool
	VerifyBalance(root, key common.Hash, balance *uint256.Int, proof [][]byte) bool
	RequestTrieRoot(hashes []common.Hash) common.Hash
}

// Dependencies are the collaborators of a Ledger.
type Dependencies struct {
	Clock   clock.Clock
	Oracle  Oracle
	Assets  asset.Registry
	Sink    EventSink // optional
	Metrics *Metrics  // optional, defaults to the shared registry
	Logger  zerolog.Logger

	// LastEventID is the highest event id already held by Sink. New events
	// are numbered after it.
	LastEventID uint64
}

// Ledger is the rootchain state machine. Every call runs under one lock and
// validates fully before mutating, so a rejected call leaves no trace.
type Ledger struct {
	mu sync.Mutex

	cfg     Config
	bonds   Bonds
	op      common.Address
	gated   bool
	clock   clock.Clock
	oracle  Oracle
	assets  asset.Registry
	sink    EventSink
	metrics *Metrics
	log     zerolog.Logger

	forks   []*forkState
	current uint64
	queues  [numRequestKinds]*requestQueue
	prep    *preparation

	outbox      []Event
	nextEventID uint64
}

type preparation struct {
	from common.Address
	at   time.Time
}

// oreSnapshot holds the request fields of the last non-empty ORE, carried
// by empty OREs.
type oreSnapshot struct {
	requestStart        uint64
	requestEnd          uint64
	firstRequestBlockID uint64
}

// rebaseStep is a rebase epoch waiting to be opened in a new fork.
type rebaseStep struct {
	request bool
	rbStart uint64
	rbEnd   uint64
	refs    []BlockRef
}

type forkState struct {
	info       Fork
	epochs     []*Epoch       // own epochs from info.FirstEpoch
	blocks     []*PlasmaBlock // own blocks from info.FirstBlock
	placements [numRequestKinds]map[uint64]uint64
	lastORE    oreSnapshot
	pending    []rebaseStep
	refs       map[uint64][]BlockRef // rebase epoch number -> references
}

func newForkState(info Fork) *forkState {
	fs := &forkState{
		info: info,
		refs: make(map[uint64][]BlockRef),
	}
	for k := range fs.placements {
		fs.placements[k] = make(map[uint64]uint64)
	}
	return fs
}

func (fs *forkState) ownEpoch(n uint64) *Epoch {
	if n < fs.info.FirstEpoch || n-fs.info.FirstEpoch >= uint64(len(fs.epochs)) {
		return nil
	}
	return fs.epochs[n-fs.info.FirstEpoch]
}

func (fs *forkState) ownBlock(n uint64) *PlasmaBlock {
	if n < fs.info.FirstBlock || n-fs.info.FirstBlock >= uint64(len(fs.blocks)) {
		return nil
	}
	return fs.blocks[n-fs.info.FirstBlock]
}

func (fs *forkState) openEpoch() *Epoch {
	return fs.epochs[len(fs.epochs)-1]
}

// New creates a ledger holding the genesis fork, its genesis block 0 and an
// open first NRE.
func New(cfg Config, deps Dependencies) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rootchain config: %w", err)
	}
	bonds, err := cfg.Bonds.Parse()
	if err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if deps.Assets == nil {
		return nil, fmt.Errorf("asset registry is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	l := &Ledger{
		cfg:     cfg,
		bonds:   bonds,
		clock:   deps.Clock,
		oracle:  deps.Oracle,
		assets:  deps.Assets,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		log:     deps.Logger.With().Str("component", "rootchain").Logger(),

		nextEventID: deps.LastEventID,
	}
	l.op, l.gated = cfg.operator()
	for k := range l.queues {
		l.queues[k] = newRequestQueue(RequestKind(k), cfg.MaxRequests)
	}

	var genesisRoot common.Hash
	if cfg.GenesisStateRoot != "" {
		genesisRoot, _ = parseHash(cfg.GenesisStateRoot)
	}

	now := l.clock.Now()
	genesis := newForkState(Fork{
		CreatedAt: now,
		Rebased:   true,
	})
	genesis.epochs = append(genesis.epochs, &Epoch{
		Initialized: true,
		Closed:      true,
		OpenedAt:    now,
	})
	genesis.blocks = append(genesis.blocks, &PlasmaBlock{
		Kind:        KindNRB,
		CommittedAt: now,
		FinalizedAt: now,
		StateRoot:   genesisRoot,
		Finalized:   true,
	})
	l.forks = append(l.forks, genesis)
	l.openNonRequestEpoch(genesis, 1, 1, now)

	l.log.Info().
		Uint64("nre_length", cfg.NRELength).
		Uint64("max_requests", cfg.MaxRequests).
		Dur("withholding_period", cfg.WithholdingPeriod).
		Dur("exit_period", cfg.ExitPeriod).
		Bool("operator_gated", l.gated).
		Msg("Rootchain ledger initialized")

	return l, nil
}

// Config returns the deployment parameters.
func (l *Ledger) Config() Config {
	return l.cfg
}

// Bonds returns the exact bond required per call kind.
func (l *Ledger) Bonds() Bonds {
	cp := func(v *uint256.Int) *uint256.Int { return new(uint256.Int).Set(v) }
	return Bonds{
		NRB:        cp(l.bonds.NRB),
		ORB:        cp(l.bonds.ORB),
		URB:        cp(l.bonds.URB),
		URBPrepare: cp(l.bonds.URBPrepare),
		ERO:        cp(l.bonds.ERO),
		ERU:        cp(l.bonds.ERU),
	}
}

func (l *Ledger) fork(id uint64) (*forkState, error) {
	if id >= uint64(len(l.forks)) {
		return nil, notFoundErr(ErrUnknownFork, "fork %d", id).WithContext("fork_id", id)
	}
	return l.forks[id], nil
}

func (l *Ledger) currentFork() *forkState {
	return l.forks[l.current]
}

func (l *Ledger) requireCurrent(id uint64) (*forkState, error) {
	fs, err := l.fork(id)
	if err != nil {
		return nil, err
	}
	if id != l.current {
		return nil, validationErr(ErrNotCurrentFork, "fork %d, current fork is %d", id, l.current).
			WithContext("fork_id", id)
	}
	return fs, nil
}

// blockAt resolves block n as seen from fs, descending into predecessors
// below the fork point.
func (l *Ledger) blockAt(fs *forkState, n uint64) (*forkState, *PlasmaBlock) {
	for {
		if n >= fs.info.FirstBlock {
			return fs, fs.ownBlock(n)
		}
		fs = l.forks[fs.info.Parent]
	}
}

// epochAt resolves epoch n as seen from fs.
func (l *Ledger) epochAt(fs *forkState, n uint64) *Epoch {
	for {
		if n >= fs.info.FirstEpoch {
			return fs.ownEpoch(n)
		}
		fs = l.forks[fs.info.Parent]
	}
}

// placement returns where request block rbID was committed as seen from fs.
// Inherited placements only count when they precede the fork point.
func (l *Ledger) placement(fs *forkState, kind RequestKind, rbID uint64) (*forkState, *PlasmaBlock, bool) {
	limit := ^uint64(0)
	for {
		if n, ok := fs.placements[kind][rbID]; ok && n < limit {
			return fs, fs.ownBlock(n), true
		}
		if fs.info.ID == 0 {
			return nil, nil, false
		}
		if fs.info.ForkedBlock < limit {
			limit = fs.info.ForkedBlock
		}
		fs = l.forks[fs.info.Parent]
	}
}

func (l *Ledger) checkBond(bond, expected *uint256.Int, what string) error {
	if bond == nil || !bond.Eq(expected) {
		got := "nil"
		if bond != nil {
			got = bond.Dec()
		}
		return validationErr(ErrInvalidBond, "%s requires exactly %s wei, got %s", what, expected.Dec(), got).
			WithContext("expected", expected.Dec())
	}
	return nil
}

// CurrentFork returns a snapshot of the fork accepting blocks.
func (l *Ledger) CurrentFork() Fork {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentFork().info
}

// Fork returns a snapshot of fork id.
func (l *Ledger) Fork(id uint64) (Fork, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fs, err := l.fork(id)
	if err != nil {
		return Fork{}, err
	}
	return fs.info, nil
}

// NumForks returns the number of forks created so far, genesis included.
func (l *Ledger) NumForks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.forks))
}

// Epoch returns a snapshot of epoch n as seen from fork forkID.
func (l *Ledger) Epoch(forkID, n uint64) (Epoch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fs, err := l.fork(forkID)
	if err != nil {
		return Epoch{}, err
	}
	ep := l.epochAt(fs, n)
	if ep == nil {
		return Epoch{}, notFoundErr(ErrUnknownEpoch, "epoch %d of fork %d", n, forkID)
	}
	return *ep, nil
}

// Block returns a snapshot of block n as seen from fork forkID.
func (l *Ledger) Block(forkID, n uint64) (PlasmaBlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fs, err := l.fork(forkID)
	if err != nil {
		return PlasmaBlock{}, err
	}
	_, blk := l.blockAt(fs, n)
	if blk == nil {
		return PlasmaBlock{}, notFoundErr(ErrUnknownBlock, "block %d of fork %d", n, forkID)
	}
	return *blk, nil
}

// Request returns a snapshot of request id of the given kind.
func (l *Ledger) Request(kind RequestKind, id uint64) (Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !kind.valid() {
		return Request{}, validationErr(ErrInvalidRequestKind, "request kind %d", kind)
	}
	req := l.queues[kind].request(id)
	if req == nil {
		return Request{}, notFoundErr(ErrUnknownRequest, "%s request %d", kind, id)
	}
	return req.clone(), nil
}

// RequestBlock returns a snapshot of request block id of the given kind.
func (l *Ledger) RequestBlock(kind RequestKind, id uint64) (RequestBlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !kind.valid() {
		return RequestBlock{}, validationErr(ErrInvalidRequestKind, "request kind %d", kind)
	}
	rb := l.queues[kind].block(id)
	if rb == nil {
		return RequestBlock{}, notFoundErr(ErrUnknownRequestBlock, "%s request block %d", kind, id)
	}
	return *rb, nil
}

// NumRequests returns the number of requests of kind created so far.
func (l *Ledger) NumRequests(kind RequestKind) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !kind.valid() {
		return 0
	}
	return uint64(len(l.queues[kind].requests))
}

// NextRequestBlockID returns the id of the request block that will hold the
// next request of kind.
func (l *Ledger) NextRequestBlockID(kind RequestKind) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !kind.valid() {
		return 0
	}
	return l.queues[kind].open().ID
}

// NextRequestToFinalize returns the lowest unfinalized request id of kind.
func (l *Ledger) NextRequestToFinalize(kind RequestKind) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !kind.valid() {
		return 0
	}
	return l.queues[kind].next
}

// Stats is a summary of the ledger state.
type Stats struct {
	CurrentFork        uint64 `json:"current_fork"`
	Forks              uint64 `json:"forks"`
	LastBlock          uint64 `json:"last_block"`
	LastFinalizedBlock uint64 `json:"last_finalized_block"`
	LastEpoch          uint64 `json:"last_epoch"`
	LastFinalizedEpoch uint64 `json:"last_finalized_epoch"`
	EnterExitRequests  uint64 `json:"ero_requests"`
	UserExitRequests   uint64 `json:"eru_requests"`
	NextEROToFinalize  uint64 `json:"next_ero_to_finalize"`
	NextERUToFinalize  uint64 `json:"next_eru_to_finalize"`
	NextEROBlock       uint64 `json:"next_ero_request_block"`
	NextERUBlock       uint64 `json:"next_eru_request_block"`
	Prepared           bool   `json:"user_exit_prepared"`
	PendingEvents      int    `json:"pending_events"`
}

// Stats returns a summary of the ledger state.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.currentFork().info
	ero, eru := l.queues[KindERO], l.queues[KindERU]
	return Stats{
		CurrentFork:        cur.ID,
		Forks:              uint64(len(l.forks)),
		LastBlock:          cur.LastBlock,
		LastFinalizedBlock: cur.LastFinalizedBlock,
		LastEpoch:          cur.LastEpoch,
		LastFinalizedEpoch: cur.LastFinalizedEpoch,
		EnterExitRequests:  uint64(len(ero.requests)),
		UserExitRequests:   uint64(len(eru.requests)),
		NextEROToFinalize:  ero.next,
		NextERUToFinalize:  eru.next,
		NextEROBlock:       ero.open().ID,
		NextERUBlock:       eru.open().ID,
		Prepared:           l.prep != nil,
		PendingEvents:      len(l.outbox),
	}
}

func (l *Ledger) updateForkGauges() {
	cur := l.currentFork().info
	l.metrics.CurrentFork.Set(float64(cur.ID))
	l.metrics.LastBlock.Set(float64(cur.LastBlock))
	l.metrics.LastFinalizedBlock.Set(float64(cur.LastFinalizedBlock))
}
