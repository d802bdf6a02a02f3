package finalizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/compose-network/rootchain/metrics"
	"github.com/compose-network/rootchain/x/rootchain"
)

// Ledger is the part of the rootchain ledger the runner drives.
type Ledger interface {
	CurrentFork() rootchain.Fork
	FinalizeBlock(ctx context.Context, forkID uint64) (int, error)
	FinalizeRequests(ctx context.Context, kind rootchain.RequestKind, limit int) ([]rootchain.RequestOutcome, error)
	FlushEvents(ctx context.Context) error
}

var _ Ledger = (*rootchain.Ledger)(nil)

// Result summarizes one tick.
type Result struct {
	At                time.Time
	Fork              uint64
	BlocksFinalized   int
	RequestsFinalized map[rootchain.RequestKind]int
}

// Runner periodically finalizes blocks and requests whose waiting periods
// have elapsed. The ledger never finalizes anything on its own.
type Runner struct {
	log    zerolog.Logger
	ledger Ledger
	now    func() time.Time

	interval time.Duration
	maxReqs  int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	ticks    *prometheus.CounterVec
	duration prometheus.Histogram
	blocks   prometheus.Counter
	requests *prometheus.CounterVec
}

// New constructs a Runner. Metrics go to reg, or to the shared registry
// when reg is nil.
func New(cfg Config, ledger Ledger, reg *metrics.ComponentRegistry) (*Runner, error) {
	if ledger == nil {
		return nil, errors.New("finalizer: ledger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if reg == nil {
		reg = metrics.NewComponentRegistry("rootchain", "finalizer")
	}

	return &Runner{
		log:      cfg.Logger,
		ledger:   ledger,
		now:      cfg.Now,
		interval: cfg.Interval,
		maxReqs:  cfg.MaxRequestsPerTick,
		ticks: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "ticks_total",
			Help: "Finalization ticks by result",
		}, []string{"result"}),
		duration: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "tick_duration_seconds",
			Help:    "Time spent in one finalization tick",
			Buckets: metrics.DurationBuckets,
		}),
		blocks: reg.NewCounter(prometheus.CounterOpts{
			Name: "blocks_finalized_total",
			Help: "Blocks finalized by the runner",
		}),
		requests: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_finalized_total",
			Help: "Requests finalized by the runner",
		}, []string{"kind"}),
	}, nil
}

// Start begins ticking until the context is canceled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	go r.run(runCtx, r.done)
	r.log.Info().Dur("interval", r.interval).Msg("Finalizer started")
	return nil
}

// Stop halts the runner and waits for an in-flight tick to return.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.cancel()
	r.cancel = nil
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		r.log.Info().Msg("Finalizer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("Finalization tick failed")
			}
		}
	}
}

// Tick runs one finalization pass on the current fork: blocks first, then
// ERO and ERU requests in id order, then any undelivered events.
func (r *Runner) Tick(ctx context.Context) (Result, error) {
	start := r.now()
	res := Result{
		At:                start,
		RequestsFinalized: make(map[rootchain.RequestKind]int, 2),
	}
	defer func() {
		r.duration.Observe(r.now().Sub(start).Seconds())
	}()

	fork := r.ledger.CurrentFork()
	res.Fork = fork.ID

	n, err := r.ledger.FinalizeBlock(ctx, fork.ID)
	if err != nil {
		r.ticks.WithLabelValues("error").Inc()
		return res, err
	}
	res.BlocksFinalized = n
	r.blocks.Add(float64(n))

	for _, kind := range []rootchain.RequestKind{rootchain.KindERO, rootchain.KindERU} {
		outs, err := r.ledger.FinalizeRequests(ctx, kind, r.maxReqs)
		if err != nil {
			r.ticks.WithLabelValues("error").Inc()
			return res, err
		}
		res.RequestsFinalized[kind] = len(outs)
		r.requests.WithLabelValues(kind.String()).Add(float64(len(outs)))
	}

	if err := r.ledger.FlushEvents(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Events still pending after tick")
	}

	r.ticks.WithLabelValues("ok").Inc()
	if n > 0 || res.RequestsFinalized[rootchain.KindERO] > 0 || res.RequestsFinalized[rootchain.KindERU] > 0 {
		r.log.Debug().
			Uint64("fork", res.Fork).
			Int("blocks", n).
			Int("ero", res.RequestsFinalized[rootchain.KindERO]).
			Int("eru", res.RequestsFinalized[rootchain.KindERU]).
			Msg("Finalization tick")
	}
	return res, nil
}
