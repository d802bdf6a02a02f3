package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
)

// Common histogram buckets.
var (
	CountBuckets    = []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000}
	DurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
)

// GetRegistry returns the process-wide registry shared by all components.
func GetRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// ComponentRegistry creates metrics under a fixed namespace and subsystem.
// Collectors that are already registered are reused, so constructing the
// same component twice (as tests do) never panics.
type ComponentRegistry struct {
	namespace string
	subsystem string
	reg       prometheus.Registerer
}

// NewComponentRegistry returns a registry bound to the shared registry.
func NewComponentRegistry(namespace, subsystem string) *ComponentRegistry {
	return NewComponentRegistryWith(GetRegistry(), namespace, subsystem)
}

// NewComponentRegistryWith returns a registry bound to reg.
func NewComponentRegistryWith(reg prometheus.Registerer, namespace, subsystem string) *ComponentRegistry {
	return &ComponentRegistry{namespace: namespace, subsystem: subsystem, reg: reg}
}

func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewCounter(opts))
}

func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewCounterVec(opts, labels))
}

func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewGauge(opts))
}

func (r *ComponentRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewGaugeVec(opts, labels))
}

func (r *ComponentRegistry) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewHistogram(opts))
}

func (r *ComponentRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	opts.Namespace, opts.Subsystem = r.namespace, r.subsystem
	return register(r.reg, prometheus.NewHistogramVec(opts, labels))
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
