// Package prom implements the gateway's MetricsProvider with the Prometheus
// client library.
package prom

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tsarna/eventer/pkg/eventer/o11y"
)

// Config configures a Provider.
type Config struct {
	// Namespace prefixes every metric name (default: "eventer").
	Namespace string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets (default: prometheus.DefBuckets).
	Buckets []float64

	// Registry receives the collectors (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

// Provider creates Prometheus collectors on first use. Label names are taken
// from the first observation of each metric, so callers must use a
// consistent label set per metric name.
type Provider struct {
	config Config

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

func NewProvider(config Config) *Provider {
	if config.Namespace == "" {
		config.Namespace = "eventer"
	}
	if config.Buckets == nil {
		config.Buckets = prometheus.DefBuckets
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}

	return &Provider{
		config:     config,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (p *Provider) Counter(name string) o11y.Counter {
	return &promCounter{provider: p, name: name}
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	return &promHistogram{provider: p, name: name}
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	return &promGauge{provider: p, name: name}
}

func (p *Provider) counterVec(name string, keys []string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := vecID(name, keys)
	if vec, ok := p.counters[id]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   p.config.Namespace,
		Name:        name,
		Help:        helpFor(name),
		ConstLabels: p.config.ConstLabels,
	}, keys)
	vec = register(p.config.Registry, vec)
	p.counters[id] = vec
	return vec
}

func (p *Provider) histogramVec(name string, keys []string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := vecID(name, keys)
	if vec, ok := p.histograms[id]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   p.config.Namespace,
		Name:        name,
		Help:        helpFor(name),
		ConstLabels: p.config.ConstLabels,
		Buckets:     p.config.Buckets,
	}, keys)
	vec = register(p.config.Registry, vec)
	p.histograms[id] = vec
	return vec
}

func (p *Provider) gaugeVec(name string, keys []string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := vecID(name, keys)
	if vec, ok := p.gauges[id]; ok {
		return vec
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   p.config.Namespace,
		Name:        name,
		Help:        helpFor(name),
		ConstLabels: p.config.ConstLabels,
	}, keys)
	vec = register(p.config.Registry, vec)
	p.gauges[id] = vec
	return vec
}

// register returns the collector already registered under the same
// descriptor, if any. Other registration errors leave vec unregistered; it
// still works, it is just not exported.
func register[T prometheus.Collector](reg prometheus.Registerer, vec T) T {
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return vec
}

func helpFor(name string) string {
	return "eventer " + strings.ReplaceAll(name, "_", " ")
}

func vecID(name string, keys []string) string {
	return name + "|" + strings.Join(keys, ",")
}

// split sorts labels by key and returns parallel key and value slices.
func split(labels []o11y.Label) ([]string, []string) {
	sorted := make([]o11y.Label, len(labels))
	copy(sorted, labels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	keys := make([]string, len(sorted))
	values := make([]string, len(sorted))
	for i, l := range sorted {
		keys[i] = l.Key
		values[i] = l.Value
	}
	return keys, values
}

type promCounter struct {
	provider *Provider
	name     string
}

func (c *promCounter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	keys, values := split(labels)
	c.provider.counterVec(c.name, keys).WithLabelValues(values...).Add(float64(value))
}

type promHistogram struct {
	provider *Provider
	name     string
}

func (h *promHistogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	keys, values := split(labels)
	h.provider.histogramVec(h.name, keys).WithLabelValues(values...).Observe(value)
}

type promGauge struct {
	provider *Provider
	name     string
}

func (g *promGauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	keys, values := split(labels)
	g.provider.gaugeVec(g.name, keys).WithLabelValues(values...).Set(value)
}
