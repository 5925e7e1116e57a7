package o11y

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryProvider keeps metrics in process. Values are tracked per metric
// name and label set, so tests can assert on exactly what was recorded.
type MemoryProvider struct {
	counters   sync.Map // map[string]*memoryCounter
	histograms sync.Map // map[string]*memoryHistogram
	gauges     sync.Map // map[string]*memoryGauge
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

func (p *MemoryProvider) Counter(name string) Counter {
	actual, _ := p.counters.LoadOrStore(name, &memoryCounter{})
	return actual.(*memoryCounter)
}

func (p *MemoryProvider) Histogram(name string) Histogram {
	actual, _ := p.histograms.LoadOrStore(name, &memoryHistogram{})
	return actual.(*memoryHistogram)
}

func (p *MemoryProvider) Gauge(name string) Gauge {
	actual, _ := p.gauges.LoadOrStore(name, &memoryGauge{})
	return actual.(*memoryGauge)
}

// CounterValue returns the counter total for the given labels. With no
// labels it returns the sum over every label set.
func (p *MemoryProvider) CounterValue(name string, labels ...Label) int64 {
	v, ok := p.counters.Load(name)
	if !ok {
		return 0
	}
	c := v.(*memoryCounter)
	if len(labels) == 0 {
		var total int64
		c.values.Range(func(_, value any) bool {
			total += atomic.LoadInt64(value.(*int64))
			return true
		})
		return total
	}
	if n, ok := c.values.Load(labelKey(labels)); ok {
		return atomic.LoadInt64(n.(*int64))
	}
	return 0
}

// GaugeValue returns the last value set for the given labels.
func (p *MemoryProvider) GaugeValue(name string, labels ...Label) float64 {
	v, ok := p.gauges.Load(name)
	if !ok {
		return 0
	}
	g := v.(*memoryGauge)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[labelKey(labels)]
}

// HistogramCount returns how many observations were recorded under name.
func (p *MemoryProvider) HistogramCount(name string) int {
	v, ok := p.histograms.Load(name)
	if !ok {
		return 0
	}
	h := v.(*memoryHistogram)
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.values)
}

type memoryCounter struct {
	values sync.Map // label key -> *int64
}

func (c *memoryCounter) Add(ctx context.Context, value int64, labels ...Label) {
	actual, _ := c.values.LoadOrStore(labelKey(labels), new(int64))
	atomic.AddInt64(actual.(*int64), value)
}

type memoryHistogram struct {
	mu     sync.RWMutex
	values []float64
}

func (h *memoryHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	h.mu.Lock()
	h.values = append(h.values, value)
	h.mu.Unlock()
}

type memoryGauge struct {
	mu     sync.RWMutex
	values map[string]float64
}

func (g *memoryGauge) Set(ctx context.Context, value float64, labels ...Label) {
	g.mu.Lock()
	if g.values == nil {
		g.values = make(map[string]float64)
	}
	g.values[labelKey(labels)] = value
	g.mu.Unlock()
}

func labelKey(labels []Label) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Key + "=" + l.Value
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
