package health

import (
	"context"
	"sync"
	"time"

	"docman/internal/services"
)

const (
	defaultProbeTimeout  = 3 * time.Second
	defaultDegradedAfter = 500 * time.Millisecond
)

// Aggregator probes every registered backend concurrently and folds the
// results into a single worst-of status. Each probe runs with its own
// timeout, so one hung backend never delays or hides the others' results;
// the whole check completes within roughly one probe timeout.
type Aggregator struct {
	backends      []Backend
	probeTimeout  time.Duration
	degradedAfter time.Duration
}

// NewAggregator creates an aggregator over the given backends. A probe
// slower than degradedAfter counts as degraded; one that misses
// probeTimeout entirely counts as unhealthy.
func NewAggregator(backends []Backend, probeTimeout, degradedAfter time.Duration) *Aggregator {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	if degradedAfter <= 0 {
		degradedAfter = defaultDegradedAfter
	}
	return &Aggregator{
		backends:      backends,
		probeTimeout:  probeTimeout,
		degradedAfter: degradedAfter,
	}
}

// Check runs all probes concurrently and returns the aggregated report
func (a *Aggregator) Check(ctx context.Context) Report {
	results := make([]Result, len(a.backends))

	var wg sync.WaitGroup
	for i, backend := range a.backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			results[i] = a.probe(ctx, b)
		}(i, backend)
	}
	wg.Wait()

	report := Report{
		Status:    StatusHealthy,
		CheckedAt: time.Now().UTC(),
		Backends:  results,
	}
	for _, r := range results {
		report.Status = worse(report.Status, r.Status)
	}
	return report
}

func (a *Aggregator) probe(ctx context.Context, b Backend) Result {
	probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	start := time.Now()
	err := b.Ping(probeCtx)
	latency := time.Since(start)

	result := Result{
		Backend:   b.Name(),
		LatencyMs: latency.Milliseconds(),
	}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	case latency > a.degradedAfter:
		result.Status = StatusDegraded
	default:
		result.Status = StatusHealthy
	}

	if m := services.GetMetrics(); m != nil {
		value := map[Status]float64{StatusHealthy: 1, StatusDegraded: 0.5, StatusUnhealthy: 0}[result.Status]
		m.SetBackendUp(b.Name(), value)
	}
	return result
}
