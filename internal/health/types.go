package health

import (
	"context"
	"time"
)

// NamedBackend adapts any pingable store into a Backend
type NamedBackend struct {
	BackendName string
	PingFunc    func(ctx context.Context) error
}

func (n NamedBackend) Name() string                   { return n.BackendName }
func (n NamedBackend) Ping(ctx context.Context) error { return n.PingFunc(ctx) }

// Status represents the aggregated or per-backend health state
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse returns the more severe of two statuses
func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Backend is a probeable storage collaborator
type Backend interface {
	Name() string
	Ping(ctx context.Context) error
}

// Result is one backend's probe outcome. Probe failures are captured here
// as data, never propagated across probes.
type Result struct {
	Backend   string `json:"backend"`
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Report aggregates all probe results with worst-of semantics
type Report struct {
	Status    Status    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
	Backends  []Result  `json:"backends"`
}
