package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedBackend(name string, delay time.Duration, err error) Backend {
	return NamedBackend{
		BackendName: name,
		PingFunc: func(ctx context.Context) error {
			select {
			case <-time.After(delay):
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func TestWorse(t *testing.T) {
	tests := []struct {
		a, b, want Status
	}{
		{StatusHealthy, StatusHealthy, StatusHealthy},
		{StatusHealthy, StatusDegraded, StatusDegraded},
		{StatusDegraded, StatusHealthy, StatusDegraded},
		{StatusDegraded, StatusUnhealthy, StatusUnhealthy},
		{StatusUnhealthy, StatusHealthy, StatusUnhealthy},
	}
	for _, tt := range tests {
		if got := worse(tt.a, tt.b); got != tt.want {
			t.Errorf("worse(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCheckAllHealthy(t *testing.T) {
	a := NewAggregator([]Backend{
		fixedBackend("postgres", 0, nil),
		fixedBackend("minio", 0, nil),
		fixedBackend("qdrant", 0, nil),
	}, time.Second, 500*time.Millisecond)

	report := a.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", report.Status)
	}
	if len(report.Backends) != 3 {
		t.Fatalf("got %d results, want 3", len(report.Backends))
	}
	for _, r := range report.Backends {
		if r.Status != StatusHealthy || r.Error != "" {
			t.Errorf("backend %s: %+v", r.Backend, r)
		}
	}
}

func TestCheckWorstOfFold(t *testing.T) {
	a := NewAggregator([]Backend{
		fixedBackend("postgres", 0, nil),
		fixedBackend("minio", 0, errors.New("connection refused")),
	}, time.Second, 500*time.Millisecond)

	report := a.Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", report.Status)
	}

	var minio *Result
	for i := range report.Backends {
		if report.Backends[i].Backend == "minio" {
			minio = &report.Backends[i]
		}
	}
	if minio == nil {
		t.Fatal("minio result missing")
	}
	if minio.Status != StatusUnhealthy || minio.Error == "" {
		t.Errorf("minio result = %+v", minio)
	}
}

func TestCheckSlowProbeIsDegraded(t *testing.T) {
	a := NewAggregator([]Backend{
		fixedBackend("qdrant", 30*time.Millisecond, nil),
	}, time.Second, 10*time.Millisecond)

	report := a.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
}

func TestCheckHungProbeIsBoundedAndIsolated(t *testing.T) {
	a := NewAggregator([]Backend{
		fixedBackend("postgres", 0, nil),
		fixedBackend("qdrant", 10*time.Second, nil), // never answers in time
	}, 50*time.Millisecond, 20*time.Millisecond)

	start := time.Now()
	report := a.Check(context.Background())
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("check took %v, want roughly one probe timeout", elapsed)
	}
	if report.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", report.Status)
	}
	for _, r := range report.Backends {
		if r.Backend == "postgres" && r.Status != StatusHealthy {
			t.Errorf("hung probe leaked into postgres result: %+v", r)
		}
	}
}

func TestCheckProbesRunConcurrently(t *testing.T) {
	delay := 40 * time.Millisecond
	a := NewAggregator([]Backend{
		fixedBackend("a", delay, nil),
		fixedBackend("b", delay, nil),
		fixedBackend("c", delay, nil),
	}, time.Second, time.Second)

	start := time.Now()
	a.Check(context.Background())
	elapsed := time.Since(start)

	// Serial probing would take 3x the delay
	if elapsed > 2*delay {
		t.Errorf("check took %v, probes appear serialized", elapsed)
	}
}
