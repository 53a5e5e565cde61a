package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled background work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs registered jobs on intervals or cron expressions
type Scheduler struct {
	scheduler gocron.Scheduler
	mu        sync.Mutex
	jobs      map[string]Job
}

// NewScheduler creates a scheduler with UTC semantics
func NewScheduler() (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: scheduler,
		jobs:      make(map[string]Job),
	}, nil
}

// RegisterInterval schedules a job to run every interval
func (s *Scheduler) RegisterInterval(job Job, interval time.Duration) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.run(job) }),
		gocron.WithName(job.Name()),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
	}
	s.track(job)
	log.Printf("✅ [SCHEDULER] Registered job %s (every %v)", job.Name(), interval)
	return nil
}

// RegisterCron schedules a job on a standard 5-field cron expression
func (s *Scheduler) RegisterCron(job Job, expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", expr, job.Name(), err)
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(func() { s.run(job) }),
		gocron.WithName(job.Name()),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
	}
	s.track(job)
	log.Printf("✅ [SCHEDULER] Registered job %s (cron %q)", job.Name(), expr)
	return nil
}

func (s *Scheduler) track(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name()] = job
}

func (s *Scheduler) run(job Job) {
	log.Printf("▶️  [SCHEDULER] Running job %s", job.Name())
	start := time.Now()
	if err := job.Run(context.Background()); err != nil {
		log.Printf("❌ [SCHEDULER] Job %s failed: %v", job.Name(), err)
		return
	}
	log.Printf("✅ [SCHEDULER] Job %s completed in %v", job.Name(), time.Since(start))
}

// RunNow triggers a registered job immediately, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return job.Run(ctx)
}

// Start begins executing scheduled jobs
func (s *Scheduler) Start() {
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Started with %d jobs", len(s.jobs))
}

// Stop shuts the scheduler down and waits for running jobs
func (s *Scheduler) Stop() error {
	log.Println("🛑 [SCHEDULER] Stopping...")
	return s.scheduler.Shutdown()
}
