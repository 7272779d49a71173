package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cadencehq/cadence/internal/ai"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/distlock"
	"github.com/cadencehq/cadence/internal/service/review"
)

const (
	// DefaultSchedulerPollInterval is how often the scheduler evaluates
	// due steps.
	DefaultSchedulerPollInterval = time.Minute

	// DefaultSchedulerBatchSize bounds one scheduler pass.
	DefaultSchedulerBatchSize = 100

	// SchedulerLockKey names the distributed lock that serializes
	// scheduler passes across processes.
	SchedulerLockKey = "cadence:scheduler:tick"
)

// DueLister returns active enrollments whose current step is due.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error)
}

// StepSource resolves a sequence's steps.
type StepSource interface {
	Steps(ctx context.Context, sequenceID string) ([]domain.SequenceStep, error)
}

// Gate accepts a generated draft for an enrollment step and reports
// whether a step already has an open draft, so the scheduler can skip
// generation for enrollments still waiting on review.
type Gate interface {
	Submit(ctx context.Context, e *domain.Enrollment, stepNumber int, draft domain.Draft) (*domain.PendingEmail, error)
	HasDraftForStep(ctx context.Context, enrollmentID string, stepNumber int) (bool, error)
}

// UsageRecorder is the fire-and-forget metering hook.
type UsageRecorder interface {
	Record(ctx context.Context, workspaceID string, t domain.UsageType, quantity int, metadata map[string]string)
}

// StepScheduler polls for enrollments whose current step is due,
// generates content, and hands the draft to the content gate. A
// distributed lock keeps concurrent workers from scheduling the same
// pass; the (enrollment, step) uniqueness in the gate's store keeps a
// redelivered pass from emitting twice.
type StepScheduler struct {
	enrollments  DueLister
	steps        StepSource
	gate         Gate
	generator    ai.Generator
	usage        UsageRecorder
	lock         distlock.DistLock
	workerID     string
	pollInterval time.Duration
	batchSize    int

	// Stats
	stepsEmitted int64
	stepsSkipped int64
	tickErrors   int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewStepScheduler creates a scheduler. lock may not be nil; pass a PG
// advisory lock when Redis is unavailable.
func NewStepScheduler(enrollments DueLister, steps StepSource, gate Gate, generator ai.Generator, usage UsageRecorder, lock distlock.DistLock) *StepScheduler {
	return &StepScheduler{
		enrollments:  enrollments,
		steps:        steps,
		gate:         gate,
		generator:    generator,
		usage:        usage,
		lock:         lock,
		workerID:     fmt.Sprintf("scheduler-%s-%d", getHostname(), time.Now().UnixNano()%10000),
		pollInterval: DefaultSchedulerPollInterval,
		batchSize:    DefaultSchedulerBatchSize,
	}
}

// SetPollInterval overrides the polling interval.
func (s *StepScheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// SetBatchSize overrides the per-pass batch size.
func (s *StepScheduler) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// Start begins the polling loop.
func (s *StepScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[StepScheduler] Starting %s with poll interval: %v", s.workerID, s.pollInterval)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop gracefully stops the scheduler.
func (s *StepScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("[StepScheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
	log.Printf("[StepScheduler] Stopped. Emitted: %d, Skipped: %d, Errors: %d",
		atomic.LoadInt64(&s.stepsEmitted),
		atomic.LoadInt64(&s.stepsSkipped),
		atomic.LoadInt64(&s.tickErrors))
}

func (s *StepScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(s.ctx); err != nil {
				atomic.AddInt64(&s.tickErrors, 1)
				log.Printf("[StepScheduler] Tick error: %v", err)
			}
		}
	}
}

// Tick runs one scheduler pass and returns the number of steps emitted.
// It is also the entry point the API tick endpoint calls. Only one
// worker runs a pass at a time; when the lock is held elsewhere the tick
// returns without work.
func (s *StepScheduler) Tick(ctx context.Context) (int, error) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire scheduler lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := s.lock.Release(context.Background()); err != nil {
			log.Printf("[StepScheduler] Failed to release lock: %v", err)
		}
	}()

	now := time.Now().UTC()
	due, err := s.enrollments.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due enrollments: %w", err)
	}

	emitted := 0
	for i := range due {
		if ctx.Err() != nil {
			return emitted, ctx.Err()
		}
		if !due[i].Due(now) {
			continue
		}
		ok, err := s.emitStep(ctx, &due[i])
		if err != nil {
			// One enrollment's failure never stops the batch.
			atomic.AddInt64(&s.tickErrors, 1)
			log.Printf("[StepScheduler] Enrollment %s step %d: %v", due[i].ID, due[i].CurrentStep, err)
			continue
		}
		if ok {
			emitted++
		}
	}
	if emitted > 0 {
		log.Printf("[StepScheduler] Pass complete: %d due, %d emitted", len(due), emitted)
	}
	return emitted, nil
}

func (s *StepScheduler) emitStep(ctx context.Context, e *domain.Enrollment) (bool, error) {
	steps, err := s.steps.Steps(ctx, e.SequenceID)
	if err != nil {
		return false, fmt.Errorf("load steps: %w", err)
	}

	var step *domain.SequenceStep
	for i := range steps {
		if steps[i].StepNumber == e.CurrentStep {
			step = &steps[i]
			break
		}
	}
	if step == nil {
		return false, fmt.Errorf("sequence %s has no step %d", e.SequenceID, e.CurrentStep)
	}

	// An enrollment waiting on review stays due until it advances. Skip
	// before generating so each tick does not pay for a draft the gate
	// would reject as a duplicate anyway.
	exists, err := s.gate.HasDraftForStep(ctx, e.ID, e.CurrentStep)
	if err != nil {
		return false, fmt.Errorf("check open draft: %w", err)
	}
	if exists {
		atomic.AddInt64(&s.stepsSkipped, 1)
		return false, nil
	}

	contact := domain.ContactContext{ContactID: e.ContactID, Email: e.ContactEmail}
	draft, err := s.generator.Generate(ctx, *step, contact)
	if err != nil {
		// Failed generation leaves no partial state: no pending email,
		// no usage fact.
		return false, err
	}

	if _, err := s.gate.Submit(ctx, e, e.CurrentStep, draft); err != nil {
		if errors.Is(err, review.ErrDuplicateStep) {
			// A prior pass already emitted this (enrollment, step).
			atomic.AddInt64(&s.stepsSkipped, 1)
			return false, nil
		}
		return false, err
	}

	s.usage.Record(ctx, e.WorkspaceID, domain.UsageGeneration, 1, map[string]string{
		"enrollment_id": e.ID,
		"step_number":   fmt.Sprintf("%d", e.CurrentStep),
	})
	atomic.AddInt64(&s.stepsEmitted, 1)
	return true, nil
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
