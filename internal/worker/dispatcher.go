package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/distlock"
	"github.com/cadencehq/cadence/internal/pkg/logger"
	"github.com/cadencehq/cadence/internal/service/enrollment"
	"github.com/cadencehq/cadence/internal/ses"
)

const (
	// DefaultDispatchPollInterval is how often approved emails are
	// drained.
	DefaultDispatchPollInterval = 15 * time.Second

	// DispatcherLockKey names the distributed lock that keeps two
	// processes from draining the same approved rows concurrently.
	DispatcherLockKey = "cadence:dispatcher:drain"
)

// ApprovedSource returns approved-but-unsent emails.
type ApprovedSource interface {
	ListApproved(ctx context.Context, limit int) ([]domain.PendingEmail, error)
}

// InteractionLog is the dispatcher's view of the event log.
type InteractionLog interface {
	Insert(ctx context.Context, i *domain.Interaction) error
	HasEmailSent(ctx context.Context, enrollmentID string, stepNumber int) (bool, error)
}

// EnrollmentMachine is the dispatcher's view of the state machine.
type EnrollmentMachine interface {
	Get(ctx context.Context, id string) (*domain.Enrollment, error)
	Advance(ctx context.Context, id string, sentAt time.Time) error
}

// SenderSettings resolves the workspace's from identity.
type SenderSettings interface {
	Get(ctx context.Context, workspaceID string) (*domain.WorkspaceSettings, error)
}

// DispatchWorker turns approved pending emails into sends. Each dispatch
// re-checks the enrollment status at execution time, so a pause or reply
// that landed after approval aborts the send. A distributed lock
// serializes drains across processes; the email_sent record is the
// backstop for a dispatch redelivered across drains.
type DispatchWorker struct {
	approved     ApprovedSource
	interactions InteractionLog
	enrollments  EnrollmentMachine
	settings     SenderSettings
	transport    ses.Transport
	usage        UsageRecorder
	lock         distlock.DistLock
	pollInterval time.Duration
	batchSize    int

	// Stats
	emailsSent     int64
	sendsAborted   int64
	dispatchErrors int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewDispatchWorker creates a dispatcher. lock may not be nil; pass a PG
// advisory lock when Redis is unavailable.
func NewDispatchWorker(approved ApprovedSource, interactions InteractionLog, enrollments EnrollmentMachine, settings SenderSettings, transport ses.Transport, usage UsageRecorder, lock distlock.DistLock) *DispatchWorker {
	return &DispatchWorker{
		approved:     approved,
		interactions: interactions,
		enrollments:  enrollments,
		settings:     settings,
		transport:    transport,
		usage:        usage,
		lock:         lock,
		pollInterval: DefaultDispatchPollInterval,
		batchSize:    50,
	}
}

// SetPollInterval overrides the polling interval.
func (w *DispatchWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Start begins the dispatch polling loop.
func (w *DispatchWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[DispatchWorker] Starting with poll interval: %v", w.pollInterval)

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop gracefully stops the dispatcher.
func (w *DispatchWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	log.Printf("[DispatchWorker] Stopping...")
	w.cancel()
	w.wg.Wait()
	log.Printf("[DispatchWorker] Stopped. Sent: %d, Aborted: %d, Errors: %d",
		atomic.LoadInt64(&w.emailsSent),
		atomic.LoadInt64(&w.sendsAborted),
		atomic.LoadInt64(&w.dispatchErrors))
}

func (w *DispatchWorker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.drain(w.ctx)
		}
	}
}

// drain runs one dispatch pass. Only one process drains at a time; when
// the lock is held elsewhere the pass is skipped, not queued.
func (w *DispatchWorker) drain(ctx context.Context) {
	acquired, err := w.lock.Acquire(ctx)
	if err != nil {
		atomic.AddInt64(&w.dispatchErrors, 1)
		log.Printf("[DispatchWorker] Acquire drain lock: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := w.lock.Release(context.Background()); err != nil {
			log.Printf("[DispatchWorker] Failed to release lock: %v", err)
		}
	}()

	batch, err := w.approved.ListApproved(ctx, w.batchSize)
	if err != nil {
		atomic.AddInt64(&w.dispatchErrors, 1)
		log.Printf("[DispatchWorker] List approved: %v", err)
		return
	}

	for i := range batch {
		if ctx.Err() != nil {
			return
		}
		if err := w.Dispatch(ctx, &batch[i]); err != nil {
			atomic.AddInt64(&w.dispatchErrors, 1)
			log.Printf("[DispatchWorker] Pending %s: %v", batch[i].ID, err)
		}
	}
}

// Dispatch sends one approved email. Redelivery is safe: an already
// recorded email_sent for the (enrollment, step) short-circuits to the
// advance, and a transport failure leaves the enrollment untouched for
// the next pass to retry.
func (w *DispatchWorker) Dispatch(ctx context.Context, p *domain.PendingEmail) error {
	e, err := w.enrollments.Get(ctx, p.EnrollmentID)
	if errors.Is(err, enrollment.ErrNotFound) {
		atomic.AddInt64(&w.sendsAborted, 1)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load enrollment: %w", err)
	}

	// Status re-check at execution time: an approval dispatched before a
	// pause or reply landed must not send.
	if e.Status != domain.EnrollmentActive {
		atomic.AddInt64(&w.sendsAborted, 1)
		logger.Info("send aborted, enrollment no longer active",
			"enrollment", e.ID,
			"status", string(e.Status))
		return nil
	}

	sent, err := w.interactions.HasEmailSent(ctx, e.ID, p.StepNumber)
	if err != nil {
		return fmt.Errorf("check prior send: %w", err)
	}
	if sent {
		// The send happened on an earlier delivery that died before
		// advancing. Finish the job.
		return w.enrollments.Advance(ctx, e.ID, time.Now().UTC())
	}

	settings, err := w.settings.Get(ctx, e.WorkspaceID)
	if err != nil {
		return fmt.Errorf("load workspace settings: %w", err)
	}

	messageID, err := w.transport.Send(ctx, domain.OutboundMessage{
		To:        e.ContactEmail,
		FromName:  settings.FromName,
		FromEmail: settings.FromEmail,
		Subject:   p.Subject,
		Body:      p.Body,
	})
	if err != nil {
		// Nothing written: step not marked sent, enrollment unchanged.
		return fmt.Errorf("send step %d of enrollment %s: %w", p.StepNumber, e.ID, err)
	}

	sentAt := time.Now().UTC()
	interaction := &domain.Interaction{
		ID:           uuid.New().String(),
		WorkspaceID:  e.WorkspaceID,
		EnrollmentID: e.ID,
		SequenceID:   e.SequenceID,
		ContactID:    e.ContactID,
		StepNumber:   p.StepNumber,
		Type:         domain.InteractionEmailSent,
		Subject:      p.Subject,
		Metadata:     map[string]string{"message_id": messageID},
		CreatedAt:    sentAt,
	}
	if err := w.interactions.Insert(ctx, interaction); err != nil {
		// The email went out but the audit write failed. Surface the
		// error; under at-least-once delivery this is the one window
		// where a redelivery can double-send.
		return fmt.Errorf("record email_sent for enrollment %s: %w", e.ID, err)
	}

	w.usage.Record(ctx, e.WorkspaceID, domain.UsageSend, 1, map[string]string{
		"enrollment_id": e.ID,
		"step_number":   fmt.Sprintf("%d", p.StepNumber),
		"message_id":    messageID,
	})
	atomic.AddInt64(&w.emailsSent, 1)

	if err := w.enrollments.Advance(ctx, e.ID, sentAt); err != nil {
		return fmt.Errorf("advance enrollment %s: %w", e.ID, err)
	}
	return nil
}
