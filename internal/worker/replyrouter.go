package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/cadencehq/cadence/internal/ai"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/service/enrollment"
)

// InboundLog is the router's view of the event log: read the inbound
// interaction and claim it exactly once. Unclaim releases a claim whose
// transition did not apply, so a redelivery can retry it.
type InboundLog interface {
	Get(ctx context.Context, id string) (*domain.Interaction, error)
	Claim(ctx context.Context, id string) (bool, error)
	Unclaim(ctx context.Context, id string) error
}

// EnrollmentResolver locates the enrollment an inbound event belongs to.
type EnrollmentResolver interface {
	Get(ctx context.Context, id string) (*domain.Enrollment, error)
	FindLiveByContact(ctx context.Context, workspaceID, contactID string) (*domain.Enrollment, error)
}

// Transitioner applies reply-driven transitions to the state machine.
type Transitioner interface {
	MarkReplied(ctx context.Context, id string) error
	MarkBounced(ctx context.Context, id string) error
	Unsubscribe(ctx context.Context, id string) error
	PauseForReview(ctx context.Context, id string) error
}

// PendingCanceller retracts pending emails for a dead enrollment.
type PendingCanceller interface {
	CancelForEnrollment(ctx context.Context, enrollmentID, reason string) error
}

// ReplyRouter consumes inbound reply and bounce events. Each event is
// claimed atomically before any transition, so a redelivery of an event
// that fully routed no-ops; a failed routing releases the claim and the
// redelivery retries it.
type ReplyRouter struct {
	interactions InboundLog
	enrollments  EnrollmentResolver
	machine      Transitioner
	pending      PendingCanceller
	classifier   ai.Classifier
	usage        UsageRecorder

	repliesRouted  int64
	bouncesRouted  int64
	eventsRedupped int64
}

func NewReplyRouter(interactions InboundLog, enrollments EnrollmentResolver, machine Transitioner, pending PendingCanceller, classifier ai.Classifier, usage UsageRecorder) *ReplyRouter {
	return &ReplyRouter{
		interactions: interactions,
		enrollments:  enrollments,
		machine:      machine,
		pending:      pending,
		classifier:   classifier,
		usage:        usage,
	}
}

// HandleReply routes one inbound reply interaction: claim, classify,
// apply the transition the label maps to. A claim whose transition fails
// is released again, so the at-least-once task layer can redeliver and
// still end up with exactly one applied transition.
func (r *ReplyRouter) HandleReply(ctx context.Context, interactionID string) error {
	i, claimed, err := r.claim(ctx, interactionID)
	if err != nil || !claimed {
		return err
	}
	if err := r.routeReply(ctx, i); err != nil {
		r.unclaim(ctx, i.ID)
		return err
	}
	return nil
}

func (r *ReplyRouter) routeReply(ctx context.Context, i *domain.Interaction) error {
	e, err := r.resolve(ctx, i)
	if err != nil {
		return err
	}
	if e == nil {
		// A reply for a contact that already finished or was never
		// enrolled: the interaction stays recorded, nothing transitions.
		log.Printf("[ReplyRouter] No live enrollment for contact %s, interaction %s recorded only", i.ContactID, i.ID)
		return nil
	}

	cls, err := r.classifier.Classify(ctx, i.Body, i.Subject)
	if err != nil {
		return fmt.Errorf("classify interaction %s: %w", i.ID, err)
	}
	r.usage.Record(ctx, i.WorkspaceID, domain.UsageClassification, 1, map[string]string{
		"interaction_id": i.ID,
		"label":          string(cls.Label),
	})

	atomic.AddInt64(&r.repliesRouted, 1)
	log.Printf("[ReplyRouter] Interaction %s classified %s (%.2f)", i.ID, cls.Label, cls.Confidence)

	if !cls.Label.Substantive() {
		switch cls.Label {
		case domain.LabelWrongPerson:
			return r.machine.PauseForReview(ctx, e.ID)
		case domain.LabelUnsubscribe:
			if err := r.machine.Unsubscribe(ctx, e.ID); err != nil {
				return err
			}
			return r.pending.CancelForEnrollment(ctx, e.ID, "enrollment unsubscribed")
		case domain.LabelBounce:
			if err := r.machine.MarkBounced(ctx, e.ID); err != nil {
				return err
			}
			return r.pending.CancelForEnrollment(ctx, e.ID, "enrollment bounced")
		default:
			// out_of_office: no transition, the schedule keeps running.
			return nil
		}
	}

	// interested, objection, other: a substantive reply ends the
	// sequence.
	if err := r.machine.MarkReplied(ctx, e.ID); err != nil {
		return err
	}
	return r.pending.CancelForEnrollment(ctx, e.ID, "contact replied")
}

// HandleBounce routes one hard-bounce interaction. Bounces skip
// classification.
func (r *ReplyRouter) HandleBounce(ctx context.Context, interactionID string) error {
	i, claimed, err := r.claim(ctx, interactionID)
	if err != nil || !claimed {
		return err
	}
	if err := r.routeBounce(ctx, i); err != nil {
		r.unclaim(ctx, i.ID)
		return err
	}
	return nil
}

func (r *ReplyRouter) routeBounce(ctx context.Context, i *domain.Interaction) error {
	e, err := r.resolve(ctx, i)
	if err != nil {
		return err
	}
	if e == nil {
		log.Printf("[ReplyRouter] No live enrollment for contact %s, bounce %s recorded only", i.ContactID, i.ID)
		return nil
	}

	atomic.AddInt64(&r.bouncesRouted, 1)
	if err := r.machine.MarkBounced(ctx, e.ID); err != nil {
		return err
	}
	return r.pending.CancelForEnrollment(ctx, e.ID, "enrollment bounced")
}

func (r *ReplyRouter) unclaim(ctx context.Context, interactionID string) {
	if err := r.interactions.Unclaim(ctx, interactionID); err != nil {
		log.Printf("[ReplyRouter] Failed to release claim on interaction %s: %v", interactionID, err)
	}
}

func (r *ReplyRouter) claim(ctx context.Context, interactionID string) (*domain.Interaction, bool, error) {
	i, err := r.interactions.Get(ctx, interactionID)
	if err != nil {
		return nil, false, err
	}

	claimed, err := r.interactions.Claim(ctx, interactionID)
	if err != nil {
		return nil, false, fmt.Errorf("claim interaction %s: %w", interactionID, err)
	}
	if !claimed {
		atomic.AddInt64(&r.eventsRedupped, 1)
		log.Printf("[ReplyRouter] Interaction %s already processed, skipping", interactionID)
		return nil, false, nil
	}
	return i, true, nil
}

func (r *ReplyRouter) resolve(ctx context.Context, i *domain.Interaction) (*domain.Enrollment, error) {
	if i.EnrollmentID != "" {
		e, err := r.enrollments.Get(ctx, i.EnrollmentID)
		if errors.Is(err, enrollment.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if e.Status.Terminal() {
			return nil, nil
		}
		return e, nil
	}

	e, err := r.enrollments.FindLiveByContact(ctx, i.WorkspaceID, i.ContactID)
	if errors.Is(err, enrollment.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
