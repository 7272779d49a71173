package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/httputil"
	"github.com/cadencehq/cadence/internal/service/enrollment"
	"github.com/cadencehq/cadence/internal/service/review"
)

// EnrollmentService is the enrollment surface the API needs.
type EnrollmentService interface {
	Enroll(ctx context.Context, workspaceID, sequenceID string, contacts []enrollment.ContactRef) (*enrollment.EnrollResult, error)
	Get(ctx context.Context, id string) (*domain.Enrollment, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
}

// ReviewService is the content gate surface the API needs.
type ReviewService interface {
	Get(ctx context.Context, id string) (*domain.PendingEmail, error)
	ListPending(ctx context.Context, workspaceID string, limit int) ([]domain.PendingEmail, error)
	Approve(ctx context.Context, id, reviewer string) error
	Reject(ctx context.Context, id, reviewer string) error
	Edit(ctx context.Context, id, reviewer string, subject, body *string) error
	BulkReview(ctx context.Context, ids []string, action review.Action, reviewer string) (*review.BulkResult, error)
}

// EventRouter receives the inbound-mail collaborator's events.
type EventRouter interface {
	HandleReply(ctx context.Context, interactionID string) error
	HandleBounce(ctx context.Context, interactionID string) error
}

// Ticker runs a scheduler pass on demand.
type Ticker interface {
	Tick(ctx context.Context) (int, error)
}

// UsageReader serves the billing aggregation.
type UsageReader interface {
	Summary(ctx context.Context, workspaceID string, from, to time.Time) (*domain.UsageSummary, error)
}

// Handlers holds the HTTP handlers and their service dependencies.
type Handlers struct {
	enrollments EnrollmentService
	reviews     ReviewService
	events      EventRouter
	scheduler   Ticker
	usage       UsageReader
}

func NewHandlers(enrollments EnrollmentService, reviews ReviewService, events EventRouter, scheduler Ticker, usage UsageReader) *Handlers {
	return &Handlers{
		enrollments: enrollments,
		reviews:     reviews,
		events:      events,
		scheduler:   scheduler,
		usage:       usage,
	}
}

// HealthCheck responds to liveness probes.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

type enrollRequest struct {
	WorkspaceID string                  `json:"workspace_id"`
	Contacts    []enrollment.ContactRef `json:"contacts"`
}

// Enroll handles POST /api/sequences/{id}/enroll.
func (h *Handlers) Enroll(w http.ResponseWriter, r *http.Request) {
	sequenceID := chi.URLParam(r, "id")

	var req enrollRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.WorkspaceID == "" {
		httputil.BadRequest(w, "workspace_id is required")
		return
	}

	res, err := h.enrollments.Enroll(r.Context(), req.WorkspaceID, sequenceID, req.Contacts)
	switch {
	case errors.Is(err, enrollment.ErrSequenceNotFound):
		httputil.NotFound(w, "sequence not found")
	case errors.Is(err, enrollment.ErrSequenceNotActive):
		httputil.ErrorCode(w, http.StatusConflict, "sequence_not_active", "sequence is not active")
	case errors.Is(err, enrollment.ErrNoContacts), errors.Is(err, enrollment.ErrSequenceEmpty):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, res)
	}
}

// GetEnrollment handles GET /api/enrollments/{id}.
func (h *Handlers) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.enrollments.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, enrollment.ErrNotFound):
		httputil.NotFound(w, "enrollment not found")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, e)
	}
}

// PauseEnrollment handles POST /api/enrollments/{id}/pause.
func (h *Handlers) PauseEnrollment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.enrollments.Pause)
}

// ResumeEnrollment handles POST /api/enrollments/{id}/resume.
func (h *Handlers) ResumeEnrollment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.enrollments.Resume)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	err := op(r.Context(), id)
	switch {
	case errors.Is(err, enrollment.ErrNotFound):
		httputil.NotFound(w, "enrollment not found")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, map[string]string{"id": id, "status": "ok"})
	}
}

// ListPending handles GET /api/pending-emails.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace")
	if workspaceID == "" {
		httputil.BadRequest(w, "workspace query parameter is required")
		return
	}

	emails, err := h.reviews.ListPending(r.Context(), workspaceID, 50)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if emails == nil {
		emails = []domain.PendingEmail{}
	}
	httputil.OK(w, map[string]any{"pending_emails": emails})
}

type reviewRequest struct {
	Action   review.Action `json:"action"`
	Reviewer string        `json:"reviewer"`
	Subject  *string       `json:"subject,omitempty"`
	Body     *string       `json:"body,omitempty"`
}

// ReviewPending handles POST /api/pending-emails/{id}/review.
func (h *Handlers) ReviewPending(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req reviewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Reviewer == "" {
		req.Reviewer = "unknown"
	}

	var err error
	switch req.Action {
	case review.ActionApprove:
		err = h.reviews.Approve(r.Context(), id, req.Reviewer)
	case review.ActionReject:
		err = h.reviews.Reject(r.Context(), id, req.Reviewer)
	case review.ActionEdit:
		err = h.reviews.Edit(r.Context(), id, req.Reviewer, req.Subject, req.Body)
	default:
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_action", "action must be approve, reject, or edit")
		return
	}

	switch {
	case errors.Is(err, review.ErrNotFound):
		httputil.NotFound(w, "pending email not found")
	case errors.Is(err, review.ErrAlreadyReviewed):
		httputil.ErrorCode(w, http.StatusConflict, "already_reviewed", "pending email has already been reviewed")
	case errors.Is(err, review.ErrInvalidAction):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
		return
	default:
		p, getErr := h.reviews.Get(r.Context(), id)
		if getErr != nil {
			httputil.OK(w, map[string]string{"id": id})
			return
		}
		httputil.OK(w, map[string]any{"id": id, "status": p.Status})
	}
}

type bulkReviewRequest struct {
	IDs      []string      `json:"ids"`
	Action   review.Action `json:"action"`
	Reviewer string        `json:"reviewer"`
}

// BulkReview handles POST /api/pending-emails/bulk.
func (h *Handlers) BulkReview(w http.ResponseWriter, r *http.Request) {
	var req bulkReviewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		httputil.BadRequest(w, "ids is required")
		return
	}
	if req.Reviewer == "" {
		req.Reviewer = "unknown"
	}

	res, err := h.reviews.BulkReview(r.Context(), req.IDs, req.Action, req.Reviewer)
	switch {
	case errors.Is(err, review.ErrInvalidAction):
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_action", "bulk action must be approve or reject")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, res)
	}
}

type eventRequest struct {
	InteractionID string `json:"interaction_id"`
}

// ReplyEvent handles POST /api/events/reply.
func (h *Handlers) ReplyEvent(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, h.events.HandleReply)
}

// BounceEvent handles POST /api/events/bounce.
func (h *Handlers) BounceEvent(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, h.events.HandleBounce)
}

func (h *Handlers) event(w http.ResponseWriter, r *http.Request, route func(context.Context, string) error) {
	var req eventRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.InteractionID == "" {
		httputil.BadRequest(w, "interaction_id is required")
		return
	}

	if err := route(r.Context(), req.InteractionID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"interaction_id": req.InteractionID})
}

// SchedulerTick handles POST /api/scheduler/tick.
func (h *Handlers) SchedulerTick(w http.ResponseWriter, r *http.Request) {
	emitted, err := h.scheduler.Tick(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"emitted": emitted})
}

// Usage handles GET /api/usage.
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace")
	if workspaceID == "" {
		httputil.BadRequest(w, "workspace query parameter is required")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, "to must be RFC3339")
			return
		}
		to = t
	}

	summary, err := h.usage.Summary(r.Context(), workspaceID, from, to)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, summary)
}
