package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/service/review"
)

func pendingRows(status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "workspace_id", "enrollment_id", "step_number", "subject", "body",
		"status", "reviewed_at", "reviewed_by", "edits", "extra", "created_at",
	}).AddRow("pe-1", "ws-1", "enr-1", 1, "Subject", "Body",
		status, nil, "", []byte(`[]`), []byte(`{}`), now)
}

func TestPendingRepoReview(t *testing.T) {
	db, mock, cleanup := setupRepoTest(t)
	defer cleanup()
	repo := NewPendingRepo(db)

	at := time.Now()
	mock.ExpectExec("UPDATE pending_emails").
		WithArgs("pe-1", "approved", "alex", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Review(context.Background(), "pe-1", domain.ReviewApproved, "alex", at); err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPendingRepoReviewAlreadyReviewed(t *testing.T) {
	db, mock, cleanup := setupRepoTest(t)
	defer cleanup()
	repo := NewPendingRepo(db)

	mock.ExpectExec("UPDATE pending_emails").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM pending_emails").
		WillReturnRows(pendingRows("approved"))

	err := repo.Review(context.Background(), "pe-1", domain.ReviewApproved, "alex", time.Now())
	if !errors.Is(err, review.ErrAlreadyReviewed) {
		t.Errorf("expected ErrAlreadyReviewed, got %v", err)
	}
}

func TestPendingRepoCreateDuplicateStep(t *testing.T) {
	db, mock, cleanup := setupRepoTest(t)
	defer cleanup()
	repo := NewPendingRepo(db)

	mock.ExpectExec("INSERT INTO pending_emails").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &domain.PendingEmail{ID: "pe-1"})
	if !errors.Is(err, review.ErrDuplicateStep) {
		t.Errorf("expected ErrDuplicateStep, got %v", err)
	}
}

func TestPendingRepoGetDecodesHistory(t *testing.T) {
	db, mock, cleanup := setupRepoTest(t)
	defer cleanup()
	repo := NewPendingRepo(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "workspace_id", "enrollment_id", "step_number", "subject", "body",
		"status", "reviewed_at", "reviewed_by", "edits", "extra", "created_at",
	}).AddRow("pe-1", "ws-1", "enr-1", 1, "Subject", "Body",
		"pending", nil, "",
		[]byte(`[{"actor":"alex","at":"2026-03-01T10:00:00Z","fields":["subject"]}]`),
		[]byte(`{"source":"scheduler"}`), now)

	mock.ExpectQuery("SELECT (.+) FROM pending_emails").
		WithArgs("pe-1").
		WillReturnRows(rows)

	p, err := repo.Get(context.Background(), "pe-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(p.Edits) != 1 || p.Edits[0].Actor != "alex" {
		t.Errorf("unexpected edit history: %+v", p.Edits)
	}
	if p.Extra["source"] != "scheduler" {
		t.Errorf("unexpected extra: %+v", p.Extra)
	}
}

func TestPendingRepoExistsForStep(t *testing.T) {
	db, mock, cleanup := setupRepoTest(t)
	defer cleanup()
	repo := NewPendingRepo(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("enr-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := repo.ExistsForStep(context.Background(), "enr-1", 1)
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if exists {
		t.Error("expected no open row for the step")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
