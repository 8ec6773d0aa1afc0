package queue

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"holo/internal/services"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := newSQLiteStore(db, "mock.db")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func TestCreateJobRetriesWhenBusy(t *testing.T) {
	store, mock := newMockStore(t)
	insert := regexp.QuoteMeta("INSERT INTO jobs")
	mock.ExpectExec(insert).WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(1, 1))

	job := &Job{ID: "job-1", InputKey: "jobs/job-1/input.png", SpecJSON: "{}"}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != StatusQueued || job.Progress != 0 {
		t.Fatalf("unexpected job after create: %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetJobWrapsInfrastructureFailures(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + jobColumns)).WillReturnError(errors.New("disk I/O error"))

	_, err := store.GetJob(context.Background(), "job-1")
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimNextEmptyQueue(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE jobs")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	job, err := store.ClaimNext(context.Background(), "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestRenewLeaseReportsLostLease(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET lease_until")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RenewLease(context.Background(), "job-1", "worker-1", time.Minute)
	if !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	if !isSQLiteBusy(errors.New("database is locked")) {
		t.Fatal("expected locked message to be busy")
	}
	if isSQLiteBusy(errors.New("no such table")) {
		t.Fatal("unexpected busy classification")
	}
	if isSQLiteBusy(nil) {
		t.Fatal("nil is not busy")
	}
}
