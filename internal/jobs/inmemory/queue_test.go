package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finledger/finledger/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ProcessStatementJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestQueue_PublishAndProcess(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var handled atomic.Int32
	err := q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		handled.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.ProcessStatementJob{
		UserID:     "u1",
		ArchiveURI: "gs://bucket/statements/u1/file.pdf",
	}
	if err := q.PublishProcessStatement(context.Background(), job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if job.JobID == "" {
		t.Fatal("publish must assign a job ID")
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("completed job must carry start and completion times")
	}
	if handled.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", handled.Load())
	}
}

func TestQueue_RetriesFailedJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var attempts atomic.Int32
	_ = q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	job := &jobs.ProcessStatementJob{UserID: "u1", ArchiveURI: "gs://b/o", MaxRetries: 2}
	if err := q.PublishProcessStatement(context.Background(), job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if attempts.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", attempts.Load())
	}
}

func TestQueue_RejectsAfterClose(t *testing.T) {
	q := NewQueue(1, 1, NewStore())
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	err := q.PublishProcessStatement(context.Background(), &jobs.ProcessStatementJob{UserID: "u1"})
	if err == nil {
		t.Error("publish on a closed queue must fail")
	}
}

func TestStore_ListJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	seed := []*jobs.ProcessStatementJob{
		{JobID: "j1", UserID: "u1", Status: jobs.JobStatusPending},
		{JobID: "j2", UserID: "u1", Status: jobs.JobStatusCompleted},
		{JobID: "j3", UserID: "u2", Status: jobs.JobStatusPending},
	}
	for _, j := range seed {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	byUser, err := store.ListJobs(ctx, jobs.JobFilter{UserID: "u1"})
	if err != nil || len(byUser) != 2 {
		t.Errorf("ListJobs(u1) = %d jobs, err %v, want 2", len(byUser), err)
	}
	byStatus, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusPending})
	if err != nil || len(byStatus) != 2 {
		t.Errorf("ListJobs(pending) = %d jobs, err %v, want 2", len(byStatus), err)
	}

	if _, err := store.GetJob(ctx, "missing"); err == nil {
		t.Error("GetJob(missing) must fail")
	}
}
