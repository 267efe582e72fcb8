// Package jobs defines the asynchronous processing boundary. Large
// statement uploads can be queued and processed off-request by a worker,
// with status polled over HTTP.
package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// JobType identifies what a job does.
type JobType string

const (
	JobTypeProcessStatement JobType = "process_statement"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// ProcessStatementJob runs the ingestion pipeline over an archived
// statement. The original PDF lives in the archive bucket; the job carries
// its URI rather than the bytes.
type ProcessStatementJob struct {
	JobID      string `json:"job_id"`
	UserID     string `json:"user_id"`
	ArchiveURI string `json:"archive_uri"`
	Filename   string `json:"filename,omitempty"`
	Password   string `json:"-"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result holds the pipeline output once the job completes.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is the generic view the queue machinery works with.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *ProcessStatementJob) GetID() string        { return j.JobID }
func (j *ProcessStatementJob) GetType() JobType     { return JobTypeProcessStatement }
func (j *ProcessStatementJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues jobs. Implementations may be in-memory or backed by
// an external queue service.
type Publisher interface {
	PublishProcessStatement(ctx context.Context, job *ProcessStatementJob) error
	Close() error
}

// Consumer pulls jobs and runs them through a handler.
type Consumer interface {
	Start(ctx context.Context, handler JobHandler) error
	// Stop waits for in-flight jobs before returning.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error marks the job for retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state so clients can poll progress.
type JobStore interface {
	SaveJob(ctx context.Context, job *ProcessStatementJob) error
	GetJob(ctx context.Context, jobID string) (*ProcessStatementJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessStatementJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	UserID string
	Status JobStatus
	Limit  int
	Offset int
}
