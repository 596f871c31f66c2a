// Package ingest runs uploaded files through the parse, normalize,
// score and persist pipeline.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/parser"
)

// FileState tracks a file through the pipeline.
type FileState string

const (
	FileStatePending    FileState = "pending"
	FileStateParsing    FileState = "parsing"
	FileStateScoring    FileState = "scoring"
	FileStatePersisting FileState = "persisting"
	FileStateCompleted  FileState = "completed"
	FileStateFailed     FileState = "failed"
)

// RecordError reports one rejected record by its position in the file.
type RecordError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// FileReport is the per-file outcome of an upload job.
type FileReport struct {
	Name            string        `json:"name"`
	Format          parser.Format `json:"format,omitempty"`
	State           FileState     `json:"state"`
	RecordsTotal    int           `json:"recordsTotal"`
	RecordsAccepted int           `json:"recordsAccepted"`
	RecordsRejected int           `json:"recordsRejected"`
	AlertsCreated   int           `json:"alertsCreated"`
	AlertsUpdated   int           `json:"alertsUpdated"`
	Errors          []RecordError `json:"errors,omitempty"`

	// Failure is set when State is failed: the file-level reason.
	Failure string `json:"failure,omitempty"`
}

// Summary aggregates all files of a job.
type Summary struct {
	RecordsTotal    int `json:"recordsTotal"`
	RecordsAccepted int `json:"recordsAccepted"`
	RecordsRejected int `json:"recordsRejected"`
	AlertsCreated   int `json:"alertsCreated"`
	AlertsUpdated   int `json:"alertsUpdated"`
}

// Job is one upload of N files. Files are processed concurrently, so
// all report access goes through the job mutex.
type Job struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	mu     sync.Mutex
	files  []*FileReport
	done   chan struct{}
	cancel context.CancelFunc
}

func newJob(id string, now time.Time, names []string) *Job {
	j := &Job{
		ID:        id,
		CreatedAt: now,
		done:      make(chan struct{}),
	}
	for _, name := range names {
		j.files = append(j.files, &FileReport{Name: name, State: FileStatePending})
	}
	return j
}

// Done reports whether every file reached a terminal state.
func (j *Job) Done() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the job finishes.
func (j *Job) Wait() {
	<-j.done
}

// Cancel requests cooperative cancellation: workers stop between
// records, and unfinished files are marked failed. Files already in a
// terminal state keep their results.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// update applies fn to the file report at index under the job lock.
func (j *Job) update(index int, fn func(*FileReport)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(j.files[index])
}

// Snapshot returns a copy of the job state safe to serialize while
// workers are still running.
func (j *Job) Snapshot() *JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := &JobStatus{
		ID:        j.ID,
		CreatedAt: j.CreatedAt,
		Done:      j.Done(),
	}
	for _, f := range j.files {
		cp := *f
		cp.Errors = append([]RecordError(nil), f.Errors...)
		status.Files = append(status.Files, &cp)

		status.Summary.RecordsTotal += f.RecordsTotal
		status.Summary.RecordsAccepted += f.RecordsAccepted
		status.Summary.RecordsRejected += f.RecordsRejected
		status.Summary.AlertsCreated += f.AlertsCreated
		status.Summary.AlertsUpdated += f.AlertsUpdated
	}
	return status
}

// JobStatus is the externally visible view of a job.
type JobStatus struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
	Done      bool          `json:"done"`
	Files     []*FileReport `json:"files"`
	Summary   Summary       `json:"summary"`
}
