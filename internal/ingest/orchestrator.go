package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/alerting"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/normalize"
	"github.com/opensource-finance/harrier/internal/parser"
)

// UploadFile is one file of an upload request.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Data        io.Reader
}

// Orchestrator drives upload jobs through the pipeline. Files of one
// job run concurrently on a bounded worker pool; records within a file
// are processed strictly in order.
type Orchestrator struct {
	store     domain.Store
	history   *detect.HistoryService
	engine    *detect.Engine
	generator *alerting.Generator
	bus       domain.EventBus

	maxFileBytes int64
	workers      chan struct{}

	opTimeout    time.Duration
	maxRetries   int
	retryBackoff time.Duration

	mu   sync.RWMutex
	jobs map[string]*Job

	now func() time.Time
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(
	cfg *domain.Config,
	store domain.Store,
	history *detect.HistoryService,
	engine *detect.Engine,
	generator *alerting.Generator,
	bus domain.EventBus,
) *Orchestrator {
	workers := cfg.Ingest.FileWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		store:        store,
		history:      history,
		engine:       engine,
		generator:    generator,
		bus:          bus,
		maxFileBytes: cfg.Ingest.MaxFileBytes,
		workers:      make(chan struct{}, workers),
		opTimeout:    cfg.Store.OpTimeout,
		maxRetries:   cfg.Store.MaxRetries,
		retryBackoff: cfg.Store.RetryBackoff,
		jobs:         make(map[string]*Job),
		now:          time.Now,
	}
}

// Submit registers an upload job and starts processing its files in
// the background. The returned job can be polled via GetJob or waited
// on with Job.Wait.
func (o *Orchestrator) Submit(ctx context.Context, files []UploadFile) (*Job, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("upload contains no files")
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	job := newJob(uuid.NewString(), o.now().UTC(), names)

	// The job carries its own cancel so a caller (or the cancel
	// endpoint) can stop it independently of the submission context.
	jobCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	var wg sync.WaitGroup
	for i := range files {
		wg.Add(1)
		go func(index int, file UploadFile) {
			defer wg.Done()
			o.workers <- struct{}{}
			defer func() { <-o.workers }()
			o.processFile(jobCtx, job, index, file)
		}(i, files[i])
	}
	go func() {
		wg.Wait()
		cancel()
		close(job.done)
	}()

	return job, nil
}

// CancelJob requests cooperative cancellation of a running job and
// reports whether the job exists. Cancelling a finished job is a no-op.
func (o *Orchestrator) CancelJob(id string) bool {
	o.mu.RLock()
	job, ok := o.jobs[id]
	o.mu.RUnlock()
	if ok {
		job.Cancel()
	}
	return ok
}

// GetJob returns a previously submitted job, or false.
func (o *Orchestrator) GetJob(id string) (*Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[id]
	return job, ok
}

func (o *Orchestrator) processFile(ctx context.Context, job *Job, index int, file UploadFile) {
	fail := func(reason string) {
		job.update(index, func(r *FileReport) {
			r.State = FileStateFailed
			r.Failure = reason
		})
		o.publishFileEvent(ctx, domain.TopicFileFailed, job.ID, file.Name, reason)
		slog.Warn("file failed",
			"job_id", job.ID,
			"file", file.Name,
			"reason", reason,
		)
	}

	if o.maxFileBytes > 0 && file.Size > o.maxFileBytes {
		err := &domain.FileTooLargeError{Name: file.Name, Size: file.Size, Limit: o.maxFileBytes}
		fail(err.Error())
		return
	}

	format, err := parser.DetectFormat(file.Name, file.ContentType)
	if err != nil {
		fail(err.Error())
		return
	}
	job.update(index, func(r *FileReport) {
		r.Format = format
		r.State = FileStateParsing
	})
	o.publishFileEvent(ctx, domain.TopicFileAccepted, job.ID, file.Name, "")

	// The xlsx reader needs the whole payload; buffering here also
	// enforces the size ceiling for requests that omit Content-Length.
	data, err := o.readAll(file)
	if err != nil {
		fail(err.Error())
		return
	}

	scanner, err := parser.Parse(format, bytes.NewReader(data))
	if err != nil {
		fail(err.Error())
		return
	}

	norm := normalize.New()
	job.update(index, func(r *FileReport) { r.State = FileStateScoring })

	accepted := 0
	for {
		if err := ctx.Err(); err != nil {
			fail("cancelled: " + err.Error())
			return
		}

		rec, recIndex, err := scanner.Scan()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *domain.ParseError
			if errors.As(err, &pe) && !pe.Fatal {
				job.update(index, func(r *FileReport) {
					r.RecordsTotal++
					r.RecordsRejected++
					r.Errors = append(r.Errors, RecordError{Index: recIndex, Reason: pe.Reason})
				})
				continue
			}
			fail(err.Error())
			return
		}

		job.update(index, func(r *FileReport) { r.RecordsTotal++ })

		tx, err := norm.Normalize(rec)
		if err != nil {
			job.update(index, func(r *FileReport) {
				r.RecordsRejected++
				r.Errors = append(r.Errors, RecordError{Index: recIndex, Reason: err.Error()})
			})
			continue
		}

		if err := o.processRecord(ctx, job, index, tx); err != nil {
			job.update(index, func(r *FileReport) {
				r.RecordsRejected++
				r.Errors = append(r.Errors, RecordError{Index: recIndex, Reason: err.Error()})
			})
			continue
		}

		accepted++
		job.update(index, func(r *FileReport) { r.RecordsAccepted++ })
	}

	if accepted == 0 {
		fail("no records survived parsing and validation")
		return
	}

	job.update(index, func(r *FileReport) { r.State = FileStateCompleted })
	o.publishFileEvent(ctx, domain.TopicFileCompleted, job.ID, file.Name, "")
}

// processRecord scores and persists one normalized transaction, then
// feeds it to the alert generator.
func (o *Orchestrator) processRecord(ctx context.Context, job *Job, index int, tx *domain.Transaction) error {
	hist, err := o.history.Load(ctx, tx)
	if err != nil {
		// Scoring proceeds on partial context; the transaction carries
		// the scoring_incomplete flag so reviewers can re-score later.
		slog.Warn("history load incomplete",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	o.engine.Annotate(tx, hist)

	job.update(index, func(r *FileReport) { r.State = FileStatePersisting })
	if err := o.persistWithRetry(ctx, tx); err != nil {
		return err
	}
	job.update(index, func(r *FileReport) { r.State = FileStateScoring })

	o.history.Invalidate(ctx, tx.FromAccount, tx.ToAccount)
	o.publishScored(ctx, tx)

	outcome, _, err := o.generator.Process(ctx, tx)
	if err != nil {
		// The transaction is stored and scored; a failed alert write is
		// logged rather than rejecting the record.
		slog.Error("alert generation failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return nil
	}
	switch outcome {
	case alerting.OutcomeCreated:
		job.update(index, func(r *FileReport) { r.AlertsCreated++ })
	case alerting.OutcomeMerged:
		job.update(index, func(r *FileReport) { r.AlertsUpdated++ })
	}
	return nil
}

// persistWithRetry writes the transaction with bounded retry and
// backoff. Exhausted retries surface as a PersistenceError, which the
// caller records as a per-record failure.
func (o *Orchestrator) persistWithRetry(ctx context.Context, tx *domain.Transaction) error {
	attempts := o.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return &domain.PersistenceError{Op: "put_transaction", Attempts: i, Err: ctx.Err()}
			case <-time.After(o.retryBackoff * time.Duration(i)):
			}
		}

		opCtx := ctx
		var cancel context.CancelFunc
		if o.opTimeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, o.opTimeout)
		}
		lastErr = o.store.PutTransaction(opCtx, tx)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			return nil
		}
	}
	return &domain.PersistenceError{Op: "put_transaction", Attempts: attempts, Err: lastErr}
}

func (o *Orchestrator) readAll(file UploadFile) ([]byte, error) {
	r := file.Data
	if o.maxFileBytes > 0 {
		r = io.LimitReader(r, o.maxFileBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
	}
	if o.maxFileBytes > 0 && int64(len(data)) > o.maxFileBytes {
		return nil, &domain.FileTooLargeError{Name: file.Name, Size: int64(len(data)), Limit: o.maxFileBytes}
	}
	return data, nil
}

func (o *Orchestrator) publishFileEvent(ctx context.Context, topic, jobID, name, reason string) {
	if o.bus == nil {
		return
	}
	payload := []byte(fmt.Sprintf(`{"jobId":%q,"file":%q,"reason":%q}`, jobID, name, reason))
	if err := o.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish file event", "topic", topic, "error", err)
	}
}

func (o *Orchestrator) publishScored(ctx context.Context, tx *domain.Transaction) {
	if o.bus == nil {
		return
	}
	payload := []byte(fmt.Sprintf(`{"txId":%q,"riskScore":%g,"status":%q}`, tx.ID, tx.RiskScore, tx.Status))
	if err := o.bus.Publish(ctx, domain.TopicTxScored, payload); err != nil {
		slog.Warn("failed to publish scored event", "tx_id", tx.ID, "error", err)
	}
}
