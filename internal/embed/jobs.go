package embed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	ragerrors "github.com/trueup-laplace/ragengine/internal/errors"
)

// JobState is the lifecycle state of an embedding job.
type JobState string

const (
	// JobPending means the job is queued but not yet running.
	JobPending JobState = "pending"
	// JobProcessing means chunks are being embedded.
	JobProcessing JobState = "processing"
	// JobCompleted means every chunk was embedded.
	JobCompleted JobState = "completed"
	// JobFailed means the retry budget was exhausted.
	JobFailed JobState = "failed"
	// JobCancelled means the job was cancelled before completion.
	JobCancelled JobState = "cancelled"
)

// ChunkInput is one chunk submitted for embedding.
type ChunkInput struct {
	ID   string
	Text string
}

// Callbacks receive job progress. OnChunkEmbedded fires per chunk as
// soon as its vector exists, so partially embedded documents become
// searchable without waiting for the whole job. All callbacks run on
// worker goroutines and must be safe for concurrent use.
type Callbacks struct {
	OnChunkEmbedded func(documentID, chunkID string, vector []float32)
	OnCompleted     func(documentID string, attempts int)
	OnFailed        func(documentID string, attempts int, err error)
}

// JobStatus is a point-in-time snapshot of a job.
type JobStatus struct {
	DocumentID     string   `json:"document_id"`
	State          JobState `json:"state"`
	TotalChunks    int      `json:"total_chunks"`
	EmbeddedChunks int      `json:"embedded_chunks"`
	Attempts       int      `json:"attempts"`
	FailureReason  string   `json:"failure_reason,omitempty"`
}

// Job tracks one document's embedding work.
type Job struct {
	documentID string
	cancel     context.CancelFunc
	done       chan struct{}

	mu       sync.Mutex
	state    JobState
	total    int
	embedded int
	attempts int
	failure  string
}

// Status returns a snapshot of the job.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatus{
		DocumentID:     j.documentID,
		State:          j.state,
		TotalChunks:    j.total,
		EmbeddedChunks: j.embedded,
		Attempts:       j.attempts,
		FailureReason:  j.failure,
	}
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduler runs embedding jobs with bounded concurrency. One job
// covers one document; submitting a document that already has an active
// job returns the existing handle instead of starting a second one.
type Scheduler struct {
	embedder Embedder
	retry    ragerrors.RetryConfig
	workers  *semaphore.Weighted
	cb       Callbacks
	logger   *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool
}

// NewScheduler creates a scheduler with the given worker limit.
// workers <= 0 selects 1. The retry config bounds attempts per job.
func NewScheduler(embedder Embedder, workers int, retry ragerrors.RetryConfig, cb Callbacks, logger *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if retry.MaxAttempts < 1 {
		retry = ragerrors.DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		embedder: embedder,
		retry:    retry,
		workers:  semaphore.NewWeighted(int64(workers)),
		cb:       cb,
		logger:   logger.With("component", "embed_scheduler"),
		baseCtx:  ctx,
		stop:     cancel,
		jobs:     make(map[string]*Job),
	}
}

// Submit queues embedding work for a document's chunks. If a job for
// the document is already pending or processing, that job is returned.
func (s *Scheduler) Submit(documentID string, chunks []ChunkInput) (*Job, error) {
	if documentID == "" {
		return nil, ragerrors.ValidationError("document id is required", nil)
	}
	if len(chunks) == 0 {
		return nil, ragerrors.ValidationError("no chunks to embed", nil)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ragerrors.New(ragerrors.ErrCodeInternal, "scheduler is shut down", nil)
	}
	if existing, ok := s.jobs[documentID]; ok {
		st := existing.Status().State
		if st == JobPending || st == JobProcessing {
			s.mu.Unlock()
			return existing, nil
		}
	}

	jobCtx, cancel := context.WithCancel(s.baseCtx)
	job := &Job{
		documentID: documentID,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      JobPending,
		total:      len(chunks),
	}
	s.jobs[documentID] = job
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(jobCtx, job, chunks)
	return job, nil
}

// Poll returns the status of the document's most recent job.
func (s *Scheduler) Poll(documentID string) (JobStatus, bool) {
	s.mu.Lock()
	job, ok := s.jobs[documentID]
	s.mu.Unlock()
	if !ok {
		return JobStatus{}, false
	}
	return job.Status(), true
}

// Active returns the number of jobs that are pending or processing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		st := job.Status().State
		if st == JobPending || st == JobProcessing {
			n++
		}
	}
	return n
}

// Cancel stops the document's job if one is in flight. Vectors already
// reported through OnChunkEmbedded are the caller's to discard.
func (s *Scheduler) Cancel(documentID string) bool {
	s.mu.Lock()
	job, ok := s.jobs[documentID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	st := job.Status().State
	if st != JobPending && st != JobProcessing {
		return false
	}
	job.cancel()
	return true
}

// CancelAndWait cancels the document's job and blocks until the worker
// has stopped, so no callback can fire after it returns. Returns nil
// when no job is in flight.
func (s *Scheduler) CancelAndWait(ctx context.Context, documentID string) error {
	s.mu.Lock()
	job, ok := s.jobs[documentID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	job.cancel()
	return job.Wait(ctx)
}

// Forget drops the job record for a document. Used after deletion so a
// re-upload starts from a clean slate.
func (s *Scheduler) Forget(documentID string) {
	s.mu.Lock()
	delete(s.jobs, documentID)
	s.mu.Unlock()
}

// Close cancels all jobs and waits for workers to drain.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
}

// run executes one job: acquire a worker slot, embed batch by batch
// with retries, report progress through the callbacks.
func (s *Scheduler) run(ctx context.Context, job *Job, chunks []ChunkInput) {
	defer s.wg.Done()
	defer job.cancel()
	defer close(job.done)

	if err := s.workers.Acquire(ctx, 1); err != nil {
		s.finish(job, JobCancelled, err)
		return
	}
	defer s.workers.Release(1)

	job.mu.Lock()
	job.state = JobProcessing
	job.mu.Unlock()

	retry := s.retry
	retry.OnAttempt = func(attempt int, err error) {
		job.mu.Lock()
		job.attempts = attempt
		job.mu.Unlock()
		s.logger.Warn("embedding attempt failed",
			"document_id", job.documentID,
			"attempt", attempt,
			"error", err)
	}

	// Chunks already embedded on a previous attempt are not redone.
	remaining := chunks
	err := ragerrors.Retry(ctx, retry, func() error {
		var embedErr error
		remaining, embedErr = s.embedChunks(ctx, job, remaining)
		return embedErr
	})

	switch {
	case err == nil:
		s.finish(job, JobCompleted, nil)
	case errors.Is(err, context.Canceled):
		s.finish(job, JobCancelled, err)
	default:
		s.finish(job, JobFailed, err)
	}
}

// embedChunks embeds the given chunks in backend-sized batches and
// returns the chunks still outstanding when an error stops the pass.
func (s *Scheduler) embedChunks(ctx context.Context, job *Job, chunks []ChunkInput) ([]ChunkInput, error) {
	batchSize := DefaultBatchSize

	for len(chunks) > 0 {
		n := batchSize
		if n > len(chunks) {
			n = len(chunks)
		}
		batch := chunks[:n]

		texts := make([]string, n)
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return chunks, err
		}

		// A backend may return a batch that was already in flight when
		// the job was cancelled. Discard it instead of reporting vectors
		// for a document that is being torn down.
		if err := ctx.Err(); err != nil {
			return chunks, err
		}

		for i, c := range batch {
			if s.cb.OnChunkEmbedded != nil {
				s.cb.OnChunkEmbedded(job.documentID, c.ID, vectors[i])
			}
		}
		job.mu.Lock()
		job.embedded += n
		job.mu.Unlock()

		chunks = chunks[n:]
	}
	return nil, nil
}

// finish records the terminal state and fires the matching callback.
func (s *Scheduler) finish(job *Job, state JobState, err error) {
	job.mu.Lock()
	job.state = state
	// attempts so far counts failed tries; a completed job used one more.
	if state == JobCompleted {
		job.attempts++
	} else if job.attempts == 0 {
		job.attempts = 1
	}
	attempts := job.attempts
	if err != nil {
		job.failure = err.Error()
	}
	job.mu.Unlock()

	switch state {
	case JobCompleted:
		s.logger.Info("embedding job completed",
			"document_id", job.documentID,
			"chunks", job.total,
			"attempts", attempts)
		if s.cb.OnCompleted != nil {
			s.cb.OnCompleted(job.documentID, attempts)
		}
	case JobFailed:
		s.logger.Error("embedding job failed",
			"document_id", job.documentID,
			"attempts", attempts,
			"error", err)
		if s.cb.OnFailed != nil {
			s.cb.OnFailed(job.documentID, attempts, err)
		}
	case JobCancelled:
		s.logger.Debug("embedding job cancelled", "document_id", job.documentID)
	}
}
