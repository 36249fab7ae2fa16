package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/pkg/receiptformat"
)

// Printer prints a receipt and reports why it failed
type Printer interface {
	PrintReceiptErr(ctx context.Context, doc *receiptformat.Receipt) error
}

// Runner records every print through the store
type Runner struct {
	store   *Store
	printer Printer
	now     func() time.Time
}

// NewRunner creates a runner printing through p
func NewRunner(store *Store, p Printer) *Runner {
	return &Runner{store: store, printer: p, now: time.Now}
}

// Print creates a job for doc and prints it. The returned error is the
// print failure, if any; the job is returned either way.
func (r *Runner) Print(ctx context.Context, doc *receiptformat.Receipt) (*Job, error) {
	now := r.now()
	job := &Job{
		ID:        uuid.New().String(),
		Status:    StatusQueued,
		Receipt:   doc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Put(job); err != nil {
		return nil, err
	}

	return r.run(ctx, job.ID)
}

// Retry prints the stored receipt of job id again
func (r *Runner) Retry(ctx context.Context, id string) (*Job, error) {
	return r.run(ctx, id)
}

// Get returns a job by ID
func (r *Runner) Get(id string) (*Job, error) {
	return r.store.Get(id)
}

// List returns all jobs, oldest first
func (r *Runner) List() ([]*Job, error) {
	return r.store.List()
}

// ClearCompleted removes completed jobs from the history
func (r *Runner) ClearCompleted() (int, error) {
	return r.store.ClearCompleted()
}

func (r *Runner) run(ctx context.Context, id string) (*Job, error) {
	job, err := r.store.Start(id, r.now())
	if err != nil {
		return job, err
	}

	printErr := r.printer.PrintReceiptErr(ctx, job.Receipt)

	job.UpdatedAt = r.now()
	if printErr != nil {
		kind := printer.KindOf(printErr)
		job.Status = StatusFailed
		job.Error = printErr.Error()
		job.ErrorKind = kind.String()
		job.Retryable = kind.Retryable()
		log.Warn().Err(printErr).Str("job", job.ID).Int("attempts", job.Attempts).Msg("print job failed")
	} else {
		job.Status = StatusCompleted
		log.Info().Str("job", job.ID).Msg("print job completed")
	}

	if err := r.store.Put(job); err != nil {
		log.Error().Err(err).Str("job", job.ID).Msg("failed to store job result")
	}
	return job, printErr
}
