package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/pkg/receiptformat"
)

type printerFunc func(ctx context.Context, doc *receiptformat.Receipt) error

func (f printerFunc) PrintReceiptErr(ctx context.Context, doc *receiptformat.Receipt) error {
	return f(ctx, doc)
}

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func receipt(trx string) *receiptformat.Receipt {
	return &receiptformat.Receipt{
		Items:         []receiptformat.Item{{Name: "Kopi", Quantity: 2, UnitPrice: 15000}},
		Total:         30000,
		PaymentMethod: receiptformat.PaymentCash,
		TransactionID: trx,
		Date:          time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
	}
}

func steppingClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRunnerPrintCompleted(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	var printed []string
	r := NewRunner(store, printerFunc(func(_ context.Context, doc *receiptformat.Receipt) error {
		printed = append(printed, doc.TransactionID)
		return nil
	}))

	job, err := r.Print(context.Background(), receipt("TRX-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, []string{"TRX-1"}, printed)

	stored, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, "TRX-1", stored.Receipt.TransactionID)
	assert.Equal(t, int64(30000), stored.Receipt.Total)
}

func TestRunnerPrintFailedThenRetry(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	fail := true
	calls := 0
	r := NewRunner(store, printerFunc(func(_ context.Context, doc *receiptformat.Receipt) error {
		calls++
		if fail {
			return &printer.Error{Kind: printer.KindWriteFailed, Op: "print", Err: printer.ErrWriteFailed}
		}
		return nil
	}))

	job, err := r.Print(context.Background(), receipt("TRX-2"))
	require.ErrorIs(t, err, printer.ErrWriteFailed)
	require.NotNil(t, job)

	stored, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "write_failed", stored.ErrorKind)
	assert.True(t, stored.Retryable)
	assert.NotEmpty(t, stored.Error)

	fail = false
	retried, err := r.Retry(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, retried.Status)
	assert.Equal(t, 2, retried.Attempts)
	assert.Empty(t, retried.Error)
	assert.Equal(t, 2, calls)

	all, err := r.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunnerUnavailableNotRetryable(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	r := NewRunner(store, printerFunc(func(context.Context, *receiptformat.Receipt) error {
		return fmt.Errorf("print: %w", printer.ErrUnavailable)
	}))

	job, err := r.Print(context.Background(), receipt("TRX-3"))
	require.Error(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "environment_unavailable", job.ErrorKind)
	assert.False(t, job.Retryable)
}

func TestRunnerRetryUnknown(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	r := NewRunner(store, printerFunc(func(context.Context, *receiptformat.Receipt) error { return nil }))

	_, err := r.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunnerRetryBusy(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	require.NoError(t, store.Put(&Job{ID: "busy", Status: StatusPrinting, Receipt: receipt("TRX-4")}))

	r := NewRunner(store, printerFunc(func(context.Context, *receiptformat.Receipt) error {
		return errors.New("should not print")
	}))

	_, err := r.Retry(context.Background(), "busy")
	assert.ErrorIs(t, err, ErrJobBusy)
}

func TestRunnerConcurrentRetryPrintsOnce(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	require.NoError(t, store.Put(&Job{ID: "failed", Status: StatusFailed, Receipt: receipt("TRX-5")}))

	release := make(chan struct{})
	var calls atomic.Int32
	r := NewRunner(store, printerFunc(func(context.Context, *receiptformat.Receipt) error {
		calls.Add(1)
		<-release
		return nil
	}))

	const retries = 8
	var busy atomic.Int32
	var wg sync.WaitGroup
	for range retries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Retry(context.Background(), "failed"); errors.Is(err, ErrJobBusy) {
				busy.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool {
		return busy.Load() == retries-1
	}, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	job, err := store.Get("failed")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestStoreStart(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	require.NoError(t, store.Put(&Job{
		ID:        "j1",
		Status:    StatusFailed,
		Error:     "write failed",
		ErrorKind: "write_failed",
		Retryable: true,
		Receipt:   receipt("TRX-6"),
	}))

	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	job, err := store.Start("j1", at)
	require.NoError(t, err)
	assert.Equal(t, StatusPrinting, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Empty(t, job.Error)
	assert.False(t, job.Retryable)
	assert.True(t, at.Equal(job.UpdatedAt))

	job, err = store.Start("j1", at)
	require.ErrorIs(t, err, ErrJobBusy)
	assert.Equal(t, 1, job.Attempts)

	_, err = store.Start("missing", at)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListAndClear(t *testing.T) {
	t.Parallel()

	store, _ := openStore(t)
	r := NewRunner(store, printerFunc(func(_ context.Context, doc *receiptformat.Receipt) error {
		if doc.TransactionID == "bad" {
			return printer.ErrNotConnected
		}
		return nil
	}))
	r.now = steppingClock()

	for _, trx := range []string{"a", "bad", "c"} {
		_, _ = r.Print(context.Background(), receipt(trx))
	}

	all, err := r.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Receipt.TransactionID)
	assert.Equal(t, "bad", all[1].Receipt.TransactionID)
	assert.Equal(t, "c", all[2].Receipt.TransactionID)

	removed, err := r.ClearCompleted()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err = r.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusFailed, all[0].Status)
}

func TestOpenMarksInterruptedJobs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(&Job{ID: "stuck", Status: StatusPrinting, Receipt: receipt("x")}))
	require.NoError(t, store.Put(&Job{ID: "done", Status: StatusCompleted, Receipt: receipt("y")}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	stuck, err := store.Get("stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stuck.Status)
	assert.Equal(t, "interrupted", stuck.Error)
	assert.True(t, stuck.Retryable)

	done, err := store.Get("done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
}
