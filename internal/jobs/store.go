// Package jobs keeps a history of print jobs so a failed receipt can be
// printed again without the caller resubmitting it
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/thereceipt/btprint/pkg/receiptformat"
)

const bucketJobs = "jobs"

// Status is the lifecycle state of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPrinting  Status = "printing"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrJobBusy  = errors.New("job is already printing")
)

// Job is one printReceipt invocation and its outcome
type Job struct {
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Receipt   *receiptformat.Receipt `json:"receipt"`
	ID        string                 `json:"id"`
	Status    Status                 `json:"status"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Attempts  int                    `json:"attempts"`
	Retryable bool                   `json:"retryable"`
}

// Store persists jobs in a bbolt database
type Store struct {
	db *bolt.DB
}

// Open opens or creates the job database at path. Jobs left printing by a
// previous process are marked failed.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketJobs))
		if err != nil {
			return err
		}

		return b.ForEach(func(k, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to unmarshal job %s: %w", k, err)
			}
			if job.Status != StatusPrinting && job.Status != StatusQueued {
				return nil
			}
			job.Status = StatusFailed
			job.Error = "interrupted"
			job.Retryable = true
			data, err := json.Marshal(job)
			if err != nil {
				return err
			}
			return b.Put(k, data)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to initialise job bucket: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close bolt database: %w", err)
	}
	return nil
}

// Put inserts or replaces a job
func (s *Store) Put(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketJobs)).Put([]byte(job.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

// Start marks job id as printing and counts the attempt. It fails with
// ErrJobBusy if the job is already printing, so only one caller can claim it.
func (s *Store) Start(id string, at time.Time) (*Job, error) {
	var job *Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketJobs))
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		job = &Job{}
		if err := json.Unmarshal(v, job); err != nil {
			return err
		}
		if job.Status == StatusPrinting {
			return ErrJobBusy
		}

		job.Status = StatusPrinting
		job.Attempts++
		job.Error = ""
		job.ErrorKind = ""
		job.Retryable = false
		job.UpdatedAt = at
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		if !errors.Is(err, ErrJobBusy) {
			job = nil
		}
		return job, fmt.Errorf("job %s: %w", id, err)
	}
	return job, nil
}

// Get returns the job with id
func (s *Store) Get(id string) (*Job, error) {
	var job *Job
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketJobs)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		job = &Job{}
		return json.Unmarshal(v, job)
	})
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return job, nil
}

// List returns all jobs, oldest first
func (s *Store) List() ([]*Job, error) {
	jobs := make([]*Job, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketJobs)).ForEach(func(k, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to unmarshal job %s: %w", k, err)
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return jobs, fmt.Errorf("failed to view bolt database: %w", err)
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ClearCompleted removes completed jobs and returns how many were removed
func (s *Store) ClearCompleted() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketJobs))

		var done [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status == StatusCompleted {
				done = append(done, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range done {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(done)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear completed jobs: %w", err)
	}
	return removed, nil
}
