package store

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/tfraser/riverwatch/internal/metrics"
	"github.com/tfraser/riverwatch/internal/models"
)

// MaxBatchOps is the hard ceiling on operations per atomic commit. It
// mirrors the backing provider's transactional batch limit and is an
// external contract, not a tunable.
const MaxBatchOps = 500

// MergeDailyOp merges a set of daily means into one station's yearly
// document. Merge, never overwrite: re-running aggregation for an
// already-processed range is idempotent.
type MergeDailyOp struct {
	Provider      models.Provider
	StationCode   string
	Year          int
	DailyReadings map[string]models.DailyMean
}

func (op MergeDailyOp) DocID() string {
	return fmt.Sprintf("%s_%s", op.Provider, op.StationCode)
}

// BatchCommitError reports an atomically rolled-back batch. None of the
// batch's operations were applied; batches committed before or after it
// are unaffected.
type BatchCommitError struct {
	Batch int
	Ops   int
	Err   error
}

func (e *BatchCommitError) Error() string {
	return fmt.Sprintf("commit batch %d (%d ops): %v", e.Batch, e.Ops, e.Err)
}

func (e *BatchCommitError) Unwrap() error { return e.Err }

// BatchWriter accumulates merge operations and commits them in bounded
// atomic batches. Callers see only Enqueue and Finalize; flush-and-reset
// mechanics at the ceiling are internal. Not safe for concurrent use:
// each job run owns its own writer.
type BatchWriter struct {
	store        *Store
	clock        clockwork.Clock
	ops          []MergeDailyOp
	committed    int
	committedOps int
}

func (s *Store) NewBatchWriter(clock clockwork.Clock) *BatchWriter {
	return &BatchWriter{store: s, clock: clock}
}

// Enqueue buffers one operation, committing the current batch when the
// buffer reaches the ceiling. An error is the failure of that full
// batch; the buffer is cleared either way so later operations land in a
// fresh batch.
func (w *BatchWriter) Enqueue(op MergeDailyOp) error {
	w.ops = append(w.ops, op)
	if len(w.ops) >= MaxBatchOps {
		return w.flush()
	}
	return nil
}

// Finalize commits any remaining partial batch.
func (w *BatchWriter) Finalize() error {
	if len(w.ops) == 0 {
		return nil
	}
	return w.flush()
}

// CommittedBatches is the number of batches committed so far.
func (w *BatchWriter) CommittedBatches() int { return w.committed }

// CommittedOps is the total operations applied across committed batches.
func (w *BatchWriter) CommittedOps() int { return w.committedOps }

func (w *BatchWriter) flush() error {
	ops := w.ops
	w.ops = nil
	batch := w.committed + 1

	tx, err := w.store.db.Begin()
	if err != nil {
		return &BatchCommitError{Batch: batch, Ops: len(ops), Err: err}
	}

	now := w.clock.Now()
	for _, op := range ops {
		if err := applyMergeDaily(tx, op, now); err != nil {
			tx.Rollback()
			return &BatchCommitError{Batch: batch, Ops: len(ops), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &BatchCommitError{Batch: batch, Ops: len(ops), Err: err}
	}

	w.committed++
	w.committedOps += len(ops)
	metrics.BatchCommitsTotal.Inc()
	metrics.BatchOpsTotal.Add(float64(len(ops)))
	return nil
}
