// Package persistence batches high-frequency appends (price movement log,
// instrument price rows, trade revaluations) into periodic transactions.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"simtrade-core/pkg/db"
)

// BatchWriter batches database writes for improved performance. Batches
// commit in submission order.
type BatchWriter struct {
	db          *db.Database
	log         *zap.Logger
	buffer      []db.Stmt
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool
	wg          sync.WaitGroup

	totalWrites   atomic.Uint64
	totalBatches  atomic.Uint64
	totalErrors   atomic.Uint64
	lastBatchSize atomic.Int64
	lastFlushNano atomic.Int64
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
	Pending       int       `json:"pending"`
}

// NewBatchWriter creates a batch writer.
// maxSize: max statements before auto-flush
// interval: time-based flush interval
func NewBatchWriter(database *db.Database, log *zap.Logger, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	bw := &BatchWriter{
		db:          database,
		log:         log.With(zap.String("component", "batch_writer")),
		buffer:      make([]db.Stmt, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write adds a statement to the batch.
func (bw *BatchWriter) Write(s db.Stmt) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, s)
	shouldFlush := len(bw.buffer) >= bw.maxSize || bw.closed.Load()
	bw.mu.Unlock()

	if shouldFlush {
		_ = bw.Flush()
	}
}

// Flush immediately writes all buffered statements to the database.
func (bw *BatchWriter) Flush() error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]db.Stmt, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ops)
}

// executeBatch runs a batch of statements in a transaction.
func (bw *BatchWriter) executeBatch(ops []db.Stmt) error {
	bw.totalWrites.Add(uint64(len(ops)))
	bw.totalBatches.Add(1)
	bw.lastBatchSize.Store(int64(len(ops)))
	bw.lastFlushNano.Store(time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := bw.db.Exec(ctx, ops...); err != nil {
		bw.totalErrors.Add(1)
		bw.log.Error("❌ batch rolled back", zap.Int("ops", len(ops)), zap.Error(err))
		return err
	}

	bw.log.Debug("💾 batch flushed", zap.Int("ops", len(ops)))
	return nil
}

// backgroundFlush periodically flushes the buffer.
func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				bw.log.Warn("⚠️ background flush error", zap.Error(err))
			}
		case <-bw.done:
			// Final flush before shutdown
			if err := bw.Flush(); err != nil {
				bw.log.Warn("⚠️ final flush error", zap.Error(err))
			}
			return
		}
	}
}

// Pending returns the number of pending statements.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	m := BatchWriterMetrics{
		TotalWrites:   bw.totalWrites.Load(),
		TotalBatches:  bw.totalBatches.Load(),
		TotalErrors:   bw.totalErrors.Load(),
		LastBatchSize: int(bw.lastBatchSize.Load()),
		Pending:       bw.Pending(),
	}
	if n := bw.lastFlushNano.Load(); n > 0 {
		m.LastFlushTime = time.Unix(0, n)
	}
	return m
}

// Close flushes what is buffered and stops the background loop. Writes
// after Close are flushed synchronously.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() {
		bw.closed.Store(true)
		close(bw.done)
	})
	bw.wg.Wait()
	return bw.Flush()
}
