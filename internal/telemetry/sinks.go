// Package telemetry drains the two chain telemetry queues into durable
// storage. The store sink writes every annotated chain as it arrives; the all
// sink accumulates evaluation batches and flushes them in bulk so the
// high-volume stream costs one transaction per flush.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"triarb/internal/bus"
	"triarb/internal/metrics"
	"triarb/pkg/types"
)

const (
	flushInterval = 10 * time.Second
	flushTimeout  = 5 * time.Second
)

// ChainWriter persists a single annotated chain.
type ChainWriter interface {
	Put(ctx context.Context, c *types.Chain) error
}

// ChainBatchWriter persists a batch of evaluated chains.
type ChainBatchWriter interface {
	PutBatch(ctx context.Context, chains []*types.Chain) error
}

// StoreSink drains the annotated-chain queue. These are the chains the trade
// manager has already judged, so each carries a comment worth keeping; they
// are written one by one as they arrive.
type StoreSink struct {
	bus    *bus.Bus
	writer ChainWriter
	logger *slog.Logger
}

// NewStoreSink wires the annotated-chain sink.
func NewStoreSink(b *bus.Bus, w ChainWriter, logger *slog.Logger) *StoreSink {
	return &StoreSink{
		bus:    b,
		writer: w,
		logger: logger.With("component", "store-sink"),
	}
}

// Run blocks until ctx is cancelled. A failed write is logged and dropped;
// telemetry never stalls the pipeline.
func (s *StoreSink) Run(ctx context.Context) {
	s.logger.Info("store sink started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("store sink stopped")
			return
		case c := <-s.bus.StoreCycles():
			if c == nil {
				continue
			}
			if err := s.writer.Put(ctx, c); err != nil {
				s.logger.Error("chain write failed", "uid", c.UID(), "err", err)
				continue
			}
			metrics.ChainsStored.WithLabelValues("store").Inc()
		}
	}
}

// AllSink drains the evaluated-chains queue. Batches accumulate until
// maxBatch chains are pending (or the flush interval fires) and are then
// written in one transaction. On shutdown the pending tail is flushed with a
// short grace timeout.
type AllSink struct {
	bus      *bus.Bus
	writer   ChainBatchWriter
	maxBatch int
	logger   *slog.Logger

	pending []*types.Chain
}

// NewAllSink wires the evaluated-chains sink. maxBatch below 1 falls back
// to 100.
func NewAllSink(b *bus.Bus, w ChainBatchWriter, maxBatch int, logger *slog.Logger) *AllSink {
	if maxBatch < 1 {
		maxBatch = 100
	}
	return &AllSink{
		bus:      b,
		writer:   w,
		maxBatch: maxBatch,
		logger:   logger.With("component", "all-sink"),
	}
}

// Run blocks until ctx is cancelled, then flushes what is pending.
func (s *AllSink) Run(ctx context.Context) {
	s.logger.Info("all sink started", "max_batch", s.maxBatch)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finalFlush()
			s.logger.Info("all sink stopped")
			return
		case batch := <-s.bus.AllCycles():
			s.pending = append(s.pending, batch...)
			if len(s.pending) >= s.maxBatch {
				s.flush(ctx)
			}
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *AllSink) flush(ctx context.Context) {
	if len(s.pending) == 0 {
		return
	}
	n := len(s.pending)
	if err := s.writer.PutBatch(ctx, s.pending); err != nil {
		s.logger.Error("batch write failed, dropping batch", "chains", n, "err", err)
	} else {
		metrics.ChainsStored.WithLabelValues("all").Add(float64(n))
	}
	s.pending = s.pending[:0]
}

// finalFlush runs after ctx is cancelled, so it gets its own deadline.
func (s *AllSink) finalFlush() {
	if len(s.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	s.flush(ctx)
}
