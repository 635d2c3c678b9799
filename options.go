package connpager

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBatchWait is how long a loader collects keys before it runs a batch.
	DefaultBatchWait = 2 * time.Millisecond
)

// Option configures a child connection loader.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	wait        time.Duration
	capacity    int
	concurrency int
}

func newOptions(opts ...Option) options {
	ret := options{
		logger:      zap.NewNop(),
		wait:        DefaultBatchWait,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(&ret)
	}

	return ret
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBatchWait sets the batch window. Default is DefaultBatchWait.
func WithBatchWait(wait time.Duration) Option {
	return func(o *options) {
		o.wait = wait
	}
}

// WithBatchCapacity caps the number of keys of one batch. Zero means no cap.
func WithBatchCapacity(capacity int) Option {
	return func(o *options) {
		o.capacity = capacity
	}
}

// WithGroupConcurrency sets how many argument groups of one batch are queried
// at the same time. Default is 1. Keep it at 1 when the loader database handle
// is bound to a transaction: a transaction serves one query at a time.
func WithGroupConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}
