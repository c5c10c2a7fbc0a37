package docstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter persists a batch of activities.
type BatchInserter interface {
	BatchInsert(ctx context.Context, acts []Activity) error
}

// FlushObserver is told about every flush. Metrics implement it.
type FlushObserver interface {
	ObserveFlush(size int, err error)
	ObserveBuffered(n int)
}

// Collector buffers server-side activities and writes them in batches when
// the buffer reaches batchSize or every flushInterval, whichever comes first.
// Writes happen on the Start goroutine, so Record never blocks on Redis.
type Collector struct {
	store         BatchInserter
	observer      FlushObserver
	mu            sync.Mutex
	buffer        []Activity
	batchSize     int
	flushInterval time.Duration
	full          chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
}

// NewCollector creates a Collector. observer may be nil.
func NewCollector(store BatchInserter, observer FlushObserver, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Collector{
		store:         store,
		observer:      observer,
		buffer:        make([]Activity, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		full:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start flushes on a timer until Stop is called or ctx is cancelled, then
// flushes once more.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.full:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// Record buffers an activity and, when the batch is full, asks Start to
// flush.
func (c *Collector) Record(a Activity) {
	c.mu.Lock()
	c.buffer = append(c.buffer, a)
	n := len(c.buffer)
	if c.observer != nil {
		c.observer.ObserveBuffered(n)
	}
	c.mu.Unlock()

	if n >= c.batchSize {
		select {
		case c.full <- struct{}{}:
		default:
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Activity, 0, c.batchSize)
	if c.observer != nil {
		c.observer.ObserveBuffered(0)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.store.BatchInsert(ctx, batch)
	if err != nil {
		slog.Error("failed to flush activities", "count", len(batch), "error", err)
	}
	if c.observer != nil {
		c.observer.ObserveFlush(len(batch), err)
	}
}

// Stop ends Start after a final flush. It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
