package indexer

import (
	"sync"
	"time"
)

// Document is one pending unit of work: a graph node accepted for indexing.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// BatchQueueConfig controls flush cadence (spec.md §4.4 batch queue contract).
type BatchQueueConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxQueueSize  int
}

func (c BatchQueueConfig) withDefaults() BatchQueueConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	return c
}

// FlushFunc processes one accumulated batch.
type FlushFunc func(batch []Document)

// BatchQueue accumulates documents and flushes them when batch_size is
// reached, flush_interval elapses, or Stop is called. Enqueue blocks once
// MaxQueueSize in-flight documents are buffered, applying backpressure to
// the caller (the bus consumer).
type BatchQueue struct {
	cfg   BatchQueueConfig
	flush FlushFunc

	mu      sync.Mutex
	pending []Document
	sem     chan struct{}

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBatchQueue constructs a BatchQueue and starts its flush-interval timer
// goroutine. Call Stop to flush any remainder and stop the timer.
func NewBatchQueue(cfg BatchQueueConfig, flush FlushFunc) *BatchQueue {
	cfg = cfg.withDefaults()
	q := &BatchQueue{
		cfg:     cfg,
		flush:   flush,
		sem:     make(chan struct{}, cfg.MaxQueueSize),
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// Enqueue adds a document, blocking if MaxQueueSize in-flight documents are
// already buffered.
func (q *BatchQueue) Enqueue(doc Document) {
	q.sem <- struct{}{}
	q.mu.Lock()
	q.pending = append(q.pending, doc)
	full := len(q.pending) >= q.cfg.BatchSize
	q.mu.Unlock()
	if full {
		select {
		case q.flushCh <- struct{}{}:
		default:
		}
	}
}

func (q *BatchQueue) loop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.flushNow()
		case <-q.flushCh:
			q.flushNow()
		case <-q.done:
			q.flushNow()
			return
		}
	}
}

func (q *BatchQueue) flushNow() {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.flush(batch)
	for range batch {
		<-q.sem
	}
}

// Stop flushes any remaining documents and stops the background loop.
func (q *BatchQueue) Stop() {
	close(q.done)
	q.wg.Wait()
}
