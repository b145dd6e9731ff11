package indexer

import (
	"sync"
	"testing"
	"time"
)

func TestBatchQueueFlushesOnBatchSize(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]Document
	q := NewBatchQueue(BatchQueueConfig{BatchSize: 2, FlushInterval: time.Hour}, func(batch []Document) {
		mu.Lock()
		flushed = append(flushed, batch)
		mu.Unlock()
	})
	defer q.Stop()

	q.Enqueue(Document{ID: "a"})
	q.Enqueue(Document{ID: "b"})

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(flushed)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected one flush after reaching batch size")
}

func TestBatchQueueFlushesOnInterval(t *testing.T) {
	var mu sync.Mutex
	var flushed []Document
	q := NewBatchQueue(BatchQueueConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, func(batch []Document) {
		mu.Lock()
		flushed = append(flushed, batch...)
		mu.Unlock()
	})
	defer q.Stop()

	q.Enqueue(Document{ID: "a"})

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(flushed)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected interval-triggered flush")
}

func TestBatchQueueStopFlushesRemainder(t *testing.T) {
	var flushed []Document
	q := NewBatchQueue(BatchQueueConfig{BatchSize: 100, FlushInterval: time.Hour}, func(batch []Document) {
		flushed = append(flushed, batch...)
	})
	q.Enqueue(Document{ID: "a"})
	q.Stop()
	if len(flushed) != 1 {
		t.Fatalf("expected Stop to flush the remaining document, got %d", len(flushed))
	}
}
