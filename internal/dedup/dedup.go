// Package dedup implements the single-flight dedup engine (C1): three
// independent producers (file-watcher, hook, streaming wrapper) observe
// overlapping subsets of the same events, and the engine ensures each
// logical event is emitted downstream at most once per source, while a
// higher-priority source's later observation of an already-seen event is
// re-emitted exactly once so the richer payload supersedes the poorer.
package dedup

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source identifies which producer observed an event.
type Source string

const (
	SourceFileWatcher Source = "file-watcher"
	SourceHook        Source = "hook"
	SourceStreamJSON  Source = "stream-json"
)

// Priority returns the source's priority; higher wins.
func (s Source) Priority() int {
	switch s {
	case SourceStreamJSON:
		return 3
	case SourceHook:
		return 2
	case SourceFileWatcher:
		return 1
	default:
		return 0
	}
}

// Key identifies a logical event for dedup purposes.
type Key struct {
	SessionID   string
	ContentHash uint64
}

// Entry is the record held per (session, content_hash).
type Entry struct {
	FirstSeen       time.Time
	Sources         []Source
	HighestPriority int
	LastRefreshed   time.Time
}

func (e Entry) hasSource(s Source) bool {
	for _, existing := range e.Sources {
		if existing == s {
			return true
		}
	}
	return false
}

const (
	defaultTTL         = 5 * time.Minute
	defaultMaxEntries  = 50000
	evictionFraction   = 0.10
	stripeCount        = 256
)

// Engine is the in-process dedup cache. It is safe for concurrent use; each
// key is protected by one of a fixed number of stripes (no global lock), and
// admission decisions for the same key are single-flighted so concurrent
// racing producers never double-admit.
type Engine struct {
	ttl         time.Duration
	maxEntries  int
	stripes     [stripeCount]*stripe
	group       singleflight.Group
	now         func() time.Time
}

type stripe struct {
	mu      sync.Mutex
	entries map[Key]*Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithTTL overrides the default 5-minute entry TTL.
func WithTTL(d time.Duration) Option { return func(e *Engine) { e.ttl = d } }

// WithMaxEntries overrides the default capacity bound (50000).
func WithMaxEntries(n int) Option { return func(e *Engine) { e.maxEntries = n } }

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New constructs a dedup Engine.
func New(opts ...Option) *Engine {
	e := &Engine{ttl: defaultTTL, maxEntries: defaultMaxEntries, now: time.Now}
	for i := range e.stripes {
		e.stripes[i] = &stripe{entries: make(map[Key]*Entry)}
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) stripeFor(k Key) *stripe {
	h := fnvHash(k.SessionID) ^ k.ContentHash
	return e.stripes[h%uint64(stripeCount)]
}

func fnvHash(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func (k Key) flightKey() string {
	return k.SessionID + "|" + itoa(k.ContentHash)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ShouldIngest returns true iff source's priority exceeds the highest
// priority currently recorded for (sessionID, contentHash). On true, it
// updates HighestPriority and appends source to Sources. It always refreshes
// the entry's TTL.
func (e *Engine) ShouldIngest(ctx context.Context, sessionID string, contentHash uint64, source Source) (bool, error) {
	key := Key{SessionID: sessionID, ContentHash: contentHash}
	v, err, _ := e.group.Do(key.flightKey(), func() (any, error) {
		return e.shouldIngestLocked(key, source), nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (e *Engine) shouldIngestLocked(key Key, source Source) bool {
	now := e.now()
	s := e.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e.evictExpiredLocked(s, now)

	entry, ok := s.entries[key]
	if !ok {
		if len(s.entries) >= e.maxEntries/stripeCount+1 {
			e.evictOldestLocked(s)
		}
		s.entries[key] = &Entry{
			FirstSeen:       now,
			Sources:         []Source{source},
			HighestPriority: source.Priority(),
			LastRefreshed:   now,
		}
		return true
	}

	entry.LastRefreshed = now
	admit := source.Priority() > entry.HighestPriority
	if admit {
		entry.HighestPriority = source.Priority()
	}
	if !entry.hasSource(source) {
		entry.Sources = append(entry.Sources, source)
	}
	return admit
}

// IsDuplicate reports whether (sessionID, contentHash) has been observed
// before, without mutating any state.
func (e *Engine) IsDuplicate(sessionID string, contentHash uint64) bool {
	key := Key{SessionID: sessionID, ContentHash: contentHash}
	s := e.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// MarkSeen idempotently records that source has observed this event, used
// to sync with the aggregator's durable dedup after a successful downstream
// ack. It does not change ShouldIngest's future answer beyond what observing
// source would already do.
func (e *Engine) MarkSeen(sessionID string, contentHash uint64, source Source) {
	key := Key{SessionID: sessionID, ContentHash: contentHash}
	now := e.now()
	s := e.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		s.entries[key] = &Entry{
			FirstSeen:       now,
			Sources:         []Source{source},
			HighestPriority: source.Priority(),
			LastRefreshed:   now,
		}
		return
	}
	entry.LastRefreshed = now
	if !entry.hasSource(source) {
		entry.Sources = append(entry.Sources, source)
	}
	if source.Priority() > entry.HighestPriority {
		entry.HighestPriority = source.Priority()
	}
}

// Lookup returns a copy of the entry for (sessionID, contentHash), if any.
func (e *Engine) Lookup(sessionID string, contentHash uint64) (Entry, bool) {
	key := Key{SessionID: sessionID, ContentHash: contentHash}
	s := e.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	cp := *entry
	cp.Sources = append([]Source(nil), entry.Sources...)
	return cp, true
}

// StartCleanup launches a background sweep that evicts expired entries from
// every stripe on a fixed interval, until ctx is done. Eviction otherwise
// only happens lazily inside ShouldIngest for the stripe an operation happens
// to touch, so a long-idle key in an otherwise-quiet stripe would linger
// past its TTL; this mirrors the aggregator's idle-session reaper ticker
// (runReaper in aggregator/worker.go) applied to dedup's stripes instead of
// aggregator's sessions map.
func (e *Engine) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = e.ttl
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) sweep() {
	now := e.now()
	for _, s := range e.stripes {
		s.mu.Lock()
		e.evictExpiredLocked(s, now)
		s.mu.Unlock()
	}
}

func (e *Engine) evictExpiredLocked(s *stripe, now time.Time) {
	for k, v := range s.entries {
		if now.Sub(v.LastRefreshed) > e.ttl {
			delete(s.entries, k)
		}
	}
}

// evictOldestLocked removes the oldest 10% of entries in this stripe by
// LastRefreshed, per spec.md §3 DedupEntry eviction policy.
func (e *Engine) evictOldestLocked(s *stripe) {
	n := len(s.entries)
	if n == 0 {
		return
	}
	toEvict := int(float64(n) * evictionFraction)
	if toEvict < 1 {
		toEvict = 1
	}
	type kv struct {
		k Key
		t time.Time
	}
	ordered := make([]kv, 0, n)
	for k, v := range s.entries {
		ordered = append(ordered, kv{k, v.LastRefreshed})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].t.Before(ordered[j].t) })
	for i := 0; i < toEvict && i < len(ordered); i++ {
		delete(s.entries, ordered[i].k)
	}
}
