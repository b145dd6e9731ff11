package graphstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"lineage/internal/graphmodel"
)

// ErrQueryUnsupported is returned by backends with no native query language.
var ErrQueryUnsupported = errors.New("graphstore: native query not supported by this backend")

type edgeKey struct{ src, rel string }

type nodeRow struct {
	Node
	vtStart, vtEnd time.Time
	ttStart, ttEnd time.Time
}

func (r nodeRow) isCurrent() bool { return r.ttEnd.Equal(graphmodel.MaxSentinel) }

// MemoryGraph is an in-process GraphDB, used for tests and as the default
// backend when no external graph store is configured. It keeps every
// historical row per id, generalizing the teacher's single-current-row
// in-memory graph to the bitemporal model spec.md §3 requires.
type MemoryGraph struct {
	mu    sync.RWMutex
	rows  map[string][]nodeRow // id -> history, oldest first
	edges map[edgeKey]map[string]map[string]any
	now   func() time.Time
}

// NewMemoryGraph constructs an empty MemoryGraph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		rows:  make(map[string][]nodeRow),
		edges: make(map[edgeKey]map[string]map[string]any),
		now:   time.Now,
	}
}

// WithClock overrides the time source; used by tests.
func (m *MemoryGraph) WithClock(now func() time.Time) *MemoryGraph {
	m.now = now
	return m
}

func (m *MemoryGraph) UpsertNode(_ context.Context, id string, labels []string, props map[string]any) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	history := m.rows[id]
	for i := range history {
		if history[i].isCurrent() {
			history[i].ttEnd = now
		}
	}
	row := nodeRow{
		Node:    Node{ID: id, Labels: append([]string{}, labels...), Props: cp},
		vtStart: now, vtEnd: graphmodel.MaxSentinel,
		ttStart: now, ttEnd: graphmodel.MaxSentinel,
	}
	m.rows[id] = append(history, row)
	return nil
}

func (m *MemoryGraph) UpsertEdge(_ context.Context, srcID, rel, dstID string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey{src: srcID, rel: rel}
	if _, ok := m.edges[key]; !ok {
		m.edges[key] = make(map[string]map[string]any)
	}
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	m.edges[key][dstID] = cp
	return nil
}

func (m *MemoryGraph) Neighbors(_ context.Context, id string, rel string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	if dsts, ok := m.edges[edgeKey{src: id, rel: rel}]; ok {
		for dst := range dsts {
			out = append(out, dst)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryGraph) GetNode(ctx context.Context, id string) (Node, bool, error) {
	return m.GetNodeAt(ctx, id, NodeFilter{Current: true})
}

func (m *MemoryGraph) GetNodeAt(_ context.Context, id string, filter NodeFilter) (Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.rows[id]
	if filter.Current || (filter.ValidTime.IsZero() && filter.TransactionTime.IsZero()) {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].isCurrent() {
				return history[i].Node, true, nil
			}
		}
		return Node{}, false, nil
	}
	vt := filter.ValidTime
	tt := filter.TransactionTime
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		vtOK := vt.IsZero() || (!vt.Before(r.vtStart) && vt.Before(r.vtEnd))
		ttOK := tt.IsZero() || (!tt.Before(r.ttStart) && tt.Before(r.ttEnd))
		if vtOK && ttOK {
			return r.Node, true, nil
		}
	}
	return Node{}, false, nil
}

// DeleteNodesOlderThan purges superseded (non-current) bitemporal rows whose
// tt_end precedes cutoff, up to limit rows, and returns copies of what was
// removed for archiving. The current row of a logical entity (tt_end ==
// MAX_SENTINEL) is never eligible: it represents the entity's live
// knowledge, not a historical version.
func (m *MemoryGraph) DeleteNodesOlderThan(_ context.Context, cutoff time.Time, limit int) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []Node
	for id, history := range m.rows {
		if len(removed) >= limit {
			break
		}
		kept := history[:0:0]
		for _, row := range history {
			if len(removed) < limit && !row.isCurrent() && row.ttEnd.Before(cutoff) {
				removed = append(removed, row.Node)
				continue
			}
			kept = append(kept, row)
		}
		if len(kept) == 0 {
			delete(m.rows, id)
		} else {
			m.rows[id] = kept
		}
	}
	return removed, nil
}

func (m *MemoryGraph) Query(context.Context, string, map[string]any) ([]map[string]any, error) {
	return nil, ErrQueryUnsupported
}
