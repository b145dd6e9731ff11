package graphstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lineage/internal/obslog"
)

// PostgresGraph persists the lineage graph as a bitemporal property graph
// over two tables, generalizing the teacher's single-current-row
// nodes/edges schema (internal/persistence/databases/postgres_graph.go) to
// append-only bitemporal rows.
type PostgresGraph struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresGraph wires the schema (idempotently) and returns a GraphDB.
func NewPostgresGraph(ctx context.Context, pool *pgxpool.Pool) (*PostgresGraph, error) {
	g := &PostgresGraph{pool: pool, now: time.Now}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, err
	}
	return g, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS lineage_nodes (
  row_id BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL,
  labels TEXT[] NOT NULL DEFAULT '{}',
  props JSONB NOT NULL DEFAULT '{}'::jsonb,
  vt_start TIMESTAMPTZ NOT NULL,
  vt_end TIMESTAMPTZ NOT NULL,
  tt_start TIMESTAMPTZ NOT NULL,
  tt_end TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS lineage_nodes_id ON lineage_nodes(id);
CREATE INDEX IF NOT EXISTS lineage_nodes_current ON lineage_nodes(id) WHERE tt_end = 'infinity';
CREATE INDEX IF NOT EXISTS lineage_nodes_tt_end ON lineage_nodes(tt_end);

CREATE TABLE IF NOT EXISTS lineage_edges (
  row_id BIGSERIAL PRIMARY KEY,
  source TEXT NOT NULL,
  rel TEXT NOT NULL,
  target TEXT NOT NULL,
  props JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS lineage_edges_src_rel ON lineage_edges(source, rel);
CREATE INDEX IF NOT EXISTS lineage_edges_dst_rel ON lineage_edges(target, rel);
`

func (g *PostgresGraph) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	return obslog.Trace(ctx, "graph.upsert_node", func(ctx context.Context) error {
		if props == nil {
			props = map[string]any{}
		}
		now := g.now()
		tx, err := g.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `
UPDATE lineage_nodes SET tt_end=$1 WHERE id=$2 AND tt_end='infinity'
`, now, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO lineage_nodes(id, labels, props, vt_start, vt_end, tt_start, tt_end)
VALUES ($1,$2,$3,$4,'infinity',$4,'infinity')
`, id, labels, props, now); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (g *PostgresGraph) UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error {
	return obslog.Trace(ctx, "graph.upsert_edge", func(ctx context.Context) error {
		if props == nil {
			props = map[string]any{}
		}
		_, err := g.pool.Exec(ctx, `
INSERT INTO lineage_edges(source, rel, target, props) VALUES ($1,$2,$3,$4)
`, srcID, rel, dstID, props)
		return err
	})
}

func (g *PostgresGraph) Neighbors(ctx context.Context, id string, rel string) ([]string, error) {
	rows, err := g.pool.Query(ctx, `SELECT target FROM lineage_edges WHERE source=$1 AND rel=$2 ORDER BY target`, id, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *PostgresGraph) GetNode(ctx context.Context, id string) (Node, bool, error) {
	return g.GetNodeAt(ctx, id, NodeFilter{Current: true})
}

func (g *PostgresGraph) GetNodeAt(ctx context.Context, id string, filter NodeFilter) (Node, bool, error) {
	var (
		labels []string
		props  map[string]any
		query  string
		args   []any
	)
	switch {
	case filter.Current || (filter.ValidTime.IsZero() && filter.TransactionTime.IsZero()):
		query = `SELECT labels, props FROM lineage_nodes WHERE id=$1 AND tt_end='infinity'`
		args = []any{id}
	default:
		query = `
SELECT labels, props FROM lineage_nodes
WHERE id=$1
  AND ($2::timestamptz IS NULL OR (vt_start <= $2 AND vt_end > $2))
  AND ($3::timestamptz IS NULL OR (tt_start <= $3 AND tt_end > $3))
ORDER BY tt_start DESC
LIMIT 1`
		args = []any{id, nullableTime(filter.ValidTime), nullableTime(filter.TransactionTime)}
	}
	row := g.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&labels, &props); err != nil {
		return Node{}, false, nil
	}
	return Node{ID: id, Labels: labels, Props: props}, true, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (g *PostgresGraph) DeleteNodesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Node, error) {
	rows, err := g.pool.Query(ctx, `
SELECT row_id, id, labels, props FROM lineage_nodes
WHERE tt_end < $1 AND tt_end <> 'infinity'
ORDER BY tt_end ASC
LIMIT $2
`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	var ids []int64
	var out []Node
	for rows.Next() {
		var rowID int64
		var id string
		var labels []string
		var props map[string]any
		if err := rows.Scan(&rowID, &id, &labels, &props); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, rowID)
		out = append(out, Node{ID: id, Labels: labels, Props: props})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if _, err := g.pool.Exec(ctx, `DELETE FROM lineage_nodes WHERE row_id = ANY($1)`, ids); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (g *PostgresGraph) Query(ctx context.Context, sqlQuery string, params map[string]any) ([]map[string]any, error) {
	args := make([]any, 0, len(params))
	for _, v := range params {
		args = append(args, v)
	}
	rows, err := g.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, len(vals))
		for i, v := range vals {
			m[string(fields[i].Name)] = v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
