// Package pruner periodically removes graph nodes past their retention
// window, optionally archiving them as JSONL to a blob store before
// deletion, generalizing the batch-and-archive cadence the teacher's
// migration tooling (cmd/migrateprojects-s3) uses for S3 uploads.
package pruner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"lineage/internal/blobstore"
	"lineage/internal/graphstore"
)

const defaultBatchSize = 500

// Config controls one pruning run.
type Config struct {
	Retention     time.Duration
	BatchSize     int
	MaxBatches    int
	ArchivePrefix string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 100
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = "pruned"
	}
	return c
}

// archivedNode is the JSONL record shape written per pruned node.
type archivedNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Props      map[string]any `json:"props"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// Pruner ties a GraphDB to an optional archival Store.
type Pruner struct {
	graph   graphstore.GraphDB
	archive blobstore.Store // nil disables archival
	now     func() time.Time
}

// New constructs a Pruner. Pass a nil archive to skip archival entirely
// (pruned nodes are simply discarded).
func New(graph graphstore.GraphDB, archive blobstore.Store) *Pruner {
	return &Pruner{graph: graph, archive: archive, now: time.Now}
}

// Run repeatedly deletes batches of nodes whose tt_end precedes the
// retention cutoff until a batch yields nothing or MaxBatches is reached
// (spec.md §4.7), returning the total number of nodes removed.
func (p *Pruner) Run(ctx context.Context, cfg Config) (int, error) {
	cfg = cfg.withDefaults()
	cutoff := p.now().Add(-cfg.Retention)

	total := 0
	for batch := 0; batch < cfg.MaxBatches; batch++ {
		removed, err := p.graph.DeleteNodesOlderThan(ctx, cutoff, cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("delete batch: %w", err)
		}
		if len(removed) == 0 {
			break
		}
		if p.archive != nil {
			if err := p.archiveBatch(ctx, cfg.ArchivePrefix, removed); err != nil {
				return total, fmt.Errorf("archive batch: %w", err)
			}
		}
		total += len(removed)
		log.Info().Int("batch", batch).Int("removed", len(removed)).Msg("pruner: batch complete")
		if len(removed) < cfg.BatchSize {
			break
		}
	}
	return total, nil
}

func (p *Pruner) archiveBatch(ctx context.Context, prefix string, nodes []graphstore.Node) error {
	now := p.now()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, n := range nodes {
		if err := enc.Encode(archivedNode{ID: n.ID, Labels: n.Labels, Props: n.Props, ArchivedAt: now}); err != nil {
			return err
		}
	}
	key := fmt.Sprintf("%s/%s/%d.jsonl", prefix, now.UTC().Format("2006-01-02"), now.UnixNano())
	_, err := p.archive.Put(ctx, key, &buf, blobstore.PutOptions{ContentType: "application/x-ndjson"})
	return err
}
