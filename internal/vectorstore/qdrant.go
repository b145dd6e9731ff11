package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"lineage/internal/obslog"
)

// payloadIDField stores the original string id in the point payload, since
// Qdrant only accepts UUIDs or positive integers as point ids (adapted from
// the teacher's qdrantVector.PAYLOAD_ID_FIELD convention).
const payloadIDField = "_original_id"

// QdrantStore implements Store against a Qdrant collection configured with
// one named vector per space (spec.md §4.4 "named vector spaces").
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dims       map[string]int
	metric     string
}

// Config describes the named vector spaces a collection must support, and
// how each should be compared.
type Config struct {
	DSN        string
	Collection string
	Dims       map[string]int // space name -> dimension; SpaceColbert uses the per-row width
	Metric     string         // cosine|l2|ip, applied uniformly across spaces
}

// NewQdrantStore connects to Qdrant and ensures the collection exists with
// one named vector config per entry in cfg.Dims.
func NewQdrantStore(ctx context.Context, cfg Config) (*QdrantStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("vectorstore: collection name is required")
	}
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port: %w", err)
	}
	qc := &qdrant.Config{Host: host, Port: portNum, UseTLS: parsed.Scheme == "https"}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qc.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qc)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &QdrantStore{client: client, collection: cfg.Collection, dims: cfg.Dims, metric: strings.ToLower(cfg.Metric)}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return s, nil
}

func (s *QdrantStore) distance() qdrant.Distance {
	switch s.metric {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	vectorsConfig := make(map[string]*qdrant.VectorParams, len(s.dims))
	for space, dim := range s.dims {
		if dim <= 0 {
			return fmt.Errorf("space %q requires dimension > 0", space)
		}
		vectorsConfig[space] = &qdrant.VectorParams{Size: uint64(dim), Distance: s.distance()}
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig:  qdrant.NewVectorsConfigMap(vectorsConfig),
	})
}

func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (s *QdrantStore) Upsert(ctx context.Context, doc Document) error {
	return obslog.Trace(ctx, "vectorstore.upsert", func(ctx context.Context) error {
		namedVectors := make(map[string]*qdrant.Vector, len(doc.Vectors))
		for space, v := range doc.Vectors {
			if len(v.Values) == 0 {
				continue
			}
			vals := make([]float32, len(v.Values))
			copy(vals, v.Values)
			namedVectors[space] = qdrant.NewVectorDense(vals)
		}
		metadata := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		uuidID := pointID(doc.ID)
		if uuidID.GetUuid() != doc.ID {
			metadata[payloadIDField] = doc.ID
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points: []*qdrant.PointStruct{{
				Id:      uuidID,
				Vectors: qdrant.NewVectorsMap(namedVectors),
				Payload: qdrant.NewValueMap(metadata),
			}},
		})
		return err
	})
}

func (s *QdrantStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	return err
}

func (s *QdrantStore) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	k := req.K
	if k <= 0 {
		k = 10
	}
	vals := make([]float32, len(req.Vector.Values))
	copy(vals, req.Vector.Values)

	var filter *qdrant.Filter
	if len(req.Filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(req.Filter))
		for k, v := range req.Filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		filter = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vals),
		Using:          qdrant.PtrOf(req.Space),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		uuidStr := hit.Id.GetUuid()
		metadata := make(map[string]string)
		originalID := ""
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					originalID = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		id := originalID
		if id == "" {
			id = uuidStr
		}
		out = append(out, Result{ID: id, Score: float64(hit.Score), Metadata: metadata})
	}
	return out, nil
}

func (s *QdrantStore) Close() error { return s.client.Close() }
