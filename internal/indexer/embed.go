package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lineage/internal/obslog"
)

// DenseEmbedder produces one fixed-width embedding per input string.
type DenseEmbedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Dimension() int
}

// HTTPEmbedderConfig configures an embedding HTTP endpoint, matching the
// teacher's internal/embedding.EmbedText contract (OpenAI-shaped
// {model, input} request, {data:[{embedding}]} response).
type HTTPEmbedderConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIHeader string
	APIKey    string
	Dim       int
	Timeout   time.Duration
}

// HTTPEmbedder is a pluggable dense embedding client, generalized from the
// teacher's internal/embedding package to an interface-satisfying type so
// the indexer and retrieval engine can share one implementation.
type HTTPEmbedder struct {
	cfg    HTTPEmbedderConfig
	client *http.Client
}

// NewHTTPEmbedder constructs an HTTPEmbedder from cfg.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) *HTTPEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPEmbedder{cfg: cfg, client: http.DefaultClient}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	var out [][]float32
	err := obslog.Trace(ctx, "embedding.embed", func(ctx context.Context) error {
		if len(inputs) == 0 {
			return fmt.Errorf("indexer: no inputs to embed")
		}
		body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: inputs})
		if err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(cctx, http.MethodPost, e.cfg.BaseURL+e.cfg.Path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if e.cfg.APIHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
		} else if e.cfg.APIHeader != "" {
			req.Header.Set(e.cfg.APIHeader, e.cfg.APIKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("indexer: embedding endpoint returned %s: %s", resp.Status, string(data))
		}
		var er embedResponse
		if err := json.Unmarshal(data, &er); err != nil {
			return fmt.Errorf("indexer: parse embedding response: %w", err)
		}
		if len(er.Data) != len(inputs) {
			return fmt.Errorf("indexer: embedding count mismatch: got %d want %d", len(er.Data), len(inputs))
		}
		out = make([][]float32, len(er.Data))
		for i := range er.Data {
			out[i] = er.Data[i].Embedding
		}
		return nil
	})
	return out, err
}

func (e *HTTPEmbedder) Dimension() int { return e.cfg.Dim }
