package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/resilience"
)

// Embedder turns texts into fixed-dimensionality L2-normalized vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	endpoint string
	apiKey   string
	model    string
	dims     int
	client   *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

func NewHTTPEmbedder(endpoint, apiKey, modelID string, dims int) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    modelID,
		dims:     dims,
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(750*time.Millisecond), 1),
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     8 * time.Second,
		},
	}
}

func (e *HTTPEmbedder) Dims() int { return e.dims }

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "embed: rate limit wait")
	}

	payload, err := json.Marshal(embedRequest{Model: e.model, Input: texts, Dimensions: e.dims})
	if err != nil {
		return nil, eris.Wrap(err, "embed: marshal request")
	}

	body, err := resilience.Retry(ctx, e.retry, "embed batch", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "embed: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, resilience.Transient(eris.Wrap(err, "embed: request"), 0)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "embed: read response")
		}
		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("embed: status %d: %s", resp.StatusCode, string(data))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.Transient(err, resp.StatusCode)
			}
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "embed: unmarshal response")
	}
	if len(parsed.Data) != len(texts) {
		return nil, eris.Errorf("embed: got %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, eris.Errorf("embed: embedding index %d out of range", d.Index)
		}
		if e.dims > 0 && len(d.Embedding) != e.dims {
			return nil, eris.Errorf("embed: dimensionality %d, want %d", len(d.Embedding), e.dims)
		}
		out[d.Index] = model.Normalize(d.Embedding)
	}
	return out, nil
}
