package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sentinel/internal/model"
)

type stubReasoner struct {
	batches [][]Input
	err     error
}

func (s *stubReasoner) Analyze(ctx context.Context, inputs []Input, _ []model.EventContext) ([]Analysis, error) {
	s.batches = append(s.batches, inputs)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Analysis, len(inputs))
	for i := range inputs {
		out[i] = Analysis{Index: i, Summary: "summary of " + inputs[i].SourceURL, Signal: 6}
	}
	return out, nil
}

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (s *stubEmbedder) Dims() int { return 2 }

func TestGateway_ExtractBatches(t *testing.T) {
	r := &stubReasoner{}
	g := NewGateway(r, &stubEmbedder{}, 2, 0)

	inputs := []Input{
		{SourceURL: "https://example.com/1", Text: "one"},
		{SourceURL: "https://example.com/2", Text: "two"},
		{SourceURL: "https://example.com/3", Text: "three"},
	}
	records, failures, err := g.Extract(context.Background(), inputs, nil)
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, records, 3)
	assert.Len(t, r.batches, 2)
	assert.Equal(t, "https://example.com/1", records[0].SourceURL)
	assert.Equal(t, 6, records[0].Signal)
	assert.Equal(t, []float32{1, 0}, records[0].Embedding)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestGateway_OversizeItemRejectedWithoutBlockingBatch(t *testing.T) {
	r := &stubReasoner{}
	g := NewGateway(r, &stubEmbedder{}, 10, 16)

	inputs := []Input{
		{SourceURL: "https://example.com/big", Text: strings.Repeat("x", 100)},
		{SourceURL: "https://example.com/ok", Text: "short"},
	}
	records, failures, err := g.Extract(context.Background(), inputs, nil)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "https://example.com/big", failures[0].SourceURL)
	require.Len(t, records, 1)
	assert.Equal(t, "https://example.com/ok", records[0].SourceURL)
}

func TestGateway_ReasonerFailureDropsBatchOnly(t *testing.T) {
	g := NewGateway(&stubReasoner{err: eris.New("service down")}, &stubEmbedder{}, 10, 0)

	records, failures, err := g.Extract(context.Background(), []Input{
		{SourceURL: "https://example.com/1", Text: "one"},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	require.Len(t, failures, 1)
	assert.Error(t, failures[0].Err)
}

func TestGateway_EmbedderFailureDropsBatch(t *testing.T) {
	g := NewGateway(&stubReasoner{}, &stubEmbedder{err: eris.New("no embeddings")}, 10, 0)

	records, failures, err := g.Extract(context.Background(), []Input{
		{SourceURL: "https://example.com/1", Text: "one"},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, failures, 1)
}

// partialReasoner returns verdicts for all but the last input.
type partialReasoner struct{}

func (p *partialReasoner) Analyze(ctx context.Context, inputs []Input, _ []model.EventContext) ([]Analysis, error) {
	out := make([]Analysis, 0, len(inputs))
	for i := range inputs[:len(inputs)-1] {
		out = append(out, Analysis{Index: i, Summary: "summary of " + inputs[i].SourceURL, Signal: 4})
	}
	return out, nil
}

func TestGateway_OmittedVerdictSurfacesAsFailure(t *testing.T) {
	g := NewGateway(&partialReasoner{}, &stubEmbedder{}, 10, 0)

	records, failures, err := g.Extract(context.Background(), []Input{
		{SourceURL: "https://example.com/1", Text: "one"},
		{SourceURL: "https://example.com/2", Text: "two"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://example.com/1", records[0].SourceURL)
	require.Len(t, failures, 1)
	assert.Equal(t, "https://example.com/2", failures[0].SourceURL)
	assert.Error(t, failures[0].Err)
}

func TestGateway_CancelStopsProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGateway(&stubReasoner{}, &stubEmbedder{}, 1, 0)
	_, _, err := g.Extract(ctx, []Input{{SourceURL: "https://example.com/1", Text: "one"}}, nil)
	assert.Error(t, err)
}

func TestParseAnalyses(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		n       int
		wantErr bool
		check   func(t *testing.T, got []Analysis)
	}{
		{
			name: "plain array",
			text: `[{"index":0,"summary":"s","signal":7,"financial":true,"alertable":true}]`,
			n:    1,
			check: func(t *testing.T, got []Analysis) {
				require.Len(t, got, 1)
				assert.Equal(t, 7, got[0].Signal)
				assert.True(t, got[0].Financial)
			},
		},
		{
			name: "fenced array",
			text: "```json\n[{\"index\":0,\"summary\":\"s\",\"signal\":3}]\n```",
			n:    1,
			check: func(t *testing.T, got []Analysis) {
				require.Len(t, got, 1)
				assert.Equal(t, 3, got[0].Signal)
			},
		},
		{
			name: "signal clamped to bounds",
			text: `[{"index":0,"signal":99},{"index":1,"signal":-4}]`,
			n:    2,
			check: func(t *testing.T, got []Analysis) {
				assert.Equal(t, model.SignalMax, got[0].Signal)
				assert.Equal(t, 0, got[1].Signal)
			},
		},
		{
			name:    "index out of range",
			text:    `[{"index":5,"signal":1}]`,
			n:       2,
			wantErr: true,
		},
		{
			name:    "not json",
			text:    "sorry, I cannot help with that",
			n:       1,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnalyses(tt.text, tt.n)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestCleanForEmbedding(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"markdown link", "see [the report](https://example.com/r) now", "see the report now"},
		{"image stripped", "before ![alt text](https://example.com/i.png) after", "before after"},
		{"raw url", "breaking https://example.com/x?a=1 story", "breaking story"},
		{"hashtag split", "#PortExplosion reported", "Port Explosion reported"},
		{"acronym hashtag", "#NATOSummit begins", "NATO Summit begins"},
		{"underscore hashtag", "#breaking_news now", "breaking news now"},
		{"whitespace collapsed", "a \n\n  b", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanForEmbedding(tt.in))
		})
	}
}
