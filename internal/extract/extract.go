// Package extract turns filtered items into intelligence records by way of an
// external reasoning service and an embeddings endpoint. Failures are scoped:
// a bad item or a failed batch produces Failure values, never an aborted run.
package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/resilience"
)

// Input is one unit of content submitted for extraction.
type Input struct {
	SourceURL string
	AuthorID  string
	Text      string
}

// Failure records an input that was dropped and why.
type Failure struct {
	SourceURL string
	Err       error
}

// Gateway batches inputs to the reasoning service and pairs each verdict with
// an embedding of the cleaned text.
type Gateway struct {
	reasoner     Reasoner
	embedder     Embedder
	breaker      *resilience.Breaker
	batchSize    int
	maxItemBytes int
	now          func() time.Time
}

func NewGateway(reasoner Reasoner, embedder Embedder, batchSize, maxItemBytes int) *Gateway {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Gateway{
		reasoner:     reasoner,
		embedder:     embedder,
		breaker:      resilience.NewBreaker(5, 30*time.Second),
		batchSize:    batchSize,
		maxItemBytes: maxItemBytes,
		now:          time.Now,
	}
}

// Extract processes the inputs and returns one record per successful input
// plus a failure per dropped one. Oversize inputs are rejected up front so
// they never poison a batch. The error return is reserved for context
// cancellation; service failures surface as Failures.
func (g *Gateway) Extract(ctx context.Context, inputs []Input, contextEvents []model.EventContext) ([]model.IntelligenceRecord, []Failure, error) {
	var (
		records  []model.IntelligenceRecord
		failures []Failure
		eligible []Input
	)
	for _, in := range inputs {
		if g.maxItemBytes > 0 && len(in.Text) > g.maxItemBytes {
			failures = append(failures, Failure{
				SourceURL: in.SourceURL,
				Err:       eris.Errorf("extract: item %d bytes exceeds limit %d", len(in.Text), g.maxItemBytes),
			})
			continue
		}
		eligible = append(eligible, in)
	}

	for start := 0; start < len(eligible); start += g.batchSize {
		if err := ctx.Err(); err != nil {
			return records, failures, eris.Wrap(err, "extract: canceled")
		}
		end := min(start+g.batchSize, len(eligible))
		batch := eligible[start:end]

		recs, dropped, err := g.extractBatch(ctx, batch, contextEvents)
		if err != nil {
			zap.L().Warn("extraction batch failed",
				zap.Int("items", len(batch)), zap.Error(err))
			for _, in := range batch {
				failures = append(failures, Failure{SourceURL: in.SourceURL, Err: err})
			}
			continue
		}
		records = append(records, recs...)
		failures = append(failures, dropped...)
	}
	return records, failures, nil
}

func (g *Gateway) extractBatch(ctx context.Context, batch []Input, contextEvents []model.EventContext) ([]model.IntelligenceRecord, []Failure, error) {
	analyses, err := resilience.Call(ctx, g.breaker, func(ctx context.Context) ([]Analysis, error) {
		return g.reasoner.Analyze(ctx, batch, contextEvents)
	})
	if err != nil {
		return nil, nil, err
	}

	texts := make([]string, len(batch))
	for i, in := range batch {
		texts[i] = CleanForEmbedding(in.Text)
	}
	embeddings, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, err
	}

	now := g.now().UTC()
	covered := make([]bool, len(batch))
	records := make([]model.IntelligenceRecord, 0, len(analyses))
	for _, a := range analyses {
		in := batch[a.Index]
		covered[a.Index] = true
		records = append(records, model.IntelligenceRecord{
			SourceURL: in.SourceURL,
			Summary:   a.Summary,
			Signal:    a.Signal,
			Embedding: embeddings[a.Index],
			Financial: a.Financial,
			Alertable: a.Alertable,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	// An input the service skipped in its verdict array is a drop that the
	// caller must see, not a silent omission.
	var dropped []Failure
	for i, in := range batch {
		if !covered[i] {
			dropped = append(dropped, Failure{
				SourceURL: in.SourceURL,
				Err:       eris.Errorf("extract: no verdict for input %d", i),
			})
		}
	}
	return records, dropped, nil
}
