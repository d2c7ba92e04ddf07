package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sentinel/internal/cluster"
	"github.com/sells-group/sentinel/internal/config"
	"github.com/sells-group/sentinel/internal/extract"
	"github.com/sells-group/sentinel/internal/index"
	"github.com/sells-group/sentinel/internal/ingest"
	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/rules"
	"github.com/sells-group/sentinel/internal/store"
)

type echoReasoner struct{ signal int }

func (r *echoReasoner) Analyze(ctx context.Context, inputs []extract.Input, events []model.EventContext) ([]extract.Analysis, error) {
	out := make([]extract.Analysis, len(inputs))
	for i, in := range inputs {
		out[i] = extract.Analysis{Index: i, Summary: "summary of " + in.SourceURL, Signal: r.signal}
	}
	return out, nil
}

type axisEmbedder struct{}

func (e *axisEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *axisEmbedder) Dims() int { return 3 }

type stubFetcher struct {
	content string
	err     error
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f.content, f.err
}

type burstAdapter struct{ items []model.Item }

func (a *burstAdapter) Name() string         { return "burst" }
func (a *burstAdapter) Origin() model.Origin { return model.OriginRSS }

func (a *burstAdapter) Run(ctx context.Context, emit ingest.EmitFunc) error {
	for _, item := range a.items {
		if err := emit(ctx, item); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestEnv(t *testing.T, adapters ...ingest.Adapter) *Env {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	ix := index.New()
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			QueueCapacity:    16,
			BatchSize:        2,
			FlushIntervalSec: 1,
			MaxItemBytes:     4096,
			ContextEvents:    5,
		},
		Cluster: config.ClusterConfig{
			MatchThreshold:       0.15,
			RecencyWindowHours:   24,
			ReclusterIntervalMin: 60,
			ReclusterWindowHours: 72,
			MinClusterSize:       5,
			SpectralDims:         2,
			GraphNeighbors:       2,
			OfflineEps:           0.5,
			ReclusterSignal:      10,
		},
		Alert: config.AlertConfig{SignalThreshold: 5, IntervalSecs: 1},
	}

	return &Env{
		Cfg:     cfg,
		Store:   st,
		Index:   ix,
		Fetcher: &stubFetcher{err: eris.New("no reader")},
		Gateway: extract.NewGateway(&echoReasoner{signal: 3}, &axisEmbedder{},
			cfg.Pipeline.BatchSize, cfg.Pipeline.MaxItemBytes),
		Engine: cluster.NewEngine(st, ix, cfg.Cluster.MatchThreshold, cfg.Cluster.RecencyWindow()),
		Recluster: cluster.NewRecluster(st, ix, cluster.ReclusterConfig{
			Window:         cfg.Cluster.ReclusterWindow(),
			MinClusterSize: cfg.Cluster.MinClusterSize,
			SpectralDims:   cfg.Cluster.SpectralDims,
			GraphNeighbors: cfg.Cluster.GraphNeighbors,
			Eps:            cfg.Cluster.OfflineEps,
			EventSignal:    cfg.Cluster.ReclusterSignal,
		}),
		Intake: ingest.NewIntake(
			rules.New(rules.RuleSet{AcceptKeywords: []string{"report"}}),
			st, cfg.Pipeline.QueueCapacity, adapters...),
	}
}

func TestProcess_SavesAndClusters(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	items := []model.Item{
		{Origin: model.OriginBluesky, URL: "https://bsky.app/a", AuthorID: "did:plc:a", Text: "refinery fire reported"},
		{Origin: model.OriginBluesky, URL: "https://bsky.app/b", AuthorID: "did:plc:b", Text: "large refinery blaze"},
	}
	e.process(ctx, items)

	recs, err := e.Store.IntelligenceSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Identical embeddings land in the same event.
	require.NotEmpty(t, recs[0].EventID)
	assert.Equal(t, recs[0].EventID, recs[1].EventID)
	assert.Equal(t, 1, e.Index.Len(index.KindEvent))
	assert.Equal(t, 2, e.Index.Len(index.KindRecord))
}

func TestProcess_EmptyBatchIsNoop(t *testing.T) {
	e := newTestEnv(t)
	e.process(context.Background(), nil)
	assert.Equal(t, 0, e.Index.Len(index.KindRecord))
}

func TestEnrichText_RSSFetchFailureKeepsFeedText(t *testing.T) {
	e := newTestEnv(t)

	item := model.Item{Origin: model.OriginRSS, URL: "https://example.com/a", Text: "headline"}
	assert.Equal(t, "headline", e.enrichText(context.Background(), item))
}

func TestEnrichText_RSSAppendsFetchedContent(t *testing.T) {
	e := newTestEnv(t)
	e.Fetcher = &stubFetcher{content: "full article body"}

	item := model.Item{Origin: model.OriginRSS, URL: "https://example.com/a", Text: "headline"}
	got := e.enrichText(context.Background(), item)
	assert.Contains(t, got, "headline")
	assert.Contains(t, got, "full article body")
}

func TestEnrichText_SocialItemsNotFetched(t *testing.T) {
	e := newTestEnv(t)
	e.Fetcher = &stubFetcher{content: "should not appear"}

	item := model.Item{Origin: model.OriginBluesky, URL: "https://bsky.app/a", Text: "post text"}
	assert.Equal(t, "post text", e.enrichText(context.Background(), item))
}

func TestContextEvents_TopSignalCapped(t *testing.T) {
	e := newTestEnv(t)
	e.Cfg.Pipeline.ContextEvents = 2
	ctx := context.Background()
	now := time.Now().UTC()

	for i, signal := range []int{2, 9, 6} {
		require.NoError(t, e.Store.CreateEvent(ctx, &model.Event{
			ID: fmt.Sprintf("ev-%d", i), Summary: fmt.Sprintf("event %d", i),
			Signal: signal, AddedAt: now, LastUpdatedAt: now,
		}))
	}

	got := e.contextEvents(ctx)
	require.Len(t, got, 2)
	assert.Equal(t, "ev-1", got[0].ID)
	assert.Equal(t, "ev-2", got[1].ID)
}

func TestContextEvents_DisabledReturnsNil(t *testing.T) {
	e := newTestEnv(t)
	e.Cfg.Pipeline.ContextEvents = 0
	assert.Nil(t, e.contextEvents(context.Background()))
}

func TestConsume_DrainsIntakeUntilCanceled(t *testing.T) {
	adapter := &burstAdapter{items: []model.Item{
		{Origin: model.OriginBluesky, ExternalID: "1", URL: "https://bsky.app/1", Text: "first report"},
		{Origin: model.OriginBluesky, ExternalID: "2", URL: "https://bsky.app/2", Text: "second report"},
	}}
	e := newTestEnv(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.consume(ctx)
	}()
	go func() { _ = e.Intake.Run(ctx) }()

	require.Eventually(t, func() bool {
		recs, err := e.Store.IntelligenceSince(context.Background(), time.Now().Add(-time.Hour))
		return err == nil && len(recs) == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
