// Package pipeline wires the components into the running service: adapters
// feed the intake, the consumer loop batches admitted items through
// extraction and online clustering, and timers drive the offline recluster
// pass and the alert trigger.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/alert"
	"github.com/sells-group/sentinel/internal/cluster"
	"github.com/sells-group/sentinel/internal/config"
	"github.com/sells-group/sentinel/internal/extract"
	"github.com/sells-group/sentinel/internal/fetch"
	"github.com/sells-group/sentinel/internal/index"
	"github.com/sells-group/sentinel/internal/ingest"
	"github.com/sells-group/sentinel/internal/rules"
	"github.com/sells-group/sentinel/internal/store"
	"github.com/sells-group/sentinel/pkg/anthropic"
	"github.com/sells-group/sentinel/pkg/jina"
)

// Env holds every constructed component. The process entry point owns its
// lifecycle; nothing here reaches for globals.
type Env struct {
	Cfg       *config.Config
	Store     store.Store
	Index     *index.Index
	Filter    *rules.Filter
	Fetcher   fetch.Fetcher
	Gateway   *extract.Gateway
	Engine    *cluster.Engine
	Recluster *cluster.Recluster
	Trigger   *alert.Trigger
	Intake    *ingest.Intake
}

// NewEnv builds the full dependency graph from configuration, runs store
// migrations, and warms the similarity index from recent persisted state.
func NewEnv(ctx context.Context, cfg *config.Config) (*Env, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	filter, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		st.Close()
		return nil, err
	}

	ix := index.New()
	if err := warmIndex(ctx, st, ix, cfg); err != nil {
		st.Close()
		return nil, err
	}

	reader := jina.NewClient(cfg.Fetch.Key,
		jina.WithBaseURL(cfg.Fetch.ReaderBaseURL),
		jina.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second}))
	fetcher := fetch.NewRouter(fetch.NewReaderFetcher(reader), cfg.Fetch.MaxBodyBytes)

	reasoner := extract.NewAnthropicReasoner(
		anthropic.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.Model,
		int64(cfg.Anthropic.MaxTokens),
	)
	embedder := extract.NewHTTPEmbedder(cfg.Embed.BaseURL, cfg.Embed.Key, cfg.Embed.Model, cfg.Embed.Dims)
	gateway := extract.NewGateway(reasoner, embedder, cfg.Pipeline.BatchSize, cfg.Pipeline.MaxItemBytes)

	engine := cluster.NewEngine(st, ix, cfg.Cluster.MatchThreshold, cfg.Cluster.RecencyWindow())
	recluster := cluster.NewRecluster(st, ix, cluster.ReclusterConfig{
		Window:         cfg.Cluster.ReclusterWindow(),
		MinClusterSize: cfg.Cluster.MinClusterSize,
		SpectralDims:   cfg.Cluster.SpectralDims,
		GraphNeighbors: cfg.Cluster.GraphNeighbors,
		Eps:            cfg.Cluster.OfflineEps,
		EventSignal:    cfg.Cluster.ReclusterSignal,
	})

	trigger := alert.NewTrigger(st,
		alert.NewWebhookNotifier(cfg.Alert.WebhookURL, cfg.Alert.Mention, cfg.Alert.SendsPerSec),
		cfg.Alert.SignalThreshold)

	intake := ingest.NewIntake(filter, st, cfg.Pipeline.QueueCapacity, buildAdapters(cfg.Ingest)...)
	intake.ReconnectInitial = time.Duration(cfg.Ingest.ReconnectBackoffMs) * time.Millisecond
	intake.ReconnectMax = time.Duration(cfg.Ingest.ReconnectMaxMs) * time.Millisecond

	return &Env{
		Cfg:       cfg,
		Store:     st,
		Index:     ix,
		Filter:    filter,
		Fetcher:   fetcher,
		Gateway:   gateway,
		Engine:    engine,
		Recluster: recluster,
		Trigger:   trigger,
		Intake:    intake,
	}, nil
}

// Close releases held resources.
func (e *Env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("pipeline: unknown store driver %q", cfg.Driver)
	}
}

// warmIndex reloads recent record embeddings and event centroids so matching
// survives restarts.
func warmIndex(ctx context.Context, st store.Store, ix *index.Index, cfg *config.Config) error {
	since := timeNow().Add(-cfg.Cluster.ReclusterWindow())

	recs, err := st.IntelligenceSince(ctx, since)
	if err != nil {
		return eris.Wrap(err, "pipeline: warm index records")
	}
	for _, rec := range recs {
		if rec.Embedding != nil {
			ix.Upsert(rec.SourceURL, index.KindRecord, rec.Embedding, rec.CreatedAt)
		}
	}

	events, err := st.EventsSince(ctx, since)
	if err != nil {
		return eris.Wrap(err, "pipeline: warm index events")
	}
	for _, ev := range events {
		if ev.Centroid != nil {
			ix.Upsert(ev.ID, index.KindEvent, ev.Centroid, ev.LastUpdatedAt)
		}
	}

	zap.L().Info("similarity index warmed",
		zap.Int("records", len(recs)), zap.Int("events", len(events)))
	return nil
}

func buildAdapters(cfg config.IngestConfig) []ingest.Adapter {
	var adapters []ingest.Adapter
	if cfg.BlueskyURL != "" {
		adapters = append(adapters, ingest.NewBlueskyAdapter(cfg.BlueskyURL))
	}
	if cfg.MastodonURL != "" {
		adapters = append(adapters, ingest.NewMastodonAdapter(cfg.MastodonURL, cfg.MastodonAccessToken))
	}
	if len(cfg.RSSFeeds) > 0 {
		adapters = append(adapters, ingest.NewRSSAdapter(
			cfg.RSSFeeds,
			rssInterval(cfg),
			cfg.RSSRequestsPerSec,
		))
	}
	return adapters
}
