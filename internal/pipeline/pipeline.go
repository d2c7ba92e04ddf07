package pipeline

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sentinel/internal/config"
	"github.com/sells-group/sentinel/internal/extract"
	"github.com/sells-group/sentinel/internal/model"
)

// timeNow is swapped in tests.
var timeNow = time.Now

func rssInterval(cfg config.IngestConfig) time.Duration {
	return time.Duration(cfg.RSSIntervalMins) * time.Minute
}

// Run starts the whole service: adapters, consumer loop, recluster timer and
// alert timer. It blocks until ctx is canceled or a component fails fatally.
func (e *Env) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.Intake.Run(ctx) })
	g.Go(func() error { return e.consume(ctx) })
	g.Go(func() error { return e.reclusterLoop(ctx) })
	g.Go(func() error {
		return e.Trigger.Run(ctx, time.Duration(e.Cfg.Alert.IntervalSecs)*time.Second)
	})

	return g.Wait()
}

// consume drains the intake queue into batches. A batch flushes when it
// reaches the configured size or when the flush interval passes with items
// waiting; a half-full buffer never waits forever.
func (e *Env) consume(ctx context.Context) error {
	flushEvery := time.Duration(e.Cfg.Pipeline.FlushIntervalSec) * time.Second
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]model.Item, 0, e.Cfg.Pipeline.BatchSize)
	for {
		select {
		case <-ctx.Done():
			e.process(context.WithoutCancel(ctx), batch)
			return ctx.Err()
		case item, ok := <-e.Intake.Out():
			if !ok {
				e.process(context.WithoutCancel(ctx), batch)
				return nil
			}
			batch = append(batch, item)
			if len(batch) >= e.Cfg.Pipeline.BatchSize {
				e.process(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				e.process(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// process runs one batch through fetch enrichment, extraction, persistence
// and online clustering. Item-level failures are logged and dropped; the
// loop always continues.
func (e *Env) process(ctx context.Context, items []model.Item) {
	if len(items) == 0 {
		return
	}

	inputs := make([]extract.Input, len(items))
	for i, item := range items {
		inputs[i] = extract.Input{
			SourceURL: item.URL,
			AuthorID:  item.AuthorID,
			Text:      e.enrichText(ctx, item),
		}
	}

	records, failures, err := e.Gateway.Extract(ctx, inputs, e.contextEvents(ctx))
	if err != nil {
		zap.L().Warn("extraction interrupted", zap.Error(err))
		return
	}
	for _, f := range failures {
		zap.L().Warn("item dropped by extraction",
			zap.String("source_url", f.SourceURL), zap.Error(f.Err))
	}

	for i := range records {
		rec := &records[i]
		if err := e.Store.SaveIntelligence(ctx, rec); err != nil {
			zap.L().Error("intelligence save failed",
				zap.String("source_url", rec.SourceURL), zap.Error(err))
			continue
		}
		eventID, created, err := e.Engine.Assign(ctx, rec)
		if err != nil {
			zap.L().Error("event assignment failed",
				zap.String("source_url", rec.SourceURL), zap.Error(err))
			continue
		}
		rec.EventID = eventID
		zap.L().Debug("record clustered",
			zap.String("source_url", rec.SourceURL),
			zap.String("event_id", eventID),
			zap.Bool("created", created))
	}
}

// enrichText swaps an RSS item's headline-and-blurb for the full article when
// the page fetch succeeds. Fetch failure is "no linked content", not an
// error.
func (e *Env) enrichText(ctx context.Context, item model.Item) string {
	if item.Origin != model.OriginRSS {
		return item.Text
	}
	content, err := e.Fetcher.Fetch(ctx, item.URL)
	if err != nil {
		zap.L().Debug("page fetch failed, using feed text",
			zap.String("url", item.URL), zap.Error(err))
		return item.Text
	}
	return item.Text + "\n\n" + content
}

// contextEvents selects the highest-signal recent events to hand to the
// reasoning service. This is an accuracy optimization only; matching truth
// lives in the similarity index.
func (e *Env) contextEvents(ctx context.Context) []model.EventContext {
	limit := e.Cfg.Pipeline.ContextEvents
	if limit <= 0 {
		return nil
	}
	events, err := e.Store.EventsSince(ctx, timeNow().Add(-e.Cfg.Cluster.RecencyWindow()))
	if err != nil {
		zap.L().Warn("context event lookup failed", zap.Error(err))
		return nil
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Signal > events[j].Signal })
	if len(events) > limit {
		events = events[:limit]
	}
	out := make([]model.EventContext, len(events))
	for i, ev := range events {
		out[i] = model.EventContext{ID: ev.ID, Summary: ev.Summary}
	}
	return out
}

// reclusterLoop periodically rebuilds the event set and prunes index entries
// that fell out of the recluster window.
func (e *Env) reclusterLoop(ctx context.Context) error {
	interval := time.Duration(e.Cfg.Cluster.ReclusterIntervalMin) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Recluster.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return err
				}
				zap.L().Error("recluster pass failed", zap.Error(err))
				continue
			}
			pruned := e.Index.Prune(timeNow().Add(-e.Cfg.Cluster.ReclusterWindow()))
			if pruned > 0 {
				zap.L().Debug("index pruned", zap.Int("entries", pruned))
			}
		}
	}
}
