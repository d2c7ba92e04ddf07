package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sentinel/internal/model"
)

// RSSAdapter polls a set of feeds on an interval. Feed failures are logged
// per feed and never end the poll loop; the supervisor only sees context
// cancellation.
type RSSAdapter struct {
	feeds    []string
	interval time.Duration
	parser   *gofeed.Parser
	limiter  *rate.Limiter
}

func NewRSSAdapter(feeds []string, interval time.Duration, requestsPerSecond float64) *RSSAdapter {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &RSSAdapter{
		feeds:    feeds,
		interval: interval,
		parser:   gofeed.NewParser(),
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (a *RSSAdapter) Name() string         { return "rss" }
func (a *RSSAdapter) Origin() model.Origin { return model.OriginRSS }

func (a *RSSAdapter) Run(ctx context.Context, emit EmitFunc) error {
	// Poll immediately on start, then on the interval.
	if err := a.pollAll(ctx, emit); err != nil {
		return err
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.pollAll(ctx, emit); err != nil {
				return err
			}
		}
	}
}

func (a *RSSAdapter) pollAll(ctx context.Context, emit EmitFunc) error {
	for _, feedURL := range a.feeds {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		feed, err := a.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("rss feed fetch failed",
				zap.String("feed", feedURL), zap.Error(err))
			continue
		}
		for _, entry := range feed.Items {
			item, ok := normalizeRSSEntry(feedURL, entry)
			if !ok {
				continue
			}
			if err := emit(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeRSSEntry(feedURL string, entry *gofeed.Item) (model.Item, bool) {
	if entry == nil || entry.Link == "" {
		return model.Item{}, false
	}
	externalID := entry.GUID
	if externalID == "" {
		externalID = entry.Link
	}

	// Full content over the summary blurb; feeds ship both as HTML.
	body := entry.Content
	if body == "" {
		body = entry.Description
	}
	bodyText, bodyLinks := flattenStatusHTML(body)

	var parts []string
	if entry.Title != "" {
		parts = append(parts, entry.Title)
	}
	if bodyText != "" {
		parts = append(parts, bodyText)
	}
	text := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if text == "" {
		return model.Item{}, false
	}

	var links []string
	for _, l := range entry.Links {
		if l != "" && l != entry.Link {
			links = append(links, l)
		}
	}
	for _, l := range bodyLinks {
		if l != entry.Link {
			links = append(links, l)
		}
	}
	return model.Item{
		Origin:        model.OriginRSS,
		ExternalID:    externalID,
		URL:           entry.Link,
		AuthorID:      feedURL,
		Text:          text,
		OutboundLinks: links,
		ArrivedAt:     time.Now().UTC(),
	}, true
}
