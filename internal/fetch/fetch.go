// Package fetch retrieves full article content for items that arrive as bare
// links, such as RSS entries.
package fetch

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/pkg/jina"
)

// Fetcher returns the readable text content of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Router dispatches to the first fetcher whose prefix matches the URL, falling
// back to a default. Prefix rules let particular hosts be routed to a
// specialised fetcher without touching call sites.
type Router struct {
	rules      []rule
	fallback   Fetcher
	maxContent int
}

type rule struct {
	prefix  string
	fetcher Fetcher
}

// NewRouter creates a Router with the given fallback fetcher. maxContent
// bounds returned content length in bytes; zero means unlimited.
func NewRouter(fallback Fetcher, maxContent int) *Router {
	return &Router{fallback: fallback, maxContent: maxContent}
}

// Route registers a fetcher for URLs starting with prefix. Rules are tried in
// registration order.
func (r *Router) Route(prefix string, f Fetcher) {
	r.rules = append(r.rules, rule{prefix: prefix, fetcher: f})
}

func (r *Router) Fetch(ctx context.Context, url string) (string, error) {
	f := r.fallback
	for _, rule := range r.rules {
		if strings.HasPrefix(url, rule.prefix) {
			f = rule.fetcher
			break
		}
	}
	if f == nil {
		return "", eris.Errorf("fetch: no fetcher for %s", url)
	}

	content, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if r.maxContent > 0 && len(content) > r.maxContent {
		zap.L().Debug("truncating fetched content",
			zap.String("url", url), zap.Int("bytes", len(content)))
		content = content[:r.maxContent]
	}
	return content, nil
}

// ReaderFetcher fetches page content through the Jina reader.
type ReaderFetcher struct {
	client jina.Client
}

func NewReaderFetcher(client jina.Client) *ReaderFetcher {
	return &ReaderFetcher{client: client}
}

func (f *ReaderFetcher) Fetch(ctx context.Context, url string) (string, error) {
	resp, err := f.client.Read(ctx, url)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: read %s", url)
	}
	if strings.TrimSpace(resp.Data.Content) == "" {
		return "", eris.Errorf("fetch: empty content for %s", url)
	}
	return resp.Data.Content, nil
}
