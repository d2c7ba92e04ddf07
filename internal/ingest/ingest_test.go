package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/rules"
)

func TestNormalizeJetstream(t *testing.T) {
	post := `{
		"did": "did:plc:abc123",
		"kind": "commit",
		"commit": {
			"operation": "create",
			"collection": "app.bsky.feed.post",
			"rkey": "3kabc",
			"record": {
				"text": "explosion reported at the port",
				"facets": [{"features": [
					{"$type": "app.bsky.richtext.facet#link", "uri": "https://news.example.com/story"},
					{"$type": "app.bsky.richtext.facet#mention"}
				]}]
			}
		}
	}`

	item, ok := normalizeJetstream([]byte(post))
	require.True(t, ok)
	assert.Equal(t, model.OriginBluesky, item.Origin)
	assert.Equal(t, "at://did:plc:abc123/app.bsky.feed.post/3kabc", item.ExternalID)
	assert.Equal(t, "https://bsky.app/profile/did:plc:abc123/post/3kabc", item.URL)
	assert.Equal(t, "did:plc:abc123", item.AuthorID)
	assert.Equal(t, []string{"https://news.example.com/story"}, item.OutboundLinks)
	assert.False(t, item.ArrivedAt.IsZero())
}

func TestNormalizeJetstream_Skips(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"reply", `{"did":"d","kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.post","rkey":"r","record":{"text":"t","reply":{"root":{}}}}}`},
		{"delete", `{"did":"d","kind":"commit","commit":{"operation":"delete","collection":"app.bsky.feed.post","rkey":"r","record":{"text":"t"}}}`},
		{"wrong collection", `{"did":"d","kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.like","rkey":"r","record":{"text":"t"}}}`},
		{"empty text", `{"did":"d","kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.post","rkey":"r","record":{"text":""}}}`},
		{"identity event", `{"did":"d","kind":"identity"}`},
		{"malformed", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := normalizeJetstream([]byte(tt.json))
			assert.False(t, ok)
		})
	}
}

func TestNormalizeMastodon(t *testing.T) {
	status := `{
		"id": "42",
		"uri": "https://mastodon.social/users/alice/statuses/42",
		"url": "https://mastodon.social/@alice/42",
		"content": "<p>Fire at the refinery. <a href=\"https://news.example.com/fire\">report</a> <a href=\"https://mastodon.social/tags/fire\" class=\"mention hashtag\">#fire</a></p>",
		"account": {"acct": "alice"}
	}`

	item, ok := normalizeMastodon([]byte(status))
	require.True(t, ok)
	assert.Equal(t, model.OriginMastodon, item.Origin)
	assert.Equal(t, "https://mastodon.social/users/alice/statuses/42", item.ExternalID)
	assert.Equal(t, "alice", item.AuthorID)
	assert.Contains(t, item.Text, "Fire at the refinery.")
	assert.Equal(t, []string{"https://news.example.com/fire"}, item.OutboundLinks)
}

func TestFlattenStatusHTML(t *testing.T) {
	text, links := flattenStatusHTML(
		`<p>line one<br>line two</p><p><a href="https://a.example.com">a</a> <a href="https://a.example.com">dup</a> <a class="mention" href="https://m.example.com/@bob">@bob</a></p>`)
	assert.Contains(t, text, "line one\nline two")
	assert.Equal(t, []string{"https://a.example.com"}, links)
}

func TestNormalizeRSSEntry(t *testing.T) {
	entry := &gofeed.Item{
		GUID:        "guid-1",
		Link:        "https://news.example.com/story",
		Title:       "Port explosion",
		Description: "A large explosion was reported.",
		Links:       []string{"https://news.example.com/story", "https://news.example.com/photos"},
	}
	item, ok := normalizeRSSEntry("https://news.example.com/feed", entry)
	require.True(t, ok)
	assert.Equal(t, model.OriginRSS, item.Origin)
	assert.Equal(t, "guid-1", item.ExternalID)
	assert.Equal(t, "https://news.example.com/story", item.URL)
	assert.Equal(t, "https://news.example.com/feed", item.AuthorID)
	assert.Equal(t, "Port explosion\n\nA large explosion was reported.", item.Text)
	assert.Equal(t, []string{"https://news.example.com/photos"}, item.OutboundLinks)

	_, ok = normalizeRSSEntry("f", &gofeed.Item{Link: "https://x.example.com", Title: ""})
	assert.False(t, ok)

	_, ok = normalizeRSSEntry("f", &gofeed.Item{Title: "no link"})
	assert.False(t, ok)
}

func TestNormalizeRSSEntry_ContentPreferredAndFlattened(t *testing.T) {
	entry := &gofeed.Item{
		GUID:        "guid-2",
		Link:        "https://news.example.com/story",
		Title:       "Refinery fire",
		Description: "Short blurb.",
		Content:     `<p>Officials confirmed the <a href="https://gov.example.com/notice">notice</a>.</p><p>Crews on scene.</p>`,
	}
	item, ok := normalizeRSSEntry("https://news.example.com/feed", entry)
	require.True(t, ok)
	assert.Equal(t, "Refinery fire\n\nOfficials confirmed the notice.\nCrews on scene.", item.Text)
	assert.NotContains(t, item.Text, "Short blurb")
	assert.NotContains(t, item.Text, "<p>")
	assert.Contains(t, item.OutboundLinks, "https://gov.example.com/notice")
}

func TestSupervise_ReconnectsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	runs := 0
	a := &funcAdapter{run: func(ctx context.Context, emit EmitFunc) error {
		runs++
		if runs >= 3 {
			cancel()
		}
		return eris.New("disconnected")
	}}

	err := supervise(ctx, a, func(ctx context.Context, item model.Item) error { return nil },
		time.Millisecond, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, runs, 3)
}

type funcAdapter struct {
	run func(ctx context.Context, emit EmitFunc) error
}

func (f *funcAdapter) Name() string         { return "func" }
func (f *funcAdapter) Origin() model.Origin { return model.Origin("func") }
func (f *funcAdapter) Run(ctx context.Context, emit EmitFunc) error {
	return f.run(ctx, emit)
}

type memLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemLedger() *memLedger { return &memLedger{seen: map[string]bool{}} }

func (l *memLedger) Seen(ctx context.Context, origin model.Origin, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[string(origin)+"|"+id], nil
}

func (l *memLedger) MarkSeen(ctx context.Context, origin model.Origin, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[string(origin)+"|"+id] = true
	return nil
}

func TestIntake_AdmitsOnceAndFilters(t *testing.T) {
	filter := rules.New(rules.RuleSet{AcceptKeywords: []string{"explosion"}})
	in := NewIntake(filter, newMemLedger(), 8)

	ctx := context.Background()
	item := model.Item{
		Origin:     model.OriginBluesky,
		ExternalID: "at://post/1",
		Text:       "explosion at the port",
		ArrivedAt:  time.Now(),
	}

	require.NoError(t, in.admit(ctx, item))
	require.NoError(t, in.admit(ctx, item)) // duplicate, ledger drops it
	require.NoError(t, in.admit(ctx, model.Item{
		Origin:     model.OriginBluesky,
		ExternalID: "at://post/2",
		Text:       "lunch was great",
	}))

	assert.Len(t, in.queue, 1)
	got := <-in.queue
	assert.Equal(t, "at://post/1", got.ExternalID)
}

func TestIntake_EnqueueBlocksWhenFull(t *testing.T) {
	filter := rules.New(rules.RuleSet{AcceptKeywords: []string{"x"}})
	in := NewIntake(filter, newMemLedger(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, in.admit(ctx, model.Item{Origin: model.OriginRSS, ExternalID: "1", Text: "x"}))

	done := make(chan error, 1)
	go func() {
		done <- in.admit(ctx, model.Item{Origin: model.OriginRSS, ExternalID: "2", Text: "x"})
	}()

	select {
	case <-done:
		t.Fatal("admit should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestIntake_RunClosesQueue(t *testing.T) {
	filter := rules.New(rules.RuleSet{})
	in := NewIntake(filter, newMemLedger(), 4, &funcAdapter{
		run: func(ctx context.Context, emit EmitFunc) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	cancel()
	assert.Error(t, <-done)

	_, open := <-in.Out()
	assert.False(t, open)
}
