package fetch

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	content string
	err     error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return s.content, s.err
}

func TestRouter_PrefixRouting(t *testing.T) {
	special := &stubFetcher{content: "special"}
	fallback := &stubFetcher{content: "fallback"}

	r := NewRouter(fallback, 0)
	r.Route("https://special.example.com/", special)

	got, err := r.Fetch(context.Background(), "https://special.example.com/post/1")
	require.NoError(t, err)
	assert.Equal(t, "special", got)

	got, err = r.Fetch(context.Background(), "https://other.example.com/post/1")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}

func TestRouter_FirstMatchingRuleWins(t *testing.T) {
	a := &stubFetcher{content: "a"}
	b := &stubFetcher{content: "b"}

	r := NewRouter(nil, 0)
	r.Route("https://example.com/", a)
	r.Route("https://example.com/deep/", b)

	got, err := r.Fetch(context.Background(), "https://example.com/deep/post")
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}

func TestRouter_TruncatesContent(t *testing.T) {
	r := NewRouter(&stubFetcher{content: strings.Repeat("x", 100)}, 10)

	got, err := r.Fetch(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestRouter_NoFetcher(t *testing.T) {
	r := NewRouter(nil, 0)
	_, err := r.Fetch(context.Background(), "https://example.com/a")
	assert.Error(t, err)
}

func TestRouter_PropagatesError(t *testing.T) {
	r := NewRouter(&stubFetcher{err: eris.New("boom")}, 0)
	_, err := r.Fetch(context.Background(), "https://example.com/a")
	assert.Error(t, err)
}
