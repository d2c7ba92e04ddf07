package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/sentinel/internal/model"
)

// mastodonStatus is the subset of a status payload from the streaming API.
type mastodonStatus struct {
	ID      string `json:"id"`
	URI     string `json:"uri"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Account struct {
		Acct string `json:"acct"`
	} `json:"account"`
}

// MastodonAdapter consumes the public firehose of a Mastodon instance over
// server-sent events.
type MastodonAdapter struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

func NewMastodonAdapter(baseURL, accessToken string) *MastodonAdapter {
	return &MastodonAdapter{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		// No overall timeout: the stream is long-lived by design.
		client: &http.Client{},
	}
}

func (a *MastodonAdapter) Name() string         { return "mastodon" }
func (a *MastodonAdapter) Origin() model.Origin { return model.OriginMastodon }

func (a *MastodonAdapter) Run(ctx context.Context, emit EmitFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/v1/streaming/public", nil)
	if err != nil {
		return eris.Wrap(err, "mastodon: create request")
	}
	req.Header.Set("Accept", "text/event-stream")
	if a.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.accessToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "mastodon: connect stream")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("mastodon: stream status %d", resp.StatusCode)
	}
	zap.L().Info("mastodon stream connected", zap.String("instance", a.baseURL))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if eventType != "update" {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			item, ok := normalizeMastodon([]byte(data))
			if !ok {
				continue
			}
			if err := emit(ctx, item); err != nil {
				return err
			}
		case line == "":
			eventType = ""
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return eris.Wrap(err, "mastodon: read stream")
	}
	return eris.New("mastodon: stream ended")
}

// normalizeMastodon maps a status payload to an Item, flattening the HTML
// content to text and collecting external anchors. Mention and hashtag
// anchors are navigation, not evidence, and are skipped.
func normalizeMastodon(data []byte) (model.Item, bool) {
	var st mastodonStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return model.Item{}, false
	}
	if st.URI == "" || st.Content == "" {
		return model.Item{}, false
	}

	text, links := flattenStatusHTML(st.Content)
	if strings.TrimSpace(text) == "" {
		return model.Item{}, false
	}

	url := st.URL
	if url == "" {
		url = st.URI
	}
	return model.Item{
		Origin:        model.OriginMastodon,
		ExternalID:    st.URI,
		URL:           url,
		AuthorID:      st.Account.Acct,
		Text:          text,
		OutboundLinks: links,
		ArrivedAt:     time.Now().UTC(),
	}, true
}

// flattenStatusHTML extracts the text content and external link hrefs from a
// status's HTML body. Parse errors yield whatever was recovered; the parser
// is lenient by contract.
func flattenStatusHTML(content string) (string, []string) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", nil
	}

	var (
		b     strings.Builder
		links []string
		seen  = map[string]bool{}
		walk  func(*html.Node)
	)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteString("\n")
		case n.Type == html.ElementNode && n.Data == "a":
			href, classes := "", ""
			for _, attr := range n.Attr {
				switch attr.Key {
				case "href":
					href = attr.Val
				case "class":
					classes = attr.Val
				}
			}
			if href != "" && !anchorIsNavigation(classes) && !seen[href] {
				seen[href] = true
				links = append(links, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && n.Data == "p" {
			b.WriteString("\n")
		}
	}
	walk(root)
	return strings.TrimSpace(b.String()), links
}

func anchorIsNavigation(classAttr string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == "mention" || c == "hashtag" {
			return true
		}
	}
	return false
}
