package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/model"
)

// jetstreamEvent is the subset of the Bluesky jetstream commit envelope we
// consume.
type jetstreamEvent struct {
	DID    string `json:"did"`
	Kind   string `json:"kind"`
	Commit struct {
		Operation  string `json:"operation"`
		Collection string `json:"collection"`
		RKey       string `json:"rkey"`
		Record     struct {
			Text   string          `json:"text"`
			Reply  json.RawMessage `json:"reply"`
			Facets []struct {
				Features []struct {
					Type string `json:"$type"`
					URI  string `json:"uri"`
				} `json:"features"`
			} `json:"facets"`
		} `json:"record"`
	} `json:"commit"`
}

// BlueskyAdapter streams public posts from a jetstream endpoint.
type BlueskyAdapter struct {
	url    string
	dialer *websocket.Dialer
}

func NewBlueskyAdapter(url string) *BlueskyAdapter {
	return &BlueskyAdapter{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

func (a *BlueskyAdapter) Name() string         { return "bluesky" }
func (a *BlueskyAdapter) Origin() model.Origin { return model.OriginBluesky }

func (a *BlueskyAdapter) Run(ctx context.Context, emit EmitFunc) error {
	conn, _, err := a.dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return eris.Wrapf(err, "bluesky: dial %s", a.url)
	}
	defer conn.Close()
	zap.L().Info("bluesky stream connected", zap.String("url", a.url))

	// Unblock ReadMessage on shutdown.
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-closed:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return eris.Wrap(err, "bluesky: read")
		}

		item, ok := normalizeJetstream(message)
		if !ok {
			continue
		}
		if err := emit(ctx, item); err != nil {
			return err
		}
	}
}

// normalizeJetstream maps one jetstream message to an Item. Replies,
// deletions and non-post collections normalize to nothing.
func normalizeJetstream(message []byte) (model.Item, bool) {
	var ev jetstreamEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return model.Item{}, false
	}
	if ev.Kind != "commit" ||
		ev.Commit.Operation != "create" ||
		ev.Commit.Collection != "app.bsky.feed.post" ||
		len(ev.Commit.Record.Reply) > 0 ||
		ev.Commit.Record.Text == "" {
		return model.Item{}, false
	}

	var links []string
	for _, facet := range ev.Commit.Record.Facets {
		for _, f := range facet.Features {
			if f.Type == "app.bsky.richtext.facet#link" && f.URI != "" {
				links = append(links, f.URI)
			}
		}
	}

	externalID := fmt.Sprintf("at://%s/app.bsky.feed.post/%s", ev.DID, ev.Commit.RKey)
	return model.Item{
		Origin:        model.OriginBluesky,
		ExternalID:    externalID,
		URL:           fmt.Sprintf("https://bsky.app/profile/%s/post/%s", ev.DID, ev.Commit.RKey),
		AuthorID:      ev.DID,
		Text:          ev.Commit.Record.Text,
		OutboundLinks: links,
		ArrivedAt:     time.Now().UTC(),
	}, true
}
