package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/store"
)

func newAPIServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return NewServer(s), s
}

func TestServer_Health(t *testing.T) {
	srv, _ := newAPIServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_RecentEvents(t *testing.T) {
	srv, s := newAPIServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateEvent(ctx, &model.Event{
		ID: "ev-1", Summary: "port explosion", Signal: 8,
		AddedAt: now, LastUpdatedAt: now,
	}))
	require.NoError(t, s.SaveIntelligence(ctx, &model.IntelligenceRecord{
		SourceURL: "https://example.com/a", Summary: "rec", Signal: 8,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.AssignEvent(ctx, "https://example.com/a", "ev-1"))

	// Outside the default 24h window.
	old := now.Add(-48 * time.Hour)
	require.NoError(t, s.CreateEvent(ctx, &model.Event{
		ID: "ev-old", Summary: "stale", Signal: 2,
		AddedAt: old, LastUpdatedAt: old,
	}))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events/recent", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []eventView `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "ev-1", resp.Events[0].ID)
	assert.Equal(t, 1, resp.Events[0].Members)
	assert.Equal(t, []string{"https://example.com/a"}, resp.Events[0].Sources)
}

func TestServer_Stats(t *testing.T) {
	srv, s := newAPIServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, signal := range []int{4, 8} {
		require.NoError(t, s.SaveIntelligence(ctx, &model.IntelligenceRecord{
			SourceURL: "https://example.com/" + string(rune('a'+i)),
			Summary:   "rec", Signal: signal, CreatedAt: now, UpdatedAt: now,
		}))
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats?hours=12", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 12, stats["windowHours"])
	assert.EqualValues(t, 2, stats["records"])
	assert.EqualValues(t, 6, stats["meanSignal"])
}
