package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sentinel/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Seen(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT 1 FROM seen_items`).
		WithArgs("bluesky", "at://post/1").
		WillReturnRows(pgxmock.NewRows([]string{"1"}).AddRow(1))

	seen, err := s.Seen(context.Background(), model.OriginBluesky, "at://post/1")
	require.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectQuery(`SELECT 1 FROM seen_items`).
		WithArgs("bluesky", "at://post/2").
		WillReturnRows(pgxmock.NewRows([]string{"1"}))

	seen, err = s.Seen(context.Background(), model.OriginBluesky, "at://post/2")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSeen(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO seen_items`).
		WithArgs("rss", "https://example.com/feed/1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.MarkSeen(context.Background(), model.OriginRSS, "https://example.com/feed/1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetIntelligence(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM intelligence WHERE source_url`).
		WithArgs("https://example.com/a").
		WillReturnRows(pgxmock.NewRows([]string{
			"source_url", "summary", "signal", "embedding",
			"financial", "alertable", "event_id", "created_at", "updated_at",
		}).AddRow(
			"https://example.com/a", "summary", 6, encodeVector([]float32{0.6, 0.8}),
			false, true, nil, now, now,
		))

	rec, err := s.GetIntelligence(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Signal)
	assert.Equal(t, []float32{0.6, 0.8}, rec.Embedding)
	assert.Empty(t, rec.EventID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AssignEvent_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE intelligence SET event_id`).
		WithArgs("ev-1", pgxmock.AnyArg(), "https://example.com/missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.AssignEvent(context.Background(), "https://example.com/missing", "ev-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AlertableEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM events WHERE signal > \$1 AND alerted = false`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "summary", "centroid", "signal", "alerted", "added_at", "last_updated_at",
		}).AddRow("ev-hot", "breaking", encodeVector([]float32{1, 0}), 8, false, now, now))

	evs, err := s.AlertableEvents(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "ev-hot", evs[0].ID)
	assert.Equal(t, 8, evs[0].Signal)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteEvent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM events WHERE id = \$1`).
		WithArgs("ev-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.DeleteEvent(context.Background(), "ev-1"))

	mock.ExpectExec(`DELETE FROM events WHERE id = \$1`).
		WithArgs("ev-gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	err := s.DeleteEvent(context.Background(), "ev-gone")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceEvents_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE intelligence SET event_id = NULL`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec(`DELETE FROM events`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.ReplaceEvents(context.Background(), nil)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceEvents_Commits(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	ev := model.Event{
		ID: "ev-1", Summary: "merged", Centroid: []float32{1, 0},
		Signal: 5, AddedAt: now, LastUpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE intelligence SET event_id = NULL`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM events`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(ev.ID, ev.Summary, encodeVector(ev.Centroid), ev.Signal, false,
			ev.AddedAt, ev.LastUpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE intelligence SET event_id = \$1`).
		WithArgs(ev.ID, pgxmock.AnyArg(), "https://example.com/a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.ReplaceEvents(context.Background(), []EventCluster{
		{Event: ev, MemberURLs: []string{"https://example.com/a"}},
	})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
