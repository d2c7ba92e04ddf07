package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sentinel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS seen_items (
	origin      TEXT NOT NULL,
	external_id TEXT NOT NULL,
	added_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (origin, external_id)
);

CREATE TABLE IF NOT EXISTS intelligence (
	source_url TEXT PRIMARY KEY,
	summary    TEXT NOT NULL,
	signal     INTEGER NOT NULL,
	embedding  BLOB,
	financial  INTEGER NOT NULL DEFAULT 0,
	alertable  INTEGER NOT NULL DEFAULT 0,
	event_id   TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	summary         TEXT NOT NULL,
	centroid        BLOB,
	signal          INTEGER NOT NULL,
	alerted         INTEGER NOT NULL DEFAULT 0,
	added_at        DATETIME NOT NULL,
	last_updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intelligence_created_at ON intelligence(created_at);
CREATE INDEX IF NOT EXISTS idx_intelligence_event_id ON intelligence(event_id);
CREATE INDEX IF NOT EXISTS idx_events_signal_alerted ON events(signal, alerted);
CREATE INDEX IF NOT EXISTS idx_events_last_updated_at ON events(last_updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Dedup ledger ---

func (s *SQLiteStore) Seen(ctx context.Context, origin model.Origin, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_items WHERE origin = ? AND external_id = ?`,
		string(origin), externalID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: seen lookup")
	}
	return true, nil
}

func (s *SQLiteStore) MarkSeen(ctx context.Context, origin model.Origin, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_items (origin, external_id) VALUES (?, ?)`,
		string(origin), externalID,
	)
	return eris.Wrap(err, "sqlite: mark seen")
}

// --- Intelligence ---

func (s *SQLiteStore) SaveIntelligence(ctx context.Context, rec *model.IntelligenceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO intelligence
		 (source_url, summary, signal, embedding, financial, alertable, event_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)`,
		rec.SourceURL, rec.Summary, rec.Signal, encodeVector(rec.Embedding),
		boolToInt(rec.Financial), boolToInt(rec.Alertable), rec.EventID,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save intelligence %s", rec.SourceURL)
}

func (s *SQLiteStore) GetIntelligence(ctx context.Context, sourceURL string) (*model.IntelligenceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_url, summary, signal, embedding, financial, alertable, event_id, created_at, updated_at
		 FROM intelligence WHERE source_url = ?`, sourceURL)
	rec, err := scanIntelligence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) AssignEvent(ctx context.Context, sourceURL, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intelligence SET event_id = ?, updated_at = ? WHERE source_url = ?`,
		eventID, time.Now().UTC(), sourceURL,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: assign event %s", sourceURL)
	}
	return checkRowsAffected(res, "intelligence", sourceURL)
}

func (s *SQLiteStore) IntelligenceSince(ctx context.Context, since time.Time) ([]model.IntelligenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_url, summary, signal, embedding, financial, alertable, event_id, created_at, updated_at
		 FROM intelligence WHERE created_at >= ? ORDER BY created_at`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: intelligence since")
	}
	defer rows.Close()
	return collectIntelligence(rows)
}

func (s *SQLiteStore) EventMembers(ctx context.Context, eventID string) ([]model.IntelligenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_url, summary, signal, embedding, financial, alertable, event_id, created_at, updated_at
		 FROM intelligence WHERE event_id = ? ORDER BY created_at`, eventID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: event members %s", eventID)
	}
	defer rows.Close()
	return collectIntelligence(rows)
}

// --- Events ---

func (s *SQLiteStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, summary, centroid, signal, alerted, added_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Summary, encodeVector(ev.Centroid), ev.Signal, boolToInt(ev.Alerted),
		ev.AddedAt.UTC(), ev.LastUpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: create event %s", ev.ID)
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, summary, centroid, signal, alerted, added_at, last_updated_at
		 FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

func (s *SQLiteStore) UpdateEvent(ctx context.Context, ev *model.Event) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET summary = ?, centroid = ?, signal = ?, alerted = ?, last_updated_at = ?
		 WHERE id = ?`,
		ev.Summary, encodeVector(ev.Centroid), ev.Signal, boolToInt(ev.Alerted),
		ev.LastUpdatedAt.UTC(), ev.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update event %s", ev.ID)
	}
	return checkRowsAffected(res, "event", ev.ID)
}

func (s *SQLiteStore) EventsSince(ctx context.Context, since time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, summary, centroid, signal, alerted, added_at, last_updated_at
		 FROM events WHERE last_updated_at >= ? ORDER BY last_updated_at DESC`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: events since")
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *SQLiteStore) AlertableEvents(ctx context.Context, minSignal int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, summary, centroid, signal, alerted, added_at, last_updated_at
		 FROM events WHERE signal > ? AND alerted = 0 ORDER BY signal DESC`, minSignal)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: alertable events")
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *SQLiteStore) SetEventAlerted(ctx context.Context, id string, alerted bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET alerted = ?, last_updated_at = ? WHERE id = ?`,
		boolToInt(alerted), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set event alerted %s", id)
	}
	return checkRowsAffected(res, "event", id)
}

func (s *SQLiteStore) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete event %s", id)
	}
	return checkRowsAffected(res, "event", id)
}

func (s *SQLiteStore) ReplaceEvents(ctx context.Context, clusters []EventCluster) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace events: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE intelligence SET event_id = NULL WHERE event_id IS NOT NULL`); err != nil {
		return eris.Wrap(err, "sqlite: replace events: detach members")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return eris.Wrap(err, "sqlite: replace events: clear")
	}

	now := time.Now().UTC()
	for _, c := range clusters {
		ev := c.Event
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, summary, centroid, signal, alerted, added_at, last_updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.Summary, encodeVector(ev.Centroid), ev.Signal, boolToInt(ev.Alerted),
			ev.AddedAt.UTC(), ev.LastUpdatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: replace events: insert %s", ev.ID)
		}
		for _, u := range c.MemberURLs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE intelligence SET event_id = ?, updated_at = ? WHERE source_url = ?`,
				ev.ID, now, u,
			); err != nil {
				return eris.Wrapf(err, "sqlite: replace events: attach %s", u)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: replace events: commit")
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntelligence(row rowScanner) (*model.IntelligenceRecord, error) {
	var rec model.IntelligenceRecord
	var blob []byte
	var financial, alertable int
	var eventID sql.NullString
	if err := row.Scan(&rec.SourceURL, &rec.Summary, &rec.Signal, &blob,
		&financial, &alertable, &eventID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	emb, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	rec.Embedding = emb
	rec.Financial = financial != 0
	rec.Alertable = alertable != 0
	rec.EventID = eventID.String
	return &rec, nil
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var ev model.Event
	var blob []byte
	var alerted int
	if err := row.Scan(&ev.ID, &ev.Summary, &blob, &ev.Signal, &alerted,
		&ev.AddedAt, &ev.LastUpdatedAt); err != nil {
		return nil, err
	}
	centroid, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	ev.Centroid = centroid
	ev.Alerted = alerted != 0
	return &ev, nil
}

func collectIntelligence(rows *sql.Rows) ([]model.IntelligenceRecord, error) {
	var out []model.IntelligenceRecord
	for rows.Next() {
		rec, err := scanIntelligence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan intelligence")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate intelligence")
}

func collectEvents(rows *sql.Rows) ([]model.Event, error) {
	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}
