package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sentinel/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS seen_items (
	origin      TEXT NOT NULL,
	external_id TEXT NOT NULL,
	added_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (origin, external_id)
);

CREATE TABLE IF NOT EXISTS intelligence (
	source_url TEXT PRIMARY KEY,
	summary    TEXT NOT NULL,
	signal     INTEGER NOT NULL,
	embedding  BYTEA,
	financial  BOOLEAN NOT NULL DEFAULT false,
	alertable  BOOLEAN NOT NULL DEFAULT false,
	event_id   TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	summary         TEXT NOT NULL,
	centroid        BYTEA,
	signal          INTEGER NOT NULL,
	alerted         BOOLEAN NOT NULL DEFAULT false,
	added_at        TIMESTAMPTZ NOT NULL,
	last_updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intelligence_created_at ON intelligence(created_at);
CREATE INDEX IF NOT EXISTS idx_intelligence_event_id ON intelligence(event_id);
CREATE INDEX IF NOT EXISTS idx_events_signal_alerted ON events(signal, alerted);
CREATE INDEX IF NOT EXISTS idx_events_last_updated_at ON events(last_updated_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Dedup ledger ---

func (s *PostgresStore) Seen(ctx context.Context, origin model.Origin, externalID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM seen_items WHERE origin = $1 AND external_id = $2`,
		string(origin), externalID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: seen lookup")
	}
	return true, nil
}

func (s *PostgresStore) MarkSeen(ctx context.Context, origin model.Origin, externalID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seen_items (origin, external_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		string(origin), externalID,
	)
	return eris.Wrap(err, "postgres: mark seen")
}

// --- Intelligence ---

func (s *PostgresStore) SaveIntelligence(ctx context.Context, rec *model.IntelligenceRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO intelligence
		 (source_url, summary, signal, embedding, financial, alertable, event_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
		 ON CONFLICT (source_url) DO NOTHING`,
		rec.SourceURL, rec.Summary, rec.Signal, encodeVector(rec.Embedding),
		rec.Financial, rec.Alertable, rec.EventID,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save intelligence %s", rec.SourceURL)
}

func (s *PostgresStore) GetIntelligence(ctx context.Context, sourceURL string) (*model.IntelligenceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT source_url, summary, signal, embedding, financial, alertable, event_id, created_at, updated_at
		 FROM intelligence WHERE source_url = $1`, sourceURL)
	rec, err := scanIntelligencePg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, eris.Wrap(err, "postgres: get intelligence")
}

func (s *PostgresStore) AssignEvent(ctx context.Context, sourceURL, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE intelligence SET event_id = $1, updated_at = $2 WHERE source_url = $3`,
		eventID, time.Now().UTC(), sourceURL,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: assign event %s", sourceURL)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "intelligence %s", sourceURL)
	}
	return nil
}

func (s *PostgresStore) IntelligenceSince(ctx context.Context, since time.Time) ([]model.IntelligenceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_url, summary, signal, embedding, financial, alertable, event_id, created_at, updated_at
		 FROM intelligence WHERE created_at >= $1 ORDER BY created_at`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: intelligence since")
	}
	defer rows.Close()
	return collectIntelligencePg(rows)
}

func (s *PostgresStore) EventMembers(ctx context.Context, eventID string) ([]model.IntelligenceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_url, summary, signal, embedding, financial, alertable, event_id, created_at, updated_at
		 FROM intelligence WHERE event_id = $1 ORDER BY created_at`, eventID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: event members %s", eventID)
	}
	defer rows.Close()
	return collectIntelligencePg(rows)
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, summary, centroid, signal, alerted, added_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Summary, encodeVector(ev.Centroid), ev.Signal, ev.Alerted,
		ev.AddedAt.UTC(), ev.LastUpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: create event %s", ev.ID)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, summary, centroid, signal, alerted, added_at, last_updated_at
		 FROM events WHERE id = $1`, id)
	ev, err := scanEventPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, eris.Wrap(err, "postgres: get event")
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, ev *model.Event) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET summary = $1, centroid = $2, signal = $3, alerted = $4, last_updated_at = $5
		 WHERE id = $6`,
		ev.Summary, encodeVector(ev.Centroid), ev.Signal, ev.Alerted,
		ev.LastUpdatedAt.UTC(), ev.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update event %s", ev.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "event %s", ev.ID)
	}
	return nil
}

func (s *PostgresStore) EventsSince(ctx context.Context, since time.Time) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, summary, centroid, signal, alerted, added_at, last_updated_at
		 FROM events WHERE last_updated_at >= $1 ORDER BY last_updated_at DESC`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: events since")
	}
	defer rows.Close()
	return collectEventsPg(rows)
}

func (s *PostgresStore) AlertableEvents(ctx context.Context, minSignal int) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, summary, centroid, signal, alerted, added_at, last_updated_at
		 FROM events WHERE signal > $1 AND alerted = false ORDER BY signal DESC`, minSignal)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: alertable events")
	}
	defer rows.Close()
	return collectEventsPg(rows)
}

func (s *PostgresStore) SetEventAlerted(ctx context.Context, id string, alerted bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET alerted = $1, last_updated_at = $2 WHERE id = $3`,
		alerted, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set event alerted %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "event %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete event %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "event %s", id)
	}
	return nil
}

func (s *PostgresStore) ReplaceEvents(ctx context.Context, clusters []EventCluster) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace events: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE intelligence SET event_id = NULL WHERE event_id IS NOT NULL`); err != nil {
		return eris.Wrap(err, "postgres: replace events: detach members")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM events`); err != nil {
		return eris.Wrap(err, "postgres: replace events: clear")
	}

	now := time.Now().UTC()
	for _, c := range clusters {
		ev := c.Event
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (id, summary, centroid, signal, alerted, added_at, last_updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.ID, ev.Summary, encodeVector(ev.Centroid), ev.Signal, ev.Alerted,
			ev.AddedAt.UTC(), ev.LastUpdatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: replace events: insert %s", ev.ID)
		}
		for _, u := range c.MemberURLs {
			if _, err := tx.Exec(ctx,
				`UPDATE intelligence SET event_id = $1, updated_at = $2 WHERE source_url = $3`,
				ev.ID, now, u,
			); err != nil {
				return eris.Wrapf(err, "postgres: replace events: attach %s", u)
			}
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace events: commit")
}

// --- scanning helpers (pgx rows don't share database/sql interfaces) ---

func scanIntelligencePg(row pgx.Row) (*model.IntelligenceRecord, error) {
	var rec model.IntelligenceRecord
	var blob []byte
	var eventID sql.NullString
	if err := row.Scan(&rec.SourceURL, &rec.Summary, &rec.Signal, &blob,
		&rec.Financial, &rec.Alertable, &eventID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	emb, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	rec.Embedding = emb
	rec.EventID = eventID.String
	return &rec, nil
}

func scanEventPg(row pgx.Row) (*model.Event, error) {
	var ev model.Event
	var blob []byte
	if err := row.Scan(&ev.ID, &ev.Summary, &blob, &ev.Signal, &ev.Alerted,
		&ev.AddedAt, &ev.LastUpdatedAt); err != nil {
		return nil, err
	}
	centroid, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	ev.Centroid = centroid
	return &ev, nil
}

func collectIntelligencePg(rows pgx.Rows) ([]model.IntelligenceRecord, error) {
	var out []model.IntelligenceRecord
	for rows.Next() {
		rec, err := scanIntelligencePg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan intelligence")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate intelligence")
}

func collectEventsPg(rows pgx.Rows) ([]model.Event, error) {
	var out []model.Event
	for rows.Next() {
		ev, err := scanEventPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate events")
}
