package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/adviseriq/advisor-cli/internal/cache"
	"github.com/adviseriq/advisor-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
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
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS recommendations (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	customer_id     TEXT NOT NULL,
	category        TEXT NOT NULL,
	target_feature  TEXT NOT NULL,
	description     TEXT NOT NULL,
	confidence      REAL NOT NULL,
	rank            INTEGER NOT NULL,
	degraded        INTEGER NOT NULL DEFAULT 0,
	annotation      TEXT,
	reasoning_chain TEXT,
	outcome         TEXT NOT NULL DEFAULT 'pending',
	delivered_by    TEXT,
	created_at      DATETIME NOT NULL,
	resolved_at     DATETIME
);

CREATE TABLE IF NOT EXISTS stage_contributions (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL,
	recommendation_id TEXT NOT NULL REFERENCES recommendations(id),
	stage             TEXT NOT NULL,
	status            TEXT NOT NULL,
	summary           TEXT NOT NULL,
	confidence        REAL NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	detail            TEXT,
	recorded_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_cache (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_customer ON recommendations(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_recommendations_outcome ON recommendations(outcome);
CREATE INDEX IF NOT EXISTS idx_contributions_recommendation ON stage_contributions(recommendation_id);
CREATE INDEX IF NOT EXISTS idx_contributions_run ON stage_contributions(run_id);
CREATE INDEX IF NOT EXISTS idx_kv_cache_expires_at ON kv_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteRecColumns = `id, run_id, customer_id, category, target_feature, description,
	confidence, rank, degraded, annotation, reasoning_chain, outcome, delivered_by,
	created_at, resolved_at`

func (s *SQLiteStore) PersistRecommendations(ctx context.Context, recs []model.Recommendation, contribs []model.StageContribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return eris.Wrap(err, "sqlite: persist")
		}
		chain, err := json.Marshal(r.ReasoningChain)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal reasoning chain")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO recommendations (`+sqliteRecColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.RunID, r.CustomerID, string(r.Category), r.TargetFeature, r.Description,
			r.Confidence, r.Rank, r.Degraded, nullable(r.Annotation), string(chain),
			string(r.Outcome), nullable(r.DeliveredBy), r.CreatedAt.UTC(), nullTime(r.ResolvedAt),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert recommendation %s", r.ID)
		}
	}

	for _, c := range contribs {
		detail, err := json.Marshal(c.Detail)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal contribution detail")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stage_contributions (id, run_id, recommendation_id, stage, status,
			 summary, confidence, duration_ms, detail, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.RunID, c.RecommendationID, string(c.Stage), string(c.Status),
			c.Summary, c.Confidence, c.DurationMS, string(detail), c.RecordedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert contribution %s", c.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) PriorRecommendations(ctx context.Context, customerID string, months int) ([]model.Recommendation, error) {
	if months <= 0 {
		months = 12
	}
	since := s.nowFunc().UTC().AddDate(0, -months, 0)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRecColumns+` FROM recommendations
		 WHERE customer_id = ? AND created_at >= ?
		 ORDER BY created_at DESC`,
		customerID, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prior recommendations")
	}
	defer rows.Close()
	return collectRecommendations(rows)
}

func (s *SQLiteStore) GetRecommendation(ctx context.Context, id string) (*model.Recommendation, []model.StageContribution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecColumns+` FROM recommendations WHERE id = ?`, id)
	rec, err := scanRecommendation(row)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, recommendation_id, stage, status, summary, confidence,
		        duration_ms, detail, recorded_at
		 FROM stage_contributions WHERE recommendation_id = ?
		 ORDER BY recorded_at`, id)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: get contributions")
	}
	defer rows.Close()

	var contribs []model.StageContribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, nil, err
		}
		contribs = append(contribs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: iterate contributions")
	}
	return rec, contribs, nil
}

func (s *SQLiteStore) ListRecommendations(ctx context.Context, filter Filter) ([]model.Recommendation, error) {
	query := `SELECT ` + sqliteRecColumns + ` FROM recommendations WHERE 1=1`
	var args []any

	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC, rank`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recommendations")
	}
	defer rows.Close()
	return collectRecommendations(rows)
}

func (s *SQLiteStore) UpdateOutcome(ctx context.Context, id string, outcome model.OutcomeStatus, agentID string) (*model.Recommendation, error) {
	if !model.ValidOutcome(outcome) {
		return nil, eris.Wrapf(ErrInvalidTransition, "unknown outcome %q", outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+sqliteRecColumns+` FROM recommendations WHERE id = ?`, id)
	rec, err := scanRecommendation(row)
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(rec.Outcome, outcome) {
		return nil, eris.Wrapf(ErrInvalidTransition, "%s -> %s", rec.Outcome, outcome)
	}

	rec.Outcome = outcome
	if outcome == model.OutcomeDelivered {
		rec.DeliveredBy = agentID
	}
	if outcome == model.OutcomeAccepted || outcome == model.OutcomeDeclined || outcome == model.OutcomeExcluded {
		t := s.nowFunc().UTC()
		rec.ResolvedAt = &t
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE recommendations SET outcome = ?, delivered_by = ?, resolved_at = ? WHERE id = ?`,
		string(rec.Outcome), nullable(rec.DeliveredBy), nullTime(rec.ResolvedAt), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update outcome %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit")
	}
	return rec, nil
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) ([]byte, time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_cache WHERE key = ?`, key)

	var value []byte
	var expiresAt time.Time
	err := row.Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, cache.NewMissError(key)
	}
	if err != nil {
		return nil, time.Time{}, eris.Wrap(err, "sqlite: get cache entry")
	}
	if s.nowFunc().UTC().After(expiresAt) {
		return nil, time.Time{}, cache.NewMissError(key)
	}
	return value, expiresAt, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_cache WHERE expires_at <= ?`, s.nowFunc().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRecommendation(row scannable) (*model.Recommendation, error) {
	var r model.Recommendation
	var annotation, deliveredBy, chainJSON sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&r.ID, &r.RunID, &r.CustomerID, &r.Category, &r.TargetFeature,
		&r.Description, &r.Confidence, &r.Rank, &r.Degraded, &annotation, &chainJSON,
		&r.Outcome, &deliveredBy, &r.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan recommendation")
	}

	r.Annotation = annotation.String
	r.DeliveredBy = deliveredBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	if chainJSON.Valid && chainJSON.String != "" {
		if err := json.Unmarshal([]byte(chainJSON.String), &r.ReasoningChain); err != nil {
			return nil, eris.Wrap(err, "unmarshal reasoning chain")
		}
	}
	return &r, nil
}

func scanContribution(row scannable) (*model.StageContribution, error) {
	var c model.StageContribution
	var detailJSON sql.NullString

	err := row.Scan(&c.ID, &c.RunID, &c.RecommendationID, &c.Stage, &c.Status,
		&c.Summary, &c.Confidence, &c.DurationMS, &detailJSON, &c.RecordedAt)
	if err != nil {
		return nil, eris.Wrap(err, "scan contribution")
	}
	if detailJSON.Valid && detailJSON.String != "" {
		if err := json.Unmarshal([]byte(detailJSON.String), &c.Detail); err != nil {
			return nil, eris.Wrap(err, "unmarshal contribution detail")
		}
	}
	return &c, nil
}

func collectRecommendations(rows *sql.Rows) ([]model.Recommendation, error) {
	var recs []model.Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "iterate recommendations")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
