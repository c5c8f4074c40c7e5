package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/adviseriq/advisor-cli/internal/cache"
	"github.com/adviseriq/advisor-cli/internal/db"
	"github.com/adviseriq/advisor-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const pgRecColumns = `id, run_id, customer_id, category, target_feature, description,
	confidence, rank, degraded, annotation, reasoning_chain, outcome, delivered_by,
	created_at, resolved_at`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_recommendation":    `SELECT ` + pgRecColumns + ` FROM recommendations WHERE id = $1`,
	"prior_recommendations": `SELECT ` + pgRecColumns + ` FROM recommendations WHERE customer_id = $1 AND created_at >= $2 ORDER BY created_at DESC`,
	"get_cache_entry":       `SELECT value, expires_at FROM kv_cache WHERE key = $1 AND expires_at > now()`,
	"put_cache_entry":       `INSERT INTO kv_cache (key, value, expires_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
	"delete_expired_cache":  `DELETE FROM kv_cache WHERE expires_at <= now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

// NewPostgresFromPool wraps an existing pool, mostly for tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, nowFunc: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS recommendations (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	customer_id     TEXT NOT NULL,
	category        TEXT NOT NULL,
	target_feature  TEXT NOT NULL,
	description     TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	rank            INTEGER NOT NULL,
	degraded        BOOLEAN NOT NULL DEFAULT false,
	annotation      TEXT,
	reasoning_chain JSONB,
	outcome         TEXT NOT NULL DEFAULT 'pending',
	delivered_by    TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS stage_contributions (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL,
	recommendation_id TEXT NOT NULL REFERENCES recommendations(id),
	stage             TEXT NOT NULL,
	status            TEXT NOT NULL,
	summary           TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	detail            JSONB,
	recorded_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS kv_cache (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_customer ON recommendations(customer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_recommendations_outcome ON recommendations(outcome);
CREATE INDEX IF NOT EXISTS idx_contributions_recommendation ON stage_contributions(recommendation_id);
CREATE INDEX IF NOT EXISTS idx_contributions_run ON stage_contributions(run_id);
CREATE INDEX IF NOT EXISTS idx_kv_cache_expires_at ON kv_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) PersistRecommendations(ctx context.Context, recs []model.Recommendation, contribs []model.StageContribution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return eris.Wrap(err, "postgres: persist")
		}
		chain, err := json.Marshal(r.ReasoningChain)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal reasoning chain")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO recommendations (`+pgRecColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			r.ID, r.RunID, r.CustomerID, string(r.Category), r.TargetFeature, r.Description,
			r.Confidence, r.Rank, r.Degraded, textOrNil(r.Annotation), chain,
			string(r.Outcome), textOrNil(r.DeliveredBy), r.CreatedAt.UTC(), r.ResolvedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert recommendation %s", r.ID)
		}
	}

	rows := make([][]any, 0, len(contribs))
	for _, c := range contribs {
		detail, err := json.Marshal(c.Detail)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal contribution detail")
		}
		rows = append(rows, []any{
			c.ID, c.RunID, c.RecommendationID, string(c.Stage), string(c.Status),
			c.Summary, c.Confidence, c.DurationMS, detail, c.RecordedAt.UTC(),
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "stage_contributions",
		[]string{"id", "run_id", "recommendation_id", "stage", "status", "summary",
			"confidence", "duration_ms", "detail", "recorded_at"}, rows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) PriorRecommendations(ctx context.Context, customerID string, months int) ([]model.Recommendation, error) {
	if months <= 0 {
		months = 12
	}
	since := s.nowFunc().UTC().AddDate(0, -months, 0)
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRecColumns+` FROM recommendations
		 WHERE customer_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC`,
		customerID, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: prior recommendations")
	}
	defer rows.Close()
	return collectPgRecommendations(rows)
}

func (s *PostgresStore) GetRecommendation(ctx context.Context, id string) (*model.Recommendation, []model.StageContribution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRecColumns+` FROM recommendations WHERE id = $1`, id)
	rec, err := scanPgRecommendation(row)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, recommendation_id, stage, status, summary, confidence,
		        duration_ms, detail, recorded_at
		 FROM stage_contributions WHERE recommendation_id = $1
		 ORDER BY recorded_at`, id)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: get contributions")
	}
	defer rows.Close()

	var contribs []model.StageContribution
	for rows.Next() {
		var c model.StageContribution
		var detailJSON []byte
		if err := rows.Scan(&c.ID, &c.RunID, &c.RecommendationID, &c.Stage, &c.Status,
			&c.Summary, &c.Confidence, &c.DurationMS, &detailJSON, &c.RecordedAt); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: scan contribution")
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &c.Detail); err != nil {
				return nil, nil, eris.Wrap(err, "postgres: unmarshal contribution detail")
			}
		}
		contribs = append(contribs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: iterate contributions")
	}
	return rec, contribs, nil
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, filter Filter) ([]model.Recommendation, error) {
	query := `SELECT ` + pgRecColumns + ` FROM recommendations WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CustomerID != "" {
		query += fmt.Sprintf(` AND customer_id = $%d`, argIdx)
		args = append(args, filter.CustomerID)
		argIdx++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(` AND outcome = $%d`, argIdx)
		args = append(args, string(filter.Outcome))
		argIdx++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, string(filter.Category))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC, rank`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recommendations")
	}
	defer rows.Close()
	return collectPgRecommendations(rows)
}

func (s *PostgresStore) UpdateOutcome(ctx context.Context, id string, outcome model.OutcomeStatus, agentID string) (*model.Recommendation, error) {
	if !model.ValidOutcome(outcome) {
		return nil, eris.Wrapf(ErrInvalidTransition, "unknown outcome %q", outcome)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+pgRecColumns+` FROM recommendations WHERE id = $1 FOR UPDATE`, id)
	rec, err := scanPgRecommendation(row)
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

	_, err = tx.Exec(ctx,
		`UPDATE recommendations SET outcome = $1, delivered_by = $2, resolved_at = $3 WHERE id = $4`,
		string(rec.Outcome), textOrNil(rec.DeliveredBy), rec.ResolvedAt, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update outcome %s", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit")
	}
	return rec, nil
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) ([]byte, time.Time, error) {
	var value []byte
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM kv_cache WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, cache.NewMissError(key)
	}
	if err != nil {
		return nil, time.Time{}, eris.Wrap(err, "postgres: get cache entry")
	}
	return value, expiresAt, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_cache (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt.UTC(),
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kv_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return tag.RowsAffected(), nil
}

// helpers

func scanPgRecommendation(row pgx.Row) (*model.Recommendation, error) {
	var r model.Recommendation
	var annotation, deliveredBy *string
	var chainJSON []byte
	var resolvedAt *time.Time

	err := row.Scan(&r.ID, &r.RunID, &r.CustomerID, &r.Category, &r.TargetFeature,
		&r.Description, &r.Confidence, &r.Rank, &r.Degraded, &annotation, &chainJSON,
		&r.Outcome, &deliveredBy, &r.CreatedAt, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan recommendation")
	}

	if annotation != nil {
		r.Annotation = *annotation
	}
	if deliveredBy != nil {
		r.DeliveredBy = *deliveredBy
	}
	r.ResolvedAt = resolvedAt
	if len(chainJSON) > 0 {
		if err := json.Unmarshal(chainJSON, &r.ReasoningChain); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal reasoning chain")
		}
	}
	return &r, nil
}

func collectPgRecommendations(rows pgx.Rows) ([]model.Recommendation, error) {
	var recs []model.Recommendation
	for rows.Next() {
		r, err := scanPgRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: iterate recommendations")
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
