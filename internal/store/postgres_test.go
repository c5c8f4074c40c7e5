package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviseriq/advisor-cli/internal/cache"
	"github.com/adviseriq/advisor-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgres_GetRecommendation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM recommendations WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, _, err := s.GetRecommendation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateOutcome_UnknownStatusNeverTouchesTheDatabase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.UpdateOutcome(context.Background(), "rec-1", "archived", "agent-7")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateOutcome_MissingRowRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recommendations WHERE id = \$1 FOR UPDATE`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.UpdateOutcome(context.Background(), "missing", model.OutcomeDelivered, "agent-7")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetCacheEntry_MissOnNoRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value, expires_at FROM kv_cache`).
		WithArgs("absent").
		WillReturnError(pgx.ErrNoRows)

	_, _, err := s.GetCacheEntry(context.Background(), "absent")
	assert.True(t, cache.IsMiss(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetCacheEntry_ReturnsLiveValue(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	expiresAt := time.Now().Add(time.Hour).UTC()

	mock.ExpectQuery(`SELECT value, expires_at FROM kv_cache`).
		WithArgs("trends:cus-100").
		WillReturnRows(pgxmock.NewRows([]string{"value", "expires_at"}).
			AddRow([]byte(`[]`), expiresAt))

	value, gotExpiry, err := s.GetCacheEntry(context.Background(), "trends:cus-100")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), value)
	assert.Equal(t, expiresAt, gotExpiry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PutCacheEntry_Upserts(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	expiresAt := time.Now().Add(time.Hour).UTC()

	mock.ExpectExec(`INSERT INTO kv_cache .+ ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("trends:cus-100", []byte(`[]`), expiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutCacheEntry(context.Background(), "trends:cus-100", []byte(`[]`), expiresAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteExpiredCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM kv_cache WHERE expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpiredCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PersistRecommendations_RejectsInvalidBeforeWrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	bad := model.Recommendation{ID: "rec-1", CustomerID: "cus-100", Category: "retention", Description: "d", Confidence: 0.8}
	err := s.PersistRecommendations(context.Background(), []model.Recommendation{bad}, nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS recommendations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
