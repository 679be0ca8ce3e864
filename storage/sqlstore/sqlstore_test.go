package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/storage"
	"github.com/dpup/authcore/storage/storagetests"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	storagetests.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(t.Context(), DialectSQLite, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PostgreSQL tests skipped. Set PG_TEST_DSN env var to enable.")
	}

	storagetests.Run(t, func(t *testing.T) storage.Store {
		db, err := sql.Open("postgres", dsn)
		require.NoError(t, err)
		_, err = db.Exec("DROP SCHEMA public CASCADE; CREATE SCHEMA public;")
		require.NoError(t, err)
		db.Close()

		s, err := Open(t.Context(), DialectPostgres, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpen_UnsupportedDialect(t *testing.T) {
	_, err := Open(t.Context(), Dialect("mysql"), "")
	assert.ErrorContains(t, err, "unsupported dialect")
}

func TestMigrate_UsesDialectDirectory(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var gotDir string
	orig := gooseUp
	gooseUp = func(_ context.Context, _ *sql.DB, dir string) error {
		gotDir = dir
		return nil
	}
	t.Cleanup(func() { gooseUp = orig })

	require.NoError(t, New(db, DialectPostgres).Migrate(t.Context()))
	assert.Equal(t, "postgres", gotDir)
}

func TestRebind(t *testing.T) {
	pg := New(nil, DialectPostgres)
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 FROM t WHERE a = ? AND b = ?"))

	lite := New(nil, DialectSQLite)
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db, DialectPostgres), mock
}

func TestPostgres_UpdateLinkBuildsSingleStatement(t *testing.T) {
	s, mock := newMockStore(t)
	at := "new-access"
	exp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE oauth_links SET access_token = $1, expires_at = $2 WHERE id = $3")).
		WithArgs(at, sqlmock.AnyArg(), "l1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateLink(t.Context(), "l1", storage.LinkUpdate{AccessToken: &at, SetExpiry: true, ExpiresAt: &exp})
	require.NoError(t, err)
}

func TestPostgres_UpdateLinkNoop(t *testing.T) {
	s, _ := newMockStore(t)
	require.NoError(t, s.UpdateLink(t.Context(), "l1", storage.LinkUpdate{}))
}

func TestPostgres_DeleteAPIKeyNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM api_keys WHERE id = $1 AND user_id = $2")).
		WithArgs("k1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteAPIKey(t.Context(), "k1", "intruder")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPostgres_UniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api_keys")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.CreateAPIKey(t.Context(), &storage.APIKey{ID: "k1", UserID: "u1", Name: "n", KeyHash: "h", Scopes: []string{"*"}})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestPostgres_CreateUserRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oauth_links")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.CreateUser(t.Context(),
		&storage.User{ID: "u1", Email: "a@example.com"},
		nil,
		&storage.OAuthLink{ID: "l1", Provider: storage.ProviderGoogle, AccessToken: "at"})
	assert.ErrorContains(t, err, "connection reset")
}

func TestPostgres_FindUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = $1")).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at", "updated_at"}))

	_, err := s.FindUserByEmail(t.Context(), "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPostgres_ListAPIKeysDecodesScopes(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM api_keys WHERE user_id = $1 ORDER BY created_at, id")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "key_hash", "scopes", "created_at", "last_used_at"}).
			AddRow("k1", "u1", "ci", "h1", `["keys:read","keys:write"]`, created, nil))

	keys, err := s.ListAPIKeys(t.Context(), "u1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, []string{"keys:read", "keys:write"}, keys[0].Scopes)
	assert.Nil(t, keys[0].LastUsedAt)
}
