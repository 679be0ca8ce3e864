// Package sqlstore implements storage.Store on top of database/sql. SQLite
// (github.com/mattn/go-sqlite3) and PostgreSQL (github.com/lib/pq) are
// supported, and the schema is managed with goose migrations embedded in the
// binary.
//
//	store, err := sqlstore.Open(ctx, sqlstore.DialectPostgres, "postgres://localhost/authcore?sslmode=disable")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/storage"
	"github.com/dpup/authcore/storage/sqlstore/migrations"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// Dialect names a supported database. The values double as driver names.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) migrationsDir() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Option configures a store opened with Open.
type Option func(*options)

type options struct {
	migrate bool
}

// WithoutMigrations skips schema migration on open, for deployments that run
// `authd migrate` separately.
func WithoutMigrations() Option {
	return func(o *options) {
		o.migrate = false
	}
}

// Store is a SQL backed storage.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database and, unless disabled, migrates the schema.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	o := options{migrate: true}
	for _, opt := range opts {
		opt(&o)
	}

	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, errors.Errorf("sqlstore: unsupported dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "sqlstore: open", 0)
	}
	if dialect == DialectSQLite && strings.Contains(dsn, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WrapPrefix(err, "sqlstore: connect", 0)
	}

	s := New(db, dialect)
	if o.migrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// goose keeps its dialect and filesystem in package state.
var gooseMu sync.Mutex

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies any pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(s.dialect)); err != nil {
		return errors.WrapPrefix(err, "sqlstore: migrate", 0)
	}
	if err := gooseUp(ctx, s.db, s.dialect.migrationsDir()); err != nil {
		return errors.WrapPrefix(err, "sqlstore: migrate", 0)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const userColumns = "id, email, password_hash, created_at, updated_at"

func (s *Store) FindUserByID(ctx context.Context, id string) (*storage.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id)
	return scanUser(row)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE email = ?"), email)
	return scanUser(row)
}

func (s *Store) CreateUser(ctx context.Context, user *storage.User, profile *storage.Profile, link *storage.OAuthLink) (err error) {
	if user == nil || user.ID == "" || user.Email == "" {
		return errors.Mark(storage.ErrInvalidRecord, 0)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapPrefix(err, "sqlstore: begin", 0)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		s.rebind("INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?)"),
		user.ID, user.Email, user.PasswordHash, user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	if err != nil {
		return translateError(err)
	}

	if profile != nil {
		_, err = tx.ExecContext(ctx,
			s.rebind("INSERT INTO profiles (id, user_id, first_name, last_name, avatar_url) VALUES (?, ?, ?, ?, ?)"),
			profile.ID, user.ID, profile.FirstName, profile.LastName, profile.AvatarURL)
		if err != nil {
			return translateError(err)
		}
	}

	if link != nil {
		l := *link
		l.UserID = user.ID
		if err = s.insertLink(ctx, tx, &l); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return translateError(err)
	}
	return nil
}

func (s *Store) FindProfile(ctx context.Context, userID string) (*storage.Profile, error) {
	var p storage.Profile
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, user_id, first_name, last_name, avatar_url FROM profiles WHERE user_id = ?"), userID).
		Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.AvatarURL)
	if err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

func (s *Store) CreateLink(ctx context.Context, link *storage.OAuthLink) error {
	if link == nil || link.ID == "" || !link.Provider.Valid() {
		return errors.Mark(storage.ErrInvalidRecord, 0)
	}
	return s.insertLink(ctx, s.db, link)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertLink(ctx context.Context, db execer, link *storage.OAuthLink) error {
	_, err := db.ExecContext(ctx,
		s.rebind("INSERT INTO oauth_links (id, user_id, provider, provider_id, access_token, refresh_token, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)"),
		link.ID, link.UserID, string(link.Provider), link.ProviderID, link.AccessToken, link.RefreshToken, nullTime(link.ExpiresAt))
	return translateError(err)
}

func (s *Store) FindLink(ctx context.Context, userID string, provider storage.Provider) (*storage.OAuthLink, error) {
	var (
		l         storage.OAuthLink
		p         string
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, user_id, provider, provider_id, access_token, refresh_token, expires_at FROM oauth_links WHERE user_id = ? AND provider = ?"),
		userID, string(provider)).
		Scan(&l.ID, &l.UserID, &p, &l.ProviderID, &l.AccessToken, &l.RefreshToken, &expiresAt)
	if err != nil {
		return nil, translateError(err)
	}
	l.Provider = storage.Provider(p)
	l.ExpiresAt = timePtr(expiresAt)
	return &l, nil
}

func (s *Store) UpdateLink(ctx context.Context, id string, update storage.LinkUpdate) error {
	var (
		sets []string
		args []any
	)
	if update.AccessToken != nil {
		sets = append(sets, "access_token = ?")
		args = append(args, *update.AccessToken)
	}
	if update.RefreshToken != nil {
		sets = append(sets, "refresh_token = ?")
		args = append(args, *update.RefreshToken)
	}
	if update.SetExpiry {
		sets = append(sets, "expires_at = ?")
		args = append(args, nullTime(update.ExpiresAt))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE oauth_links SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
	if err != nil {
		return translateError(err)
	}
	return expectRows(res)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *storage.APIKey) error {
	if key == nil || key.ID == "" || key.KeyHash == "" {
		return errors.Mark(storage.ErrInvalidRecord, 0)
	}
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return errors.WrapPrefix(err, "sqlstore: encode scopes", 0)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind("INSERT INTO api_keys (id, user_id, name, key_hash, scopes, created_at, last_used_at) VALUES (?, ?, ?, ?, ?, ?, ?)"),
		key.ID, key.UserID, key.Name, key.KeyHash, string(scopes), key.CreatedAt.UTC(), nullTime(key.LastUsedAt))
	return translateError(err)
}

const apiKeyColumns = "id, user_id, name, key_hash, scopes, created_at, last_used_at"

func (s *Store) FindAPIKeyByHash(ctx context.Context, hash string) (*storage.APIKey, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+apiKeyColumns+" FROM api_keys WHERE key_hash = ?"), hash)
	return scanAPIKey(row)
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?"), at.UTC(), id)
	if err != nil {
		return translateError(err)
	}
	return expectRows(res)
}

func (s *Store) DeleteAPIKey(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM api_keys WHERE id = ? AND user_id = ?"), id, userID)
	if err != nil {
		return translateError(err)
	}
	return expectRows(res)
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]*storage.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+apiKeyColumns+" FROM api_keys WHERE user_id = ? ORDER BY created_at, id"), userID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	keys := []*storage.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, translateError(rows.Err())
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*storage.User, error) {
	var u storage.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, translateError(err)
	}
	return &u, nil
}

func scanAPIKey(row scanner) (*storage.APIKey, error) {
	var (
		k        storage.APIKey
		scopes   string
		lastUsed sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &scopes, &k.CreatedAt, &lastUsed); err != nil {
		return nil, translateError(err)
	}
	if err := json.Unmarshal([]byte(scopes), &k.Scopes); err != nil {
		return nil, errors.WrapPrefix(err, "sqlstore: decode scopes", 0)
	}
	k.LastUsedAt = timePtr(lastUsed)
	return &k, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translateError(err)
	}
	if n == 0 {
		return errors.Mark(storage.ErrNotFound, 1)
	}
	return nil
}

// translateError maps driver errors onto storage errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(storage.ErrNotFound, 1)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return errors.Mark(storage.ErrAlreadyExists, 1)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errors.Mark(storage.ErrAlreadyExists, 1)
		}
	}

	return errors.MaybeWrap(err, 1)
}
