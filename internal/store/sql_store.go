package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore keeps entries in the kv_entries table created by the embedded migrations.
// Expired rows are invisible to reads and removed by PurgeExpired.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     time.Now,
	}
}

func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var builder strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteString("$" + strconv.Itoa(n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

func (s *SQLStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT entry_value FROM kv_entries WHERE entry_key = ? AND (expires_at = 0 OR expires_at > ?)"),
		key, s.nowMillis(),
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO kv_entries (entry_key, entry_value, expires_at) VALUES (?, ?, ?) ON CONFLICT (entry_key) DO UPDATE SET entry_value = excluded.entry_value, expires_at = excluded.expires_at"),
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// SetNX inserts the row, or takes over a row that has already expired.
func (s *SQLStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}

	res, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO kv_entries (entry_key, entry_value, expires_at) VALUES (?, ?, ?) ON CONFLICT (entry_key) DO UPDATE SET entry_value = excluded.entry_value, expires_at = excluded.expires_at WHERE kv_entries.expires_at != 0 AND kv_entries.expires_at <= ?"),
		key, value, expiresAt, s.nowMillis(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return affectedOne(res)
}

func (s *SQLStore) CompareAndSwap(ctx context.Context, key string, old []byte, value []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE kv_entries SET entry_value = ? WHERE entry_key = ? AND entry_value = ? AND (expires_at = 0 OR expires_at > ?)"),
		value, key, old, s.nowMillis(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to swap key %s: %w", key, err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM kv_entries WHERE entry_key = ?"), key)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	prefix := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(globPrefix(pattern))

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT entry_key FROM kv_entries WHERE entry_key LIKE ? ESCAPE '\' AND (expires_at = 0 OR expires_at > ?) ORDER BY entry_key`),
		prefix+"%", s.nowMillis(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if MatchGlob(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

// Consume deletes and returns the row in a single statement.
func (s *SQLStore) Consume(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		s.rebind("DELETE FROM kv_entries WHERE entry_key = ? AND (expires_at = 0 OR expires_at > ?) RETURNING entry_value"),
		key, s.nowMillis(),
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume key %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM kv_entries WHERE expires_at != 0 AND expires_at <= ?"),
		s.nowMillis(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
