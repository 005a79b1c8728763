package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS queued_requests (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	method      TEXT NOT NULL,
	headers     TEXT NOT NULL,
	body        BLOB,
	timestamp   INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry  INTEGER
)`,
	`CREATE INDEX IF NOT EXISTS timestamp_idx ON queued_requests (timestamp)`,
}

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the queue database at path.
// Use ":memory:" for a throwaway store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db %s: %w", path, err)
	}
	// one writer, and keeps a :memory: database alive across calls
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure queue db: %w", err)
		}
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create queue schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, rec QueuedRequest) error {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queued_requests (id, url, method, headers, body, timestamp, retry_count, next_retry)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.URL, rec.Method, string(headers), nullBody(rec.Body),
		rec.Timestamp.UnixNano(), rec.RetryCount, nullTime(rec.NextRetry))
	if err != nil {
		return fmt.Errorf("insert queued request %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec QueuedRequest) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queued_requests SET retry_count = ?, next_retry = ? WHERE id = ?`,
		rec.RetryCount, nullTime(rec.NextRetry), rec.ID)
	if err != nil {
		return fmt.Errorf("update queued request %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queued_requests WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) All(ctx context.Context) ([]QueuedRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, method, headers, body, timestamp, retry_count, next_retry
		 FROM queued_requests ORDER BY timestamp, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedRequest
	for rows.Next() {
		var (
			rec       QueuedRequest
			headers   string
			body      []byte
			ts        int64
			nextRetry sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Method, &headers, &body, &ts, &rec.RetryCount, &nextRetry); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(headers), &rec.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of %s: %w", rec.ID, err)
		}
		if body != nil {
			rec.Body = body
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		if nextRetry.Valid {
			t := time.Unix(0, nextRetry.Int64).UTC()
			rec.NextRetry = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_requests`).Scan(&n)
	return n, err
}

func nullBody(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
