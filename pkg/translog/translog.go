// Package translog records every mutation the importer applies, so a
// migration can be reversed (unimport) and cross-references rewritten
// (fixup) without re-reading the remote service.
package translog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Kind classifies what a log entry created remotely.
type Kind string

// Entry kinds.
const (
	KindNote       Kind = "note"
	KindComment    Kind = "comment"
	KindAttachment Kind = "attachment"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	source_path TEXT NOT NULL,
	remote_id   TEXT NOT NULL,
	remote_path TEXT NOT NULL DEFAULT '',
	remote_url  TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	reverted_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_entries_batch ON entries(batch_id);
`

// Entry is one applied mutation.
type Entry struct {
	ID         string
	BatchID    string
	Kind       Kind
	SourcePath string // path inside the export archive
	RemoteID   string
	RemotePath string
	RemoteURL  string
	Payload    string // request variables as JSON, for reproduction
	CreatedAt  time.Time
	RevertedAt *time.Time
}

// Destination is where a source item ended up.
type Destination struct {
	RemoteID string
	Path     string
	URL      string
}

// Log is a sqlite-backed transaction log.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the log at path.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	return open(path)
}

// OpenInMemory opens an isolated in-memory log. Used by tests.
func OpenInMemory() (*Log, error) {
	return open(":memory:")
}

func open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate transaction log: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Append records one applied mutation. CreatedAt defaults to now.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.ID == "" || e.BatchID == "" || e.RemoteID == "" {
		return fmt.Errorf("translog: entry requires id, batch id and remote id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO entries (id, batch_id, kind, source_path, remote_id, remote_path, remote_url, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BatchID, string(e.Kind), e.SourcePath, e.RemoteID,
		e.RemotePath, e.RemoteURL, e.Payload, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// Batch returns the batch's live (non-reverted) entries newest-first, the
// order unimport replays deletes in.
func (l *Log) Batch(ctx context.Context, batchID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, batch_id, kind, source_path, remote_id, remote_path, remote_url, payload, created_at, reverted_at
		FROM entries
		WHERE batch_id = ? AND reverted_at IS NULL
		ORDER BY rowid DESC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

// MarkReverted stamps an entry after its delete succeeded (or the remote
// reported it already gone).
func (l *Log) MarkReverted(ctx context.Context, id string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE entries SET reverted_at = ? WHERE id = ? AND reverted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark reverted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("translog: no live entry %q", id)
	}
	return nil
}

// Mapping returns source path → destination for the batch's notes and
// attachments. Comments never appear: nothing links to them.
func (l *Log) Mapping(ctx context.Context, batchID string) (map[string]Destination, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT source_path, remote_id, remote_path, remote_url
		FROM entries
		WHERE batch_id = ? AND kind IN (?, ?) AND reverted_at IS NULL
		ORDER BY rowid`, batchID, string(KindNote), string(KindAttachment))
	if err != nil {
		return nil, fmt.Errorf("query mapping: %w", err)
	}
	defer func() { _ = rows.Close() }()

	mapping := make(map[string]Destination)
	for rows.Next() {
		var src string
		var dst Destination
		if err := rows.Scan(&src, &dst.RemoteID, &dst.Path, &dst.URL); err != nil {
			return nil, err
		}
		mapping[src] = dst
	}
	return mapping, rows.Err()
}

// LatestBatch returns the most recently written batch id, or "" when the
// log is empty.
func (l *Log) LatestBatch(ctx context.Context) (string, error) {
	var id string
	err := l.db.QueryRowContext(ctx,
		`SELECT batch_id FROM entries ORDER BY rowid DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest batch: %w", err)
	}
	return id, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind, createdAt string
		var revertedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.BatchID, &kind, &e.SourcePath, &e.RemoteID,
			&e.RemotePath, &e.RemoteURL, &e.Payload, &createdAt, &revertedAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		if revertedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, revertedAt.String); err == nil {
				e.RevertedAt = &t
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
