// internal/store/schema.go
package store

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	// ApplicationID is stored in PRAGMA application_id ("CORK")
	ApplicationID int32 = 0x434F524B

	// BaseVersion is the oldest layout migrations start from
	BaseVersion = 1

	// CurrentVersion is the layout written by this build
	CurrentVersion = 3
)

// schema creates a container at CurrentVersion. Image blobs follow the
// SQLite archive (sqlar) convention so the file can be unpacked with
// `sqlite3 -Ax`.
var schema = []string{
	`CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		x REAL DEFAULT 0,
		y REAL DEFAULT 0,
		z REAL DEFAULT 0,
		scale REAL DEFAULT 1,
		rotation REAL DEFAULT 0,
		flip INTEGER DEFAULT 1,
		data JSON
	)`,
	`CREATE TABLE sqlar (
		name TEXT PRIMARY KEY,
		item_id INTEGER NOT NULL UNIQUE,
		mode INT,
		mtime INT DEFAULT (strftime('%s', 'now')),
		sz INT,
		data BLOB,
		checksum TEXT,
		FOREIGN KEY (item_id) REFERENCES items (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE scene (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func readPragma(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v); err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

// writeMeta stamps the format metadata. PRAGMA takes no bind parameters;
// both values are integers formatted here.
func writeMeta(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA application_id = %d", ApplicationID)); err != nil {
		return fmt.Errorf("write application id: %w", err)
	}
	return writeVersion(ctx, tx, version)
}

func writeVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}
