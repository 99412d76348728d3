// internal/store/helpers_test.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/FairForge/corkboard/internal/scene"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// layout of the first released format: no checksums, no ordering column,
// no scene metadata table
var schemaV1 = []string{
	`CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
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
		FOREIGN KEY (item_id) REFERENCES items (id) ON DELETE CASCADE
	)`,
}

var testImage = []byte("\x89PNG\r\n\x1a\n" + "not really a png but compresses well well well well well well")

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	return NewManager(zap.NewNop(), opts...)
}

func tempContainer(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "board.cork")
}

// rawDB opens a file with the driver directly, bypassing all checks
func rawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setPragma(t *testing.T, db *sql.DB, name string, value int64) {
	t.Helper()
	_, err := db.Exec(fmt.Sprintf("PRAGMA %s = %d", name, value))
	require.NoError(t, err)
}

func pragma(t *testing.T, path, name string) int64 {
	t.Helper()
	db := rawDB(t, path)
	v, err := readPragma(context.Background(), db, name)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return v
}

// writeV1 creates a version 1 container with one image and one text item
func writeV1(t *testing.T, path string) {
	t.Helper()
	db := rawDB(t, path)
	for _, stmt := range schemaV1 {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	setPragma(t, db, "application_id", int64(ApplicationID))
	setPragma(t, db, "user_version", 1)

	res, err := db.Exec(`INSERT INTO items (type, x, y, z, scale, rotation, flip, data)
		VALUES ('pixmap', 10, 20, 0.5, 2, 45, -1, '{"filename":"cat.png","format":"png"}')`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	stored, err := deflate(testImage)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sqlar (name, item_id, mode, sz, data) VALUES (?, ?, 420, ?, ?)`,
		blobName(id, "png"), id, len(testImage), stored)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO items (type, x, y, z, data) VALUES ('text', 1, 2, 0.1, '{"text":"hello"}')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func sampleSnapshot() *scene.Snapshot {
	return &scene.Snapshot{
		Items: []scene.Item{
			&scene.TextItem{
				Placement: scene.Placement{X: 5, Y: 6, Z: 0.2, Scale: 1},
				Text:      "note",
				Font:      "Sans",
				Size:      12,
			},
			&scene.ImageItem{
				Placement: scene.Placement{X: -3, Y: 4, Z: 0.1, Scale: 0.5, Rotation: 90, Flip: true},
				Data:      testImage,
				Format:    "png",
				Filename:  "cat.png",
			},
		},
		Meta: scene.Meta{
			Bounds:      scene.Rect{X: -10, Y: -10, Width: 100, Height: 80},
			Arrangement: scene.Arrangement{Mode: "grid", Gap: 8, Columns: 3},
		},
	}
}
