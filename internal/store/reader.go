// internal/store/reader.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/FairForge/corkboard/internal/scene"
	"go.uber.org/zap"
)

const selectItems = `
	SELECT i.id, i.type, COALESCE(i.x, 0), COALESCE(i.y, 0), COALESCE(i.z, 0),
	       COALESCE(i.scale, 1), COALESCE(i.rotation, 0), COALESCE(i.flip, 1),
	       COALESCE(i.data, ''), s.sz, s.data, s.checksum
	FROM items i
	LEFT JOIN sqlar s ON s.item_id = i.id
	ORDER BY i.seq, i.id`

// Read loads the scene stored in the container. Items come back in the
// order they were written; image blobs are inflated and checked.
//
// An item that cannot be loaded does not abort the read: it comes back as a
// *scene.ErrorItem placeholder and its cause is joined into the returned
// error, so a non-nil error may accompany a usable snapshot.
func Read(ctx context.Context, h *Handle, progress ProgressFunc) (*scene.Snapshot, error) {
	db, err := h.conn(ctx)
	if err != nil {
		return nil, err
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&total); err != nil {
		return nil, fmt.Errorf("store: count items: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectItems)
	if err != nil {
		return nil, fmt.Errorf("store: query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := &scene.Snapshot{Items: make([]scene.Item, 0, total)}
	var itemErrs []error
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		item, err := r.decode()
		if err != nil {
			h.logger.Warn("item unreadable", zap.Int64("item", r.id), zap.Error(err))
			itemErrs = append(itemErrs, err)
			item = &scene.ErrorItem{
				Placement: r.place,
				Source:    h.Path(),
				SavedID:   r.id,
				Stored:    scene.Kind(r.kind),
				Err:       err,
			}
		}
		snap.Items = append(snap.Items, item)
		if progress != nil {
			progress(len(snap.Items), total)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read items: %w", err)
	}

	snap.Meta, err = readMeta(ctx, db)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("scene loaded", zap.Int("items", len(snap.Items)), zap.Int("unreadable", len(itemErrs)))
	return snap, errors.Join(itemErrs...)
}

type storedRow struct {
	id    int64
	kind  string
	place scene.Placement
	data  string
	size  sql.NullInt64
	blob  []byte
	sum   sql.NullString
}

func scanRow(rows *sql.Rows) (*storedRow, error) {
	var (
		r    storedRow
		flip int
	)
	if err := rows.Scan(&r.id, &r.kind, &r.place.X, &r.place.Y, &r.place.Z, &r.place.Scale,
		&r.place.Rotation, &flip, &r.data, &r.size, &r.blob, &r.sum); err != nil {
		return nil, fmt.Errorf("store: scan item: %w", err)
	}
	r.place.Flip = flip < 0
	return &r, nil
}

func (r *storedRow) decode() (scene.Item, error) {
	var raw []byte
	if scene.Kind(r.kind) == scene.KindImage {
		if !r.size.Valid {
			return nil, fmt.Errorf("%w: item %d", ErrMissingBlob, r.id)
		}
		var err error
		raw, err = inflate(r.blob, r.size.Int64)
		if err != nil {
			return nil, fmt.Errorf("store: item %d: %w", r.id, err)
		}
		if r.sum.Valid && r.sum.String != "" {
			if got := checksum(raw); got != r.sum.String {
				return nil, &ChecksumError{ItemID: r.id, Want: r.sum.String, Got: got}
			}
		}
	}

	item, err := scene.DecodeItem(scene.Kind(r.kind), r.place, []byte(r.data), raw)
	if err != nil {
		return nil, fmt.Errorf("store: item %d: %w", r.id, err)
	}
	return item, nil
}

func readMeta(ctx context.Context, db *sql.DB) (scene.Meta, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT value FROM scene WHERE key = 'meta'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return scene.Meta{}, nil
	}
	if err != nil {
		return scene.Meta{}, fmt.Errorf("store: read scene metadata: %w", err)
	}
	meta, err := scene.DecodeMeta([]byte(raw))
	if err != nil {
		return scene.Meta{}, fmt.Errorf("store: scene metadata: %w", err)
	}
	return meta, nil
}
