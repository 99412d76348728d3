// internal/store/writer.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FairForge/corkboard/internal/metrics"
	"github.com/FairForge/corkboard/internal/retry"
	"github.com/FairForge/corkboard/internal/scene"
	"go.uber.org/zap"
)

// ProgressFunc is called after each item is processed
type ProgressFunc func(done, total int)

// Writer persists scene snapshots
type Writer struct {
	logger     *zap.Logger
	metrics    *metrics.Collector
	maxRetries int
	delay      time.Duration
	backoff    bool
	vacuum     bool
	progress   ProgressFunc

	// apply writes the snapshot for the container at path inside an open
	// transaction
	apply func(ctx context.Context, tx *sql.Tx, path string, snap *scene.Snapshot) error
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithRetry bounds the total number of transaction attempts and the delay
// between them. backoff doubles the delay after every attempt.
func WithRetry(maxRetries int, delay time.Duration, backoff bool) WriterOption {
	return func(w *Writer) {
		w.maxRetries = maxRetries
		w.delay = delay
		w.backoff = backoff
	}
}

// WithVacuum compacts the file after every successful write
func WithVacuum(enabled bool) WriterOption {
	return func(w *Writer) {
		w.vacuum = enabled
	}
}

// WithProgress reports per-item progress
func WithProgress(fn ProgressFunc) WriterOption {
	return func(w *Writer) {
		w.progress = fn
	}
}

// WithWriteMetrics records write attempts and outcomes
func WithWriteMetrics(c *metrics.Collector) WriterOption {
	return func(w *Writer) {
		w.metrics = c
	}
}

// NewWriter creates a write pipeline
func NewWriter(logger *zap.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		logger:     logger,
		maxRetries: 3,
		delay:      100 * time.Millisecond,
		backoff:    true,
	}
	w.apply = w.writeSnapshot
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) policy() *retry.Policy {
	return retry.New(
		retry.WithMaxAttempts(w.maxRetries),
		retry.WithInitialDelay(w.delay),
		retry.WithMaxDelay(w.delay*8),
		retry.WithBackoff(w.backoff),
		retry.WithJitter(w.backoff),
		retry.WithRetryIf(IsTransient),
		retry.WithLogger(w.logger),
	)
}

// Write replaces the stored scene with snap in a single transaction.
// Transient contention retries the whole transaction; anything else is
// returned at once.
func (w *Writer) Write(ctx context.Context, h *Handle, snap *scene.Snapshot) error {
	if snap == nil {
		return errors.New("store: nil snapshot")
	}
	if h.ReadOnly() {
		return fmt.Errorf("%w: %s", ErrReadOnly, h.Path())
	}

	start := time.Now()
	err := w.policy().Execute(ctx, func(attempt int) error {
		w.metrics.WriteAttempt()
		err := w.attempt(ctx, h, snap)
		if err != nil && IsTransient(err) {
			h.logger.Debug("write hit contention", zap.Int("attempt", attempt), zap.Error(err))
			h.reset()
		}
		return err
	})

	switch {
	case err == nil:
		w.metrics.WriteFinished(metrics.ResultOK, time.Since(start))
	case errors.Is(err, retry.ErrExhausted):
		w.metrics.WriteFinished(metrics.ResultExhausted, time.Since(start))
		return fmt.Errorf("%w: %s: %w", ErrWriteExhausted, h.Path(), err)
	default:
		w.metrics.WriteFinished(metrics.ResultError, time.Since(start))
		return fmt.Errorf("store: write %s: %w", h.Path(), err)
	}

	h.logger.Info("scene saved", zap.Int("items", len(snap.Items)))
	if w.vacuum {
		w.compact(ctx, h)
	}
	return nil
}

func (w *Writer) attempt(ctx context.Context, h *Handle, snap *scene.Snapshot) (err error) {
	db, err := h.conn(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = w.apply(ctx, tx, h.Path(), snap); err != nil {
		return err
	}
	return tx.Commit()
}

// compact runs VACUUM. The scene is already committed, so failure only
// costs disk space and is logged.
func (w *Writer) compact(ctx context.Context, h *Handle) {
	db, err := h.conn(ctx)
	if err == nil {
		_, err = db.ExecContext(ctx, "VACUUM")
	}
	if err != nil {
		h.logger.Warn("vacuum after write failed", zap.Error(err))
	}
}

func (w *Writer) writeSnapshot(ctx context.Context, tx *sql.Tx, path string, snap *scene.Snapshot) error {
	if err := clearScene(ctx, tx, keptRows(path, snap)); err != nil {
		return fmt.Errorf("clear scene: %w", err)
	}

	itemStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (seq, type, x, y, z, scale, rotation, flip, data) `+
			`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = itemStmt.Close() }()

	blobStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sqlar (item_id, name, mode, sz, data, checksum) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = blobStmt.Close() }()

	total := len(snap.Items)
	for i, item := range snap.Items {
		if err := ctx.Err(); err != nil {
			return err
		}

		if e, ok := item.(*scene.ErrorItem); ok {
			if err := w.keepRow(ctx, tx, path, i, e); err != nil {
				return err
			}
			if w.progress != nil {
				w.progress(i+1, total)
			}
			continue
		}

		data, err := scene.EncodeData(item)
		if err != nil {
			return err
		}
		p := item.Place()
		res, err := itemStmt.ExecContext(ctx, i, string(item.Kind()),
			p.X, p.Y, p.Z, p.Scale, p.Rotation, flipValue(p.Flip), string(data))
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}

		if img, ok := item.(*scene.ImageItem); ok {
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			stored, err := deflate(img.Data)
			if err != nil {
				return err
			}
			if _, err := blobStmt.ExecContext(ctx, id, blobName(id, img.Format), 0o644,
				len(img.Data), stored, checksum(img.Data)); err != nil {
				return fmt.Errorf("insert blob for item %d: %w", i, err)
			}
		}

		if w.progress != nil {
			w.progress(i+1, total)
		}
	}

	meta, err := scene.EncodeMeta(snap.Meta)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO scene (key, value) VALUES ('meta', ?)`, string(meta)); err != nil {
		return fmt.Errorf("store scene metadata: %w", err)
	}
	return nil
}

// keptRows returns the stored rows behind placeholders read from path
func keptRows(path string, snap *scene.Snapshot) []any {
	var ids []any
	for _, item := range snap.Items {
		if e, ok := item.(*scene.ErrorItem); ok && e != nil && e.Source == path {
			ids = append(ids, e.SavedID)
		}
	}
	return ids
}

// clearScene deletes every item and blob except the rows in keep
func clearScene(ctx context.Context, tx *sql.Tx, keep []any) error {
	blobs, items := `DELETE FROM sqlar`, `DELETE FROM items`
	if len(keep) > 0 {
		in := " NOT IN (?" + strings.Repeat(", ?", len(keep)-1) + ")"
		blobs += " WHERE item_id" + in
		items += " WHERE id" + in
	}
	for _, q := range []string{blobs, items} {
		if _, err := tx.ExecContext(ctx, q, keep...); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM scene`)
	return err
}

// keepRow moves an unreadable item's stored row to its new position. A
// placeholder that did not come from this container has nothing to keep and
// is dropped.
func (w *Writer) keepRow(ctx context.Context, tx *sql.Tx, path string, seq int, e *scene.ErrorItem) error {
	if e == nil {
		return fmt.Errorf("%w: nil error item", scene.ErrInvalidData)
	}
	if e.Source != path {
		w.logger.Warn("dropping unreadable item from another container",
			zap.String("source", e.Source), zap.Int64("item", e.SavedID))
		return nil
	}
	p := e.Place()
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET seq = ?, x = ?, y = ?, z = ?, scale = ?, rotation = ?, flip = ? WHERE id = ?`,
		seq, p.X, p.Y, p.Z, p.Scale, p.Rotation, flipValue(p.Flip), e.SavedID)
	if err != nil {
		return fmt.Errorf("keep item %d: %w", e.SavedID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		w.logger.Warn("unreadable item no longer stored", zap.Int64("item", e.SavedID))
	}
	return nil
}

func blobName(id int64, format string) string {
	if format == "" {
		format = "png"
	}
	return fmt.Sprintf("%04d.%s", id, format)
}

func flipValue(flip bool) int {
	if flip {
		return -1
	}
	return 1
}
