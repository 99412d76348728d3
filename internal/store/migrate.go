// internal/store/migrate.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// MigrationStep moves a container from one schema version to the next.
// Statements run first, then Apply, then the version is stamped, all in one
// transaction.
type MigrationStep struct {
	From       int
	To         int
	Statements []string
	Apply      func(ctx context.Context, tx *sql.Tx) error
	// Reopen re-establishes the connection after the step commits, for steps
	// that change the file structure underneath open statements.
	Reopen bool
}

// Migrator applies a linear chain of steps
type Migrator struct {
	steps []MigrationStep
}

// NewMigrator validates that steps form a single chain where every step
// advances exactly one version and each step starts where the previous ended.
func NewMigrator(steps []MigrationStep) (*Migrator, error) {
	sorted := make([]MigrationStep, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	for i, s := range sorted {
		if s.To != s.From+1 {
			return nil, fmt.Errorf("%w: step %d -> %d skips versions", ErrMigrationChain, s.From, s.To)
		}
		if i > 0 && sorted[i-1].To != s.From {
			return nil, fmt.Errorf("%w: gap or overlap between %d and %d", ErrMigrationChain, sorted[i-1].To, s.From)
		}
	}
	return &Migrator{steps: sorted}, nil
}

// MustNewMigrator is NewMigrator for chains fixed at compile time
func MustNewMigrator(steps []MigrationStep) *Migrator {
	m, err := NewMigrator(steps)
	if err != nil {
		panic(err)
	}
	return m
}

// Latest returns the version the chain ends at
func (m *Migrator) Latest() int {
	if len(m.steps) == 0 {
		return BaseVersion
	}
	return m.steps[len(m.steps)-1].To
}

// Plan returns the steps needed to go from one version to another, in order
func (m *Migrator) Plan(from, to int) ([]MigrationStep, error) {
	if from == to {
		return nil, nil
	}
	var plan []MigrationStep
	for _, s := range m.steps {
		if s.From >= from && s.From < to {
			plan = append(plan, s)
		}
	}
	if len(plan) == 0 || plan[0].From != from || plan[len(plan)-1].To != to {
		return nil, fmt.Errorf("%w: no path from %d to %d", ErrMigrationChain, from, to)
	}
	return plan, nil
}

// Run applies the steps between from and to, one transaction per step. On
// failure the container keeps every step that committed.
func (m *Migrator) Run(ctx context.Context, h *Handle, from, to int) error {
	plan, err := m.Plan(from, to)
	if err != nil {
		return &MigrationError{From: from, To: to, Reached: from, Err: err}
	}

	reached := from
	for _, step := range plan {
		if err := ctx.Err(); err != nil {
			return &MigrationError{From: step.From, To: step.To, Reached: reached, Err: err}
		}

		h.logger.Debug("applying migration step", zap.Int("from", step.From), zap.Int("to", step.To))
		if err := applyStep(ctx, h, step); err != nil {
			h.m.metrics.MigrationStep(false)
			return &MigrationError{From: step.From, To: step.To, Reached: reached, Err: err}
		}
		h.m.metrics.MigrationStep(true)
		reached = step.To
		h.version = reached

		if step.Reopen {
			if err := h.reopen(ctx); err != nil {
				return &MigrationError{From: step.From, To: step.To, Reached: reached, Err: err}
			}
		}
	}
	return nil
}

func applyStep(ctx context.Context, h *Handle, step MigrationStep) (err error) {
	db, err := h.conn(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range step.Statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}
	if step.Apply != nil {
		if err = step.Apply(ctx, tx); err != nil {
			return err
		}
	}
	if err = writeVersion(ctx, tx, step.To); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DefaultMigrations is the format history of the container
func DefaultMigrations() []MigrationStep {
	return []MigrationStep{
		{
			From: 1, To: 2,
			Statements: []string{
				`ALTER TABLE sqlar ADD COLUMN checksum TEXT`,
			},
			Apply: backfillChecksums,
		},
		{
			From: 2, To: 3,
			Statements: []string{
				`ALTER TABLE items ADD COLUMN seq INTEGER NOT NULL DEFAULT 0`,
				`UPDATE items SET seq = id`,
				`CREATE TABLE scene (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`,
			},
		},
	}
}

// DefaultMigrator returns the migrator for DefaultMigrations
func DefaultMigrator() *Migrator {
	return MustNewMigrator(DefaultMigrations())
}

func backfillChecksums(ctx context.Context, tx *sql.Tx) error {
	type pending struct {
		name string
		sum  string
	}

	rows, err := tx.QueryContext(ctx, `SELECT name, sz, data FROM sqlar`)
	if err != nil {
		return fmt.Errorf("scan blobs: %w", err)
	}
	var todo []pending
	for rows.Next() {
		var (
			name   string
			size   sql.NullInt64
			stored []byte
		)
		if err := rows.Scan(&name, &size, &stored); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan blobs: %w", err)
		}
		raw, err := inflate(stored, size.Int64)
		if err != nil {
			_ = rows.Close()
			return fmt.Errorf("blob %s: %w", name, err)
		}
		todo = append(todo, pending{name: name, sum: checksum(raw)})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, p := range todo {
		if _, err := tx.ExecContext(ctx, `UPDATE sqlar SET checksum = ? WHERE name = ?`, p.sum, p.name); err != nil {
			return fmt.Errorf("store checksum %s: %w", p.name, err)
		}
	}
	return nil
}
