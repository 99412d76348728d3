// internal/store/handle.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/FairForge/corkboard/internal/integrity"
	"github.com/FairForge/corkboard/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// State is the lifecycle state of a Handle
type State int

const (
	StateClosed State = iota
	StateOpen
	StateMigrating
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateMigrating:
		return "migrating"
	case StateFailed:
		return "failed"
	default:
		return "closed"
	}
}

// OpenOptions controls how a container is opened
type OpenOptions struct {
	// Create replaces whatever is at the path with an empty container.
	Create bool
	// ReadOnly never writes to the original file. A file that needs
	// migration and cannot be written is migrated in a private copy.
	ReadOnly bool
}

// Manager hands out container handles and enforces one live handle per path
type Manager struct {
	logger      *zap.Logger
	metrics     *metrics.Collector
	migrator    *Migrator
	current     int
	busyTimeout time.Duration
	writable    func(path string) bool

	mu   sync.Mutex
	open map[string]*Handle
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithMigrator replaces the built-in migration chain. The newest version the
// chain reaches becomes the current version.
func WithMigrator(m *Migrator) ManagerOption {
	return func(mg *Manager) {
		mg.migrator = m
		mg.current = m.Latest()
	}
}

// WithMetrics records handle and migration metrics
func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(mg *Manager) {
		mg.metrics = c
	}
}

// WithBusyTimeout sets how long sqlite waits on a lock before reporting busy
func WithBusyTimeout(d time.Duration) ManagerOption {
	return func(mg *Manager) {
		mg.busyTimeout = d
	}
}

// NewManager creates a connection manager
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:      logger,
		migrator:    DefaultMigrator(),
		current:     CurrentVersion,
		busyTimeout: 2 * time.Second,
		writable:    writable,
		open:        make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CurrentVersion returns the schema version new and migrated files end up at
func (m *Manager) CurrentVersion() int {
	return m.current
}

// Open establishes a handle to the container at path
func (m *Manager) Open(ctx context.Context, path string, opts OpenOptions) (*Handle, error) {
	if opts.Create && opts.ReadOnly {
		return nil, fmt.Errorf("%w: cannot create %s", ErrReadOnly, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve %s: %w", path, err)
	}

	h := &Handle{
		m:        m,
		path:     abs,
		dbPath:   abs,
		readOnly: opts.ReadOnly,
		writable: !opts.ReadOnly,
		create:   opts.Create,
		logger:   m.logger.With(zap.String("path", abs)),
	}

	m.mu.Lock()
	if _, busy := m.open[abs]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrHandleInUse, abs)
	}
	m.open[abs] = h
	m.mu.Unlock()

	if err := h.establish(ctx); err != nil {
		h.Close()
		m.metrics.OpenFailed()
		return nil, err
	}
	h.counted = true
	m.metrics.HandleOpened()
	h.logger.Debug("container opened", zap.Int("version", h.version), zap.Bool("readOnly", h.readOnly))
	return h, nil
}

// With opens path, runs fn and closes the handle on every exit path,
// including a panic unwinding through fn.
func (m *Manager) With(ctx context.Context, path string, opts OpenOptions, fn func(*Handle) error) error {
	h, err := m.Open(ctx, path, opts)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

// IsOpen reports whether a live handle exists for path
func (m *Manager) IsOpen(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[abs]
	return ok
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	if m.open[h.path] == h {
		delete(m.open, h.path)
	}
	m.mu.Unlock()
	if h.counted {
		m.metrics.HandleClosed()
	}
}

// Handle is one open container. It is not safe for concurrent use.
type Handle struct {
	m        *Manager
	path     string
	dbPath   string // differs from path while working on a private copy
	readOnly bool
	writable bool // the connection is opened read-write
	create   bool
	logger   *zap.Logger

	db           *sql.DB
	state        State
	version      int
	establishing bool
	released     bool
	counted      bool
	tmpDir       string
}

// Path returns the absolute container path
func (h *Handle) Path() string { return h.path }

// State returns the lifecycle state
func (h *Handle) State() State { return h.state }

// Version returns the schema version of the open container
func (h *Handle) Version() int { return h.version }

// ReadOnly reports whether writes are refused
func (h *Handle) ReadOnly() bool { return h.readOnly }

// Close releases the connection and any private copy. It is safe to call
// from any state and more than once; cleanup problems are logged.
func (h *Handle) Close() {
	if h.released {
		return
	}
	h.released = true

	h.closeDB()
	if h.tmpDir != "" {
		if err := os.RemoveAll(h.tmpDir); err != nil {
			h.logger.Warn("failed to remove migration copy", zap.String("dir", h.tmpDir), zap.Error(err))
		}
		h.tmpDir = ""
	}
	h.state = StateClosed
	h.m.release(h)
}

func (h *Handle) closeDB() {
	if h.db == nil {
		return
	}
	if err := h.db.Close(); err != nil {
		h.logger.Warn("failed to close container connection", zap.Error(err))
	}
	h.db = nil
}

// conn returns the live connection, re-establishing it if it was dropped
func (h *Handle) conn(ctx context.Context) (*sql.DB, error) {
	if h.released {
		return nil, ErrHandleClosed
	}
	if h.db != nil {
		return h.db, nil
	}
	if err := h.establish(ctx); err != nil {
		return nil, err
	}
	return h.db, nil
}

// reset drops the connection. The next conn call re-establishes it.
func (h *Handle) reset() {
	h.closeDB()
}

// establish opens the connection, checks the format metadata and migrates.
// It must not be re-entered: a nested call fails fast so depth stays at 1.
func (h *Handle) establish(ctx context.Context) error {
	if h.establishing {
		return fmt.Errorf("%w: %s", ErrRecursionGuardTripped, h.path)
	}
	h.establishing = true
	defer func() { h.establishing = false }()

	if h.released {
		return ErrHandleClosed
	}

	if h.create {
		if err := h.initialize(ctx); err != nil {
			return h.fail(err)
		}
		h.create = false
		h.state = StateOpen
		return nil
	}

	if err := h.classify(); err != nil {
		return h.fail(err)
	}
	if err := h.openDB(ctx); err != nil {
		return h.fail(err)
	}
	if err := h.verify(ctx); err != nil {
		return h.fail(err)
	}
	h.state = StateOpen
	return nil
}

func (h *Handle) fail(err error) error {
	h.closeDB()
	h.state = StateFailed
	h.logger.Warn("container open failed", zap.Error(err))
	return err
}

func (h *Handle) classify() error {
	res, err := integrity.Classify(h.dbPath)
	switch res {
	case integrity.ValidContainer:
		return nil
	case integrity.NotAContainer:
		return fmt.Errorf("%w: %s", ErrNotAContainer, h.dbPath)
	default:
		return fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
}

func (h *Handle) dsn() string {
	q := url.Values{}
	if h.writable {
		q.Set("mode", "rwc")
		q.Set("_txlock", "immediate")
	} else {
		q.Set("mode", "ro")
	}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", h.m.busyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	u := url.URL{Scheme: "file", Path: h.dbPath, RawQuery: q.Encode()}
	return u.String()
}

func (h *Handle) openDB(ctx context.Context) error {
	db, err := sql.Open("sqlite", h.dsn())
	if err != nil {
		return fmt.Errorf("store: open %s: %w", h.dbPath, err)
	}
	// one connection per handle keeps pragmas and transactions on the same session
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: connect %s: %w", h.dbPath, err)
	}
	h.db = db
	return nil
}

// reopen replaces the connection without re-running verification. Used
// after migration steps that restructure the file.
func (h *Handle) reopen(ctx context.Context) error {
	h.closeDB()
	return h.openDB(ctx)
}

func (h *Handle) initialize(ctx context.Context) (err error) {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: replace %s: %w", h.path, err)
	}
	if err := h.openDB(ctx); err != nil {
		return err
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range schema {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	if err = writeMeta(ctx, tx, h.m.current); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit create: %w", err)
	}

	h.version = h.m.current
	h.logger.Info("container created", zap.Int("version", h.version))
	return nil
}

func (h *Handle) verify(ctx context.Context) error {
	appID, err := readPragma(ctx, h.db, "application_id")
	if err != nil {
		return fmt.Errorf("store: %s: %w", h.path, err)
	}
	if int32(appID) != ApplicationID {
		return &FormatError{Path: h.path, ApplicationID: int32(appID)}
	}

	stored, err := readPragma(ctx, h.db, "user_version")
	if err != nil {
		return fmt.Errorf("store: %s: %w", h.path, err)
	}
	h.version = int(stored)

	switch {
	case h.version > h.m.current:
		return &VersionError{Path: h.path, Stored: h.version, Current: h.m.current}
	case h.version == h.m.current:
		return nil
	}

	return h.migrate(ctx)
}

func (h *Handle) migrate(ctx context.Context) error {
	if !h.writable {
		if err := h.prepareWritableCopy(ctx); err != nil {
			return err
		}
	}

	h.state = StateMigrating
	h.logger.Info("migrating container", zap.Int("from", h.version), zap.Int("to", h.m.current))
	if err := h.m.migrator.Run(ctx, h, h.version, h.m.current); err != nil {
		return err
	}

	stored, err := readPragma(ctx, h.db, "user_version")
	if err != nil {
		return fmt.Errorf("store: %s: %w", h.path, err)
	}
	if int(stored) != h.m.current {
		return &MigrationError{From: h.version, To: h.m.current, Reached: int(stored),
			Err: fmt.Errorf("%w: chain ended at %d", ErrMigrationChain, stored)}
	}
	h.version = int(stored)
	h.state = StateOpen
	return nil
}

// prepareWritableCopy switches a read-only handle to a connection that can
// migrate: the original file when it is writable, otherwise a private copy.
func (h *Handle) prepareWritableCopy(ctx context.Context) error {
	h.closeDB()
	h.writable = true

	if h.m.writable(h.path) {
		return h.openDB(ctx)
	}

	h.logger.Debug("container not writable; migrating a private copy")
	dir, err := os.MkdirTemp("", "corkboard-")
	if err != nil {
		return fmt.Errorf("store: migration copy: %w", err)
	}
	h.tmpDir = dir
	dst := filepath.Join(dir, uuid.NewString()+integrity.Extension)
	if err := copyFile(h.path, dst); err != nil {
		return fmt.Errorf("store: migration copy: %w", err)
	}
	h.dbPath = dst
	return h.openDB(ctx)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
