// Package board is the entry point for callers that load, save and import
// into scenes. It ties the container store and the network importer
// together using one configuration.
package board

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/FairForge/corkboard/internal/config"
	"github.com/FairForge/corkboard/internal/integrity"
	"github.com/FairForge/corkboard/internal/logging"
	"github.com/FairForge/corkboard/internal/metrics"
	"github.com/FairForge/corkboard/internal/netimport"
	"github.com/FairForge/corkboard/internal/scene"
	"github.com/FairForge/corkboard/internal/store"
	"go.uber.org/zap"
)

// Service loads and saves scenes and imports images from the network
type Service struct {
	manager  *store.Manager
	writer   *store.Writer
	importer *netimport.Importer
	progress store.ProgressFunc
	logger   *zap.Logger
}

// Option configures a Service
type Option func(*options)

type options struct {
	resolver netimport.Resolver
	progress store.ProgressFunc
	migrator *store.Migrator
	policy   *netimport.Policy
}

// WithResolver replaces the DNS resolver used to vet import URLs
func WithResolver(r netimport.Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithProgress reports per-item progress while loading and saving
func WithProgress(fn store.ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithFetchPolicy replaces the import policy built from the fetch
// configuration
func WithFetchPolicy(p *netimport.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithMigrator replaces the container migration chain
func WithMigrator(m *store.Migrator) Option {
	return func(o *options) {
		o.migrator = m
	}
}

// NewService builds a service from cfg
func NewService(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	collector := metrics.NewCollector()

	mopts := []store.ManagerOption{
		store.WithMetrics(collector),
		store.WithBusyTimeout(cfg.Store.BusyTimeout),
	}
	if o.migrator != nil {
		mopts = append(mopts, store.WithMigrator(o.migrator))
	}

	policy := o.policy
	if policy == nil {
		var err error
		if policy, err = netimport.NewPolicy(cfg.Fetch); err != nil {
			return nil, err
		}
	}
	iopts := []netimport.ImporterOption{
		netimport.WithImportLogger(logger.Named("import")),
		netimport.WithImportMetrics(collector),
	}
	if o.resolver != nil {
		iopts = append(iopts, netimport.WithImportResolver(o.resolver))
	}

	return &Service{
		manager: store.NewManager(logger.Named("store"), mopts...),
		writer: store.NewWriter(logger.Named("store"),
			store.WithRetry(cfg.Store.MaxRetries, cfg.Store.RetryDelay, cfg.Store.RetryBackoff),
			store.WithVacuum(cfg.Store.VacuumOnWrite),
			store.WithProgress(o.progress),
			store.WithWriteMetrics(collector),
		),
		importer: netimport.NewImporter(policy, iopts...),
		progress: o.progress,
		logger:   logger,
	}, nil
}

// Classify reports whether path holds a container, judged by content only
func (s *Service) Classify(path string) (integrity.Result, error) {
	return integrity.Classify(path)
}

// Load reads the scene stored at path. An outdated container is migrated
// in place when the file is writable and in a private copy otherwise.
//
// Items that cannot be loaded come back as *scene.ErrorItem placeholders;
// the snapshot is then returned together with an error describing them.
func (s *Service) Load(ctx context.Context, path string) (*scene.Snapshot, error) {
	ctx = logging.WithPath(ctx, path)
	var snap *scene.Snapshot
	err := s.manager.With(ctx, path, store.OpenOptions{ReadOnly: true}, func(h *store.Handle) error {
		var err error
		snap, err = store.Read(ctx, h, s.progress)
		return err
	})
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("load failed", zap.Error(err), zap.Bool("partial", snap != nil))
		return snap, err
	}
	return snap, nil
}

// Save writes snap to path. A missing or empty file is created; any other
// file that is not a container is left alone.
func (s *Service) Save(ctx context.Context, path string, snap *scene.Snapshot) error {
	opts, err := saveOptions(path)
	if err != nil {
		return err
	}
	return s.write(ctx, path, opts, snap)
}

// SaveAs writes snap to path, replacing whatever is there
func (s *Service) SaveAs(ctx context.Context, path string, snap *scene.Snapshot) error {
	return s.write(ctx, path, store.OpenOptions{Create: true}, snap)
}

func (s *Service) write(ctx context.Context, path string, opts store.OpenOptions, snap *scene.Snapshot) error {
	ctx = logging.WithPath(ctx, path)
	err := s.manager.With(ctx, path, opts, func(h *store.Handle) error {
		return s.writer.Write(ctx, h, snap)
	})
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("save failed", zap.Error(err))
	}
	return err
}

func saveOptions(path string) (store.OpenOptions, error) {
	res, err := integrity.Classify(path)
	switch res {
	case integrity.ValidContainer:
		return store.OpenOptions{}, nil
	case integrity.NotAContainer:
		if fi, statErr := os.Stat(path); statErr == nil && fi.Size() == 0 {
			return store.OpenOptions{Create: true}, nil
		}
		return store.OpenOptions{}, fmt.Errorf("%w: refusing to overwrite %s", store.ErrNotAContainer, path)
	default:
		if errors.Is(err, os.ErrNotExist) {
			return store.OpenOptions{Create: true}, nil
		}
		return store.OpenOptions{}, fmt.Errorf("%w: %w", store.ErrUnreadable, err)
	}
}

// FetchImage validates and downloads an image URL
func (s *Service) FetchImage(ctx context.Context, rawURL string) (*netimport.Image, error) {
	return s.importer.Import(ctx, rawURL)
}

// ImportImage downloads an image and returns a new item placed above every
// item in snap. snap is not modified.
func (s *Service) ImportImage(ctx context.Context, snap *scene.Snapshot, rawURL string) (*scene.ImageItem, error) {
	img, err := s.FetchImage(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	item := &scene.ImageItem{
		Placement: scene.DefaultPlacement(),
		Data:      img.Data,
		Format:    img.Format,
		Filename:  img.Filename,
	}
	if snap != nil {
		item.Z = snap.NextZ()
	}
	return item, nil
}
