// internal/netimport/importer.go
package netimport

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/FairForge/corkboard/internal/logging"
	"github.com/FairForge/corkboard/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Image is a downloaded image ready to be placed in a scene
type Image struct {
	Source   string // URL the bytes came from
	Data     []byte
	Format   string
	Filename string
}

// Importer validates, paces and fetches image URLs
type Importer struct {
	policy  *Policy
	guard   *Guard
	fetcher *Fetcher
	limiter *rate.Limiter
	logger  *zap.Logger
}

// ImporterOption configures an Importer
type ImporterOption func(*importerOptions)

type importerOptions struct {
	resolver Resolver
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// WithImportResolver replaces the system resolver used by the guard
func WithImportResolver(r Resolver) ImporterOption {
	return func(o *importerOptions) {
		o.resolver = r
	}
}

// WithImportLogger sets the logger for the importer, guard and fetcher
func WithImportLogger(l *zap.Logger) ImporterOption {
	return func(o *importerOptions) {
		o.logger = l
	}
}

// WithImportMetrics records guard and fetch metrics
func WithImportMetrics(c *metrics.Collector) ImporterOption {
	return func(o *importerOptions) {
		o.metrics = c
	}
}

// NewImporter wires a guard, fetcher and rate limiter for policy
func NewImporter(policy *Policy, opts ...ImporterOption) *Importer {
	o := importerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	gopts := []GuardOption{WithGuardLogger(o.logger), WithGuardMetrics(o.metrics)}
	if o.resolver != nil {
		gopts = append(gopts, WithResolver(o.resolver))
	}
	guard := NewGuard(policy, gopts...)

	limit := rate.Inf
	if policy.RatePerSecond > 0 {
		limit = rate.Limit(policy.RatePerSecond)
	}
	burst := policy.Burst
	if burst < 1 {
		burst = 1
	}

	return &Importer{
		policy:  policy,
		guard:   guard,
		fetcher: NewFetcher(guard, WithFetcherLogger(o.logger), WithFetcherMetrics(o.metrics)),
		limiter: rate.NewLimiter(limit, burst),
		logger:  o.logger,
	}
}

// Guard returns the importer's URL guard
func (im *Importer) Guard() *Guard { return im.guard }

// Import validates raw, fetches it and returns the image. For page hosts
// the HTML page is fetched first and its first image is imported instead.
func (im *Importer) Import(ctx context.Context, raw string) (*Image, error) {
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	log := logging.FromContext(ctx, im.logger)

	approval, err := im.guard.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}

	if im.policy.isPageHost(approval.Host) {
		page, err := im.get(ctx, approval)
		if err != nil {
			return nil, err
		}
		src, err := pageImage(page.Body, page.URL)
		if err != nil {
			return nil, err
		}
		log.Debug("resolved page image", zap.String("page", page.URL.String()), zap.String("image", src.String()))
		if approval, err = im.guard.validate(ctx, src); err != nil {
			return nil, err
		}
	}

	resp, err := im.get(ctx, approval)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Source:   resp.URL.String(),
		Data:     resp.Body,
		Format:   imageFormat(resp.ContentType, resp.Body, resp.URL.Path),
		Filename: path.Base(resp.URL.Path),
	}
	if img.Filename == "/" || img.Filename == "." {
		img.Filename = ""
	}
	log.Info("image imported",
		zap.String("source", img.Source),
		zap.String("format", img.Format),
		zap.Int("bytes", len(img.Data)))
	return img, nil
}

func (im *Importer) get(ctx context.Context, a *Approval) (*Response, error) {
	if err := im.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return im.fetcher.Get(ctx, a)
}

var formats = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/bmp":     "bmp",
	"image/svg+xml": "svg",
	"image/tiff":    "tif",
}

// imageFormat picks a short format name from the sniffed content, the
// declared content type, or the file extension, in that order
func imageFormat(contentType string, body []byte, urlPath string) string {
	if f, ok := formats[http.DetectContentType(body)]; ok {
		return f
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if f, ok := formats[mt]; ok {
			return f
		}
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(urlPath)), ".")
	switch ext {
	case "jpeg":
		return "jpg"
	case "tiff":
		return "tif"
	case "":
		return "png"
	}
	return ext
}
