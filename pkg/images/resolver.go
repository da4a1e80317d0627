// Package images turns source image URLs into destination public URLs,
// uploading each image at most once per destination path.
package images

import (
	"context"
	"errors"
	"fmt"

	"github.com/LucasCLuk/pandascore/pkg/destination"
	"github.com/LucasCLuk/pandascore/pkg/download"
	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/record"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var resolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "images_resolved_total",
	Help: "Image references resolved by outcome",
}, []string{"outcome"})

const (
	outcomeCached         = "cached"
	outcomeExisting       = "existing"
	outcomeUploaded       = "uploaded"
	outcomeDownloadFailed = "download_failed"
	outcomeUploadFailed   = "upload_failed"
	outcomeMissingID      = "missing_id"
)

// ErrMissingID is returned for records without an id; no destination path
// can be derived for their images.
var ErrMissingID = errors.New("record has no id")

// DefaultCacheSize bounds the resolved URL cache.
const DefaultCacheSize = 4096

// Downloader fetches an image.
type Downloader interface {
	Download(ctx context.Context, url string) (*download.Resource, error)
}

// LinkRecorder receives every source URL seen, e.g. *manifest.Manifest.
type LinkRecorder interface {
	Add(group, url string)
}

// Resolver resolves image references against a blob store.
type Resolver struct {
	store      destination.BlobStore
	downloader Downloader
	links      LinkRecorder
	flight     singleflight.Group
	resolved   *lru.Cache[string, string]
	logger     zerolog.Logger
}

// New creates a resolver. links may be nil.
func New(store destination.BlobStore, downloader Downloader, links LinkRecorder, cacheSize int) (*Resolver, error) {
	if store == nil || downloader == nil {
		return nil, fmt.Errorf("blob store and downloader are required")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolved url cache: %w", err)
	}
	return &Resolver{
		store:      store,
		downloader: downloader,
		links:      links,
		resolved:   cache,
		logger:     logging.NewLogger(logging.ComponentImages),
	}, nil
}

// ObjectLabel returns "{id}.{ext}" for rec's image at imageURL.
func ObjectLabel(rec record.Record, imageURL string) (string, error) {
	id, ok := rec.ID()
	if !ok {
		return "", ErrMissingID
	}
	return id + "." + download.Extension(imageURL), nil
}

// Resolve records imageURL in the group's link manifest and returns the
// destination URL of the image.
func (r *Resolver) Resolve(ctx context.Context, group string, rec record.Record, imageURL string) (string, error) {
	if r.links != nil {
		r.links.Add(group, imageURL)
	}
	return r.ProcessImage(ctx, group, rec, imageURL)
}

// ProcessImage returns the public URL of group/{id}.{ext}. An object that
// already has content wins over downloading again; otherwise the image is
// downloaded and uploaded with metadata {group: slug}.
func (r *Resolver) ProcessImage(ctx context.Context, group string, rec record.Record, imageURL string) (string, error) {
	label, err := ObjectLabel(rec, imageURL)
	if err != nil {
		resolvedTotal.WithLabelValues(outcomeMissingID).Inc()
		return "", err
	}
	path := destination.ObjectPath(group, label)

	if u, ok := r.resolved.Get(path); ok {
		resolvedTotal.WithLabelValues(outcomeCached).Inc()
		return u, nil
	}

	v, err, _ := r.flight.Do(path, func() (any, error) {
		return r.resolve(ctx, group, path, rec.Slug(), imageURL)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolve(ctx context.Context, group, path, slug, imageURL string) (string, error) {
	existing, err := r.store.PublicURL(ctx, path)
	if err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("Blob lookup failed, downloading anyway")
	}
	if existing != "" {
		r.logger.Debug().Str("path", path).Msg("Blob already uploaded")
		resolvedTotal.WithLabelValues(outcomeExisting).Inc()
		r.resolved.Add(path, existing)
		return existing, nil
	}

	res, err := r.downloader.Download(ctx, imageURL)
	if err != nil {
		resolvedTotal.WithLabelValues(outcomeDownloadFailed).Inc()
		return "", fmt.Errorf("download %s: %w", imageURL, err)
	}

	r.logger.Info().Str("path", path).Int("bytes", len(res.Data)).Msg("Uploading image")
	u, err := r.store.Upload(ctx, path, res.Data, res.ContentType, map[string]string{group: slug})
	if err != nil {
		resolvedTotal.WithLabelValues(outcomeUploadFailed).Inc()
		return "", fmt.Errorf("upload %s: %w", path, err)
	}

	resolvedTotal.WithLabelValues(outcomeUploaded).Inc()
	r.resolved.Add(path, u)
	return u, nil
}
