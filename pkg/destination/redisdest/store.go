// Package redisdest implements the destination store on Redis: documents
// are JSON strings, blobs are hashes, and public URLs are served from a
// configured base URL (see Handler).
package redisdest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis key layout.
const (
	docKeyPrefix   = "migrate:doc:"  // migrate:doc:{collection}:{id} -> JSON
	docIndexPrefix = "migrate:docs:" // migrate:docs:{collection} -> SET of ids
	blobKeyPrefix  = "migrate:blob:" // migrate:blob:{path} -> HASH
	blobIndexKey   = "migrate:blobs" // SET of paths

	fieldData        = "data"
	fieldContentType = "content_type"
	fieldMetadata    = "metadata"
	fieldSize        = "size"
	fieldPublic      = "public"
)

var storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "destination_operations_total",
	Help: "Destination store operations by backend, operation and result",
}, []string{"backend", "operation", "result"})

// ErrNotFound is returned when a document or blob does not exist.
var ErrNotFound = errors.New("not found")

// Store is a Redis-backed destination.
type Store struct {
	redis      *redis.Client
	publicBase string
	logger     zerolog.Logger
}

// New creates a store. publicBase is the URL prefix blobs are served under.
func New(redisClient *redis.Client, publicBase string) (*Store, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if _, err := url.Parse(publicBase); err != nil || publicBase == "" {
		return nil, fmt.Errorf("invalid public base url %q", publicBase)
	}
	return &Store{
		redis:      redisClient,
		publicBase: strings.TrimRight(publicBase, "/"),
		logger:     logging.NewLogger(logging.ComponentDestination).With().Str("backend", "redis").Logger(),
	}, nil
}

// Put stores doc as JSON and indexes its id.
func (s *Store) Put(ctx context.Context, collection, id string, doc record.Record) error {
	data, err := json.Marshal(doc)
	if err != nil {
		storeOps.WithLabelValues("redis", "put_document", "error").Inc()
		return fmt.Errorf("marshal document %s/%s: %w", collection, id, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, docKey(collection, id), data, 0)
	pipe.SAdd(ctx, docIndexPrefix+collection, id)
	if _, err := pipe.Exec(ctx); err != nil {
		storeOps.WithLabelValues("redis", "put_document", "error").Inc()
		return fmt.Errorf("store document %s/%s: %w", collection, id, err)
	}

	storeOps.WithLabelValues("redis", "put_document", "ok").Inc()
	return nil
}

// Document reads back a stored document.
func (s *Store) Document(ctx context.Context, collection, id string) (record.Record, error) {
	data, err := s.redis.Get(ctx, docKey(collection, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return record.Decode(data)
}

// DocumentIDs lists the ids stored in collection.
func (s *Store) DocumentIDs(ctx context.Context, collection string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, docIndexPrefix+collection).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return ids, nil
}

// PublicURL returns the URL of a blob with content at path, or "".
func (s *Store) PublicURL(ctx context.Context, path string) (string, error) {
	size, err := s.redis.HGet(ctx, blobKeyPrefix+path, fieldSize).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			storeOps.WithLabelValues("redis", "lookup_blob", "miss").Inc()
			return "", nil
		}
		storeOps.WithLabelValues("redis", "lookup_blob", "error").Inc()
		return "", fmt.Errorf("lookup blob %s: %w", path, err)
	}
	if size <= 0 {
		s.logger.Debug().Str("path", path).Msg("Blob exists without content")
		storeOps.WithLabelValues("redis", "lookup_blob", "empty").Inc()
		return "", nil
	}
	storeOps.WithLabelValues("redis", "lookup_blob", "hit").Inc()
	return s.url(path), nil
}

// Upload stores a blob, marks it public and returns its URL.
func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (string, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, blobKeyPrefix+path,
		fieldData, data,
		fieldContentType, contentType,
		fieldMetadata, meta,
		fieldSize, len(data),
		fieldPublic, 1,
	)
	pipe.SAdd(ctx, blobIndexKey, path)
	if _, err := pipe.Exec(ctx); err != nil {
		storeOps.WithLabelValues("redis", "upload_blob", "error").Inc()
		return "", fmt.Errorf("store blob %s: %w", path, err)
	}

	storeOps.WithLabelValues("redis", "upload_blob", "ok").Inc()
	return s.url(path), nil
}

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
	Public      bool
}

// Blob reads a stored blob.
func (s *Store) Blob(ctx context.Context, path string) (*Object, error) {
	fields, err := s.redis.HGetAll(ctx, blobKeyPrefix+path).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	obj := &Object{
		Data:        []byte(fields[fieldData]),
		ContentType: fields[fieldContentType],
		Public:      fields[fieldPublic] == "1",
	}
	if raw := fields[fieldMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &obj.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return obj, nil
}

// Close is a no-op: the Redis client is shared with the page cache and
// owned by the caller.
func (s *Store) Close() error {
	return nil
}

func (s *Store) url(path string) string {
	return s.publicBase + "/" + escapePath(path)
}

func docKey(collection, id string) string {
	return docKeyPrefix + collection + ":" + id
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
