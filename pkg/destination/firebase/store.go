// Package firebase implements the destination store on Cloud Firestore and
// Cloud Storage, the backends the migrated app reads from.
package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/record"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// PublicHost serves objects of publicly readable buckets.
const PublicHost = "https://storage.googleapis.com"

// Config selects the Firebase project and bucket.
type Config struct {
	ProjectID string

	// Bucket is the Cloud Storage bucket, e.g. "onleague-3cb5e.appspot.com".
	Bucket string

	// CredentialsFile is a service account JSON; empty uses application
	// default credentials.
	CredentialsFile string
}

// Store writes documents to Firestore and images to Cloud Storage.
type Store struct {
	fs     *firestore.Client
	gcs    *storage.Client
	bucket string
	logger zerolog.Logger
}

// New connects both clients.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("firebase storage bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	fs, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	gcs, err := storage.NewClient(ctx, opts...)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &Store{
		fs:     fs,
		gcs:    gcs,
		bucket: cfg.Bucket,
		logger: logging.NewLogger(logging.ComponentDestination).With().Str("backend", "firebase").Logger(),
	}, nil
}

// Put sets collection/id to doc.
func (s *Store) Put(ctx context.Context, collection, id string, doc record.Record) error {
	if _, err := s.fs.Collection(collection).Doc(id).Set(ctx, ToFirestore(doc)); err != nil {
		return fmt.Errorf("set document %s/%s: %w", collection, id, err)
	}
	return nil
}

// PublicURL returns the URL of an object at path with a non-zero size.
func (s *Store) PublicURL(ctx context.Context, path string) (string, error) {
	attrs, err := s.gcs.Bucket(s.bucket).Object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat object %s: %w", path, err)
	}
	if attrs.Size == 0 {
		s.logger.Debug().Str("path", path).Msg("Object exists without content")
		return "", nil
	}
	return PublicObjectURL(s.bucket, path), nil
}

// Upload writes the object, grants allUsers read access and returns its URL.
func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (string, error) {
	obj := s.gcs.Bucket(s.bucket).Object(path)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", path, err)
	}

	if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		return "", fmt.Errorf("make object %s public: %w", path, err)
	}
	return PublicObjectURL(s.bucket, path), nil
}

// Close releases both clients.
func (s *Store) Close() error {
	return errors.Join(s.fs.Close(), s.gcs.Close())
}

// PublicObjectURL builds the public URL of bucket/path.
func PublicObjectURL(bucket, path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return PublicHost + "/" + bucket + "/" + strings.Join(segs, "/")
}

// ToFirestore converts a record into plain Go values Firestore can encode:
// json.Number becomes int64 or float64 and nested records become maps.
func ToFirestore(rec record.Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v any) any {
	switch val := v.(type) {
	case record.Record:
		return ToFirestore(val)
	case map[string]any:
		return ToFirestore(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = toValue(e)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case time.Time:
		return val
	default:
		return v
	}
}
