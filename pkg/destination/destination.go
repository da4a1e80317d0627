// Package destination defines the store a migration writes into: a keyed
// document collection plus a public blob store for images.
package destination

import (
	"context"
	"path"
	"strings"

	"github.com/LucasCLuk/pandascore/pkg/record"
)

// DocumentStore persists transformed records.
type DocumentStore interface {
	// Put writes doc to collection under id, replacing any previous version.
	Put(ctx context.Context, collection, id string, doc record.Record) error
}

// BlobStore holds publicly readable objects.
type BlobStore interface {
	// PublicURL returns the public URL of an existing object at path that
	// has content, or "" when there is none.
	PublicURL(ctx context.Context, path string) (string, error)

	// Upload writes data to path, makes it publicly readable and returns
	// its public URL.
	Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (string, error)
}

// Store is a complete destination backend.
type Store interface {
	DocumentStore
	BlobStore
	Close() error
}

// ObjectPath joins a group name and an object label into a blob path.
func ObjectPath(group, label string) string {
	return path.Join(strings.Trim(group, "/"), label)
}
