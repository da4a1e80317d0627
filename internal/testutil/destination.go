package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/LucasCLuk/pandascore/pkg/record"
)

// ErrInjected is returned by MemoryDestination when a failure is configured.
var ErrInjected = errors.New("injected failure")

// Blob is an object held by MemoryDestination.
type Blob struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// MemoryDestination is an in-memory document and blob store.
type MemoryDestination struct {
	BaseURL string

	mu          sync.Mutex
	docs        map[string]map[string]record.Record
	blobs       map[string]Blob
	failDocs    map[string]bool
	lookups     int
	uploads     int
	failUploads bool
}

// NewMemoryDestination returns an empty store publishing under baseURL.
func NewMemoryDestination(baseURL string) *MemoryDestination {
	return &MemoryDestination{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		docs:     make(map[string]map[string]record.Record),
		blobs:    make(map[string]Blob),
		failDocs: make(map[string]bool),
	}
}

// Put stores doc under collection/id.
func (d *MemoryDestination) Put(ctx context.Context, collection, id string, doc record.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failDocs[collection+"/"+id] {
		return ErrInjected
	}
	if d.docs[collection] == nil {
		d.docs[collection] = make(map[string]record.Record)
	}
	d.docs[collection][id] = doc
	return nil
}

// FailDocument makes Put fail for collection/id.
func (d *MemoryDestination) FailDocument(collection, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failDocs[collection+"/"+id] = true
}

// FailUploads makes every blob upload fail.
func (d *MemoryDestination) FailUploads() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failUploads = true
}

// Document returns a stored document.
func (d *MemoryDestination) Document(collection, id string) (record.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[collection][id]
	return doc, ok
}

// DocumentCount returns the number of documents in collection.
func (d *MemoryDestination) DocumentCount(collection string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.docs[collection])
}

// PublicURL returns the URL of an existing non-empty blob, or "".
func (d *MemoryDestination) PublicURL(ctx context.Context, path string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if b, ok := d.blobs[path]; ok && len(b.Data) > 0 {
		return d.BaseURL + "/" + path, nil
	}
	return "", nil
}

// Upload stores data at path and returns its public URL.
func (d *MemoryDestination) Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failUploads {
		return "", ErrInjected
	}
	d.uploads++
	d.blobs[path] = Blob{Data: data, ContentType: contentType, Metadata: metadata}
	return d.BaseURL + "/" + path, nil
}

// SeedBlob pre-provisions a blob without counting it as an upload.
func (d *MemoryDestination) SeedBlob(path string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blobs[path] = Blob{Data: data}
}

// Blob returns a stored blob.
func (d *MemoryDestination) Blob(path string) (Blob, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.blobs[path]
	return b, ok
}

// Uploads returns how many blobs were uploaded.
func (d *MemoryDestination) Uploads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uploads
}

// Lookups returns how many PublicURL calls were made.
func (d *MemoryDestination) Lookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

// Close implements destination.Store.
func (d *MemoryDestination) Close() error {
	return nil
}
