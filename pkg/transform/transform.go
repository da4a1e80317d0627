// Package transform rewrites source records into destination documents.
//
// A record is walked recursively. Keys are renamed with FormatKey, nested
// mappings and sequences recurse using the raw key as their group name,
// image_url fields are replaced by destination URLs and fields whose key
// contains "at" are parsed as timestamps when possible.
package transform

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/record"
	"github.com/rs/zerolog"
)

// ImageKey is the field that holds a source image URL.
const ImageKey = "image_url"

// ImageResolver maps a source image URL found in rec to a destination URL.
type ImageResolver interface {
	Resolve(ctx context.Context, group string, rec record.Record, imageURL string) (string, error)
}

// timeLayouts are tried in order when parsing timestamp fields.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatKey renames a source key. "serie" and "serie_id" have fixed
// renames; other keys containing "_" keep their first segment and append
// the title-cased second one, dropping the rest.
func FormatKey(key string) string {
	switch key {
	case "serie":
		return "series"
	case "serie_id":
		return "seriesId"
	}
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	return parts[0] + title(parts[1])
}

// title upper-cases the first letter of every run of letters and
// lower-cases the rest.
func title(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				r = unicode.ToLower(r)
			} else {
				r = unicode.ToUpper(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseTime parses s with the supported layouts.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Transformer rewrites records, resolving images through a resolver.
type Transformer struct {
	images ImageResolver
	logger zerolog.Logger
}

// New creates a transformer. A nil resolver leaves image_url fields
// unresolved (nil).
func New(images ImageResolver) *Transformer {
	return &Transformer{
		images: images,
		logger: logging.NewLogger(logging.ComponentTransform),
	}
}

// Transform returns the destination form of rec. The input is not modified.
// Keys are visited in sorted order; when two keys rename to the same
// destination key the lexically greater source key wins.
func (t *Transformer) Transform(ctx context.Context, rec record.Record, group string) record.Record {
	out := make(record.Record, len(rec))
	renamed := make(map[string]string, len(rec))
	for _, key := range slices.Sorted(maps.Keys(rec)) {
		dest := FormatKey(key)
		if prev, ok := renamed[dest]; ok {
			t.logger.Warn().
				Str("group", group).
				Str("key", dest).
				Str("dropped", prev).
				Str("kept", key).
				Msg("Key collision after rename")
		}
		renamed[dest] = key
		out[dest] = t.field(ctx, rec, group, key, rec[key])
	}
	return out
}

func (t *Transformer) field(ctx context.Context, rec record.Record, group, key string, value any) any {
	switch v := value.(type) {
	case record.Record:
		return t.Transform(ctx, v, key)
	case map[string]any:
		return t.Transform(ctx, record.Record(v), key)
	case []any:
		return t.sequence(ctx, key, v)
	case nil:
		return nil
	}

	if key == ImageKey {
		return t.image(ctx, rec, group, value)
	}

	if strings.Contains(key, "at") {
		if s, ok := value.(string); ok {
			if ts, ok := ParseTime(s); ok {
				return ts
			}
		}
	}
	return value
}

func (t *Transformer) sequence(ctx context.Context, key string, items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case record.Record:
			out[i] = t.Transform(ctx, v, key)
		case map[string]any:
			out[i] = t.Transform(ctx, record.Record(v), key)
		case []any:
			out[i] = t.sequence(ctx, key, v)
		default:
			out[i] = item
		}
	}
	return out
}

func (t *Transformer) image(ctx context.Context, rec record.Record, group string, value any) any {
	src, ok := value.(string)
	if !ok || src == "" {
		return value
	}
	if t.images == nil {
		return nil
	}

	u, err := t.images.Resolve(ctx, group, rec, src)
	if err != nil {
		id, _ := rec.ID()
		t.logger.Warn().Err(err).
			Str("group", group).
			Str("record_id", id).
			Str("url", src).
			Msg("Image unresolved")
		return nil
	}
	return u
}
