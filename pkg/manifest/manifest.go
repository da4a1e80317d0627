// Package manifest collects the source image URLs referenced during a run,
// per collection group, and writes them as deduplicated link files.
//
// A single goroutine owns the group map; callers only send it messages, so
// concurrent record tasks never contend on a lock.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/rs/zerolog"
)

// FileExt is the suffix of every link file.
const FileExt = ".txt"

type link struct {
	group string
	url   string
}

// Manifest is the link aggregator. The zero value is not usable; call New.
type Manifest struct {
	adds    chan link
	snaps   chan chan map[string][]string
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	logger  zerolog.Logger

	// links is only touched by the run goroutine until stopped is closed.
	links map[string][]string
}

// New starts an aggregator.
func New() *Manifest {
	m := &Manifest{
		adds:    make(chan link, 256),
		snaps:   make(chan chan map[string][]string),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logging.NewLogger(logging.ComponentManifest),
		links:   make(map[string][]string),
	}
	go m.run()
	return m
}

func (m *Manifest) run() {
	defer close(m.stopped)
	for {
		select {
		case l := <-m.adds:
			m.links[l.group] = append(m.links[l.group], l.url)
		case reply := <-m.snaps:
			m.drain()
			reply <- m.dedupAll()
		case <-m.quit:
			m.drain()
			return
		}
	}
}

// drain applies adds already buffered so snapshots see every completed Add.
func (m *Manifest) drain() {
	for {
		select {
		case l := <-m.adds:
			m.links[l.group] = append(m.links[l.group], l.url)
		default:
			return
		}
	}
}

// Add records that url was referenced by group. Duplicates are kept until
// the manifest is read. Adds after Close are dropped.
func (m *Manifest) Add(group, url string) {
	select {
	case m.adds <- link{group: group, url: url}:
	case <-m.stopped:
		m.logger.Warn().Str("collection", group).Str("url", url).Msg("Link added after manifest closed")
	}
}

// Groups returns a deduplicated, sorted snapshot of every non-empty group.
func (m *Manifest) Groups() map[string][]string {
	reply := make(chan map[string][]string, 1)
	select {
	case m.snaps <- reply:
		return <-reply
	case <-m.stopped:
		return m.dedupAll()
	}
}

// Close stops the aggregator after draining pending adds.
func (m *Manifest) Close() {
	m.once.Do(func() { close(m.quit) })
	<-m.stopped
}

// Flush closes the manifest and writes one {group}.txt per non-empty group
// into dir. It returns the written file paths.
func (m *Manifest) Flush(dir string) ([]string, error) {
	m.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create links dir: %w", err)
	}

	groups := m.dedupAll()
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	var written []string
	for _, g := range names {
		p := filepath.Join(dir, g+FileExt)
		if err := writeAtomic(p, strings.Join(groups[g], "\n")); err != nil {
			return written, fmt.Errorf("write manifest %s: %w", g, err)
		}
		m.logger.Info().Str("collection", g).Int("links", len(groups[g])).Str("file", p).Msg("Manifest flushed")
		written = append(written, p)
	}
	return written, nil
}

func (m *Manifest) dedupAll() map[string][]string {
	out := make(map[string][]string, len(m.links))
	for g, urls := range m.links {
		if len(urls) == 0 {
			continue
		}
		out[g] = Dedup(urls)
	}
	return out
}

// Dedup returns the distinct values of urls, sorted.
func Dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// writeAtomic writes content to a temp file in the same directory and
// renames it over path.
func writeAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Read loads a link file, skipping blank lines.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var links []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			links = append(links, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return links, nil
}
