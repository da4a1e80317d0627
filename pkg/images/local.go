package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/LucasCLuk/pandascore/pkg/download"
	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/manifest"
)

// linkID matches the first all-digit path segment, e.g. the 4197 in
// https://cdn.pandascore.co/images/league/image/4197/lec.png.
var linkID = regexp.MustCompile(`/(\d+)/`)

// LocalExt is the extension every locally fetched image is saved with.
const LocalExt = ".png"

// LinkID returns the numeric id embedded in link.
func LinkID(link string) (string, bool) {
	m := linkID.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Fetcher downloads one resource without retrying.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*download.Resource, error)
}

// LocalReport counts the outcome of one manifest.
type LocalReport struct {
	Group      string
	Downloaded int
	Skipped    int
	Failed     int
}

// DownloadManifests reads every {group}.txt in linksDir and saves each link
// to imagesDir/{group}/{id}.png, one at a time. Links without a numeric id
// are skipped; failed downloads are logged and counted.
func DownloadManifests(ctx context.Context, f Fetcher, linksDir, imagesDir string) ([]LocalReport, error) {
	files, err := filepath.Glob(filepath.Join(linksDir, "*"+manifest.FileExt))
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	sort.Strings(files)

	logger := logging.NewLogger(logging.ComponentImages)
	var reports []LocalReport
	for _, file := range files {
		group := strings.TrimSuffix(filepath.Base(file), manifest.FileExt)
		links, err := manifest.Read(file)
		if err != nil {
			return reports, err
		}

		dir := filepath.Join(imagesDir, group)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return reports, fmt.Errorf("create %s: %w", dir, err)
		}

		report := LocalReport{Group: group}
		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return append(reports, report), err
			}

			id, ok := LinkID(link)
			if !ok {
				logger.Warn().Str("url", link).Str("collection", group).Msg("Link has no id, skipping")
				report.Skipped++
				continue
			}

			logger.Info().Str("id", id).Str("collection", group).Msg("Downloading image")
			res, err := f.Fetch(ctx, link)
			if err != nil {
				logger.Warn().Err(err).Str("url", link).Msg("Image download failed")
				report.Failed++
				continue
			}
			if err := os.WriteFile(filepath.Join(dir, id+LocalExt), res.Data, 0o644); err != nil {
				return append(reports, report), fmt.Errorf("save image %s: %w", id, err)
			}
			report.Downloaded++
		}
		reports = append(reports, report)
	}
	return reports, nil
}
