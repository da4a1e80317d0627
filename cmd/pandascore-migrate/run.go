package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/cache"
	"github.com/LucasCLuk/pandascore/pkg/client"
	"github.com/LucasCLuk/pandascore/pkg/config"
	"github.com/LucasCLuk/pandascore/pkg/destination"
	"github.com/LucasCLuk/pandascore/pkg/destination/firebase"
	"github.com/LucasCLuk/pandascore/pkg/destination/redisdest"
	"github.com/LucasCLuk/pandascore/pkg/download"
	"github.com/LucasCLuk/pandascore/pkg/images"
	"github.com/LucasCLuk/pandascore/pkg/journal"
	"github.com/LucasCLuk/pandascore/pkg/manifest"
	"github.com/LucasCLuk/pandascore/pkg/pagination"
	"github.com/LucasCLuk/pandascore/pkg/pipeline"
	"github.com/LucasCLuk/pandascore/pkg/transform"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func (c *cli) newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate every configured collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMigration(cmd.Context(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("token", "", "PandaScore API token (default: read from --token-file)")
	f.String("token-file", "", "JSON file holding {\"token\": ...}")
	f.StringSlice("collections", nil, "collections to migrate")
	f.String("mode", "", "scheduling mode: sequential or concurrent")
	f.Int("workers", 0, "concurrent mode worker limit")
	f.Duration("poll-interval", 0, "completion barrier poll interval")
	f.Duration("run-timeout", 0, "abort the run after this long (0 = no limit)")
	f.String("destination", "", "destination backend: redis or firebase")
	f.String("redis-addr", "", "Redis address")
	f.Duration("page-cache-ttl", 0, "cache fetched pages in Redis for this long (0 = off)")
	f.String("journal", "", "SQLite run journal path (empty = off)")
	f.String("metrics-addr", "", "serve /health, /metrics and redis blobs on this address")
	for key, flag := range map[string]string{
		"token":          "token",
		"token_file":     "token-file",
		"collections":    "collections",
		"mode":           "mode",
		"workers":        "workers",
		"poll_interval":  "poll-interval",
		"run_timeout":    "run-timeout",
		"destination":    "destination",
		"redis.addr":     "redis-addr",
		"page_cache_ttl": "page-cache-ttl",
		"journal_path":   "journal",
		"metrics_addr":   "metrics-addr",
	} {
		c.v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func (c *cli) runMigration(parent context.Context, out io.Writer) error {
	cfg := c.cfg
	if err := cfg.ResolveToken(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signalContext(parent, cfg.RunTimeout)
	defer cancel()

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		c.logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	store, blobs, err := openDestination(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.MetricsAddr != "" {
		srv, err := startStatusServer(cfg.MetricsAddr, newStatusMux(blobs))
		if err != nil {
			return err
		}
		defer shutdownServer(srv)
		c.logger.Info().Str("addr", cfg.MetricsAddr).Msg("Status server listening")
	}

	apiCfg := client.DefaultConfig(cfg.Token)
	apiCfg.BaseURL = cfg.APIBaseURL
	apiCfg.UserAgent = cfg.UserAgent
	apiCfg.Timeout = cfg.Download.Timeout
	if cfg.PageCacheTTL > 0 {
		apiCfg.Cache = cache.NewManager(rdb, cfg.PageCacheTTL)
	}
	api, err := client.New(apiCfg)
	if err != nil {
		return fmt.Errorf("create pandascore client: %w", err)
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	links := manifest.New()
	resolver, err := images.New(store, download.New(api, cfg.RetryConfig()), links, images.DefaultCacheSize)
	if err != nil {
		return err
	}

	orch, err := pipeline.New(cfg.PipelineConfig(), pipeline.Deps{
		Fetcher:     pagination.NewFetcher(api, pagination.Config{PageSize: cfg.PageSize, MaxPages: cfg.MaxPages}),
		Transformer: transform.New(resolver),
		Documents:   store,
		Images:      resolver,
		Manifest:    links,
		Journal:     j,
	})
	if err != nil {
		return err
	}

	summary, err := orch.Run(ctx)
	if summary != nil {
		printSummary(out, summary)
	}
	return err
}

// openDestination builds the configured store. For Redis it also returns
// the handler serving public blobs.
func openDestination(ctx context.Context, cfg *config.Config, rdb *redis.Client) (destination.Store, *blobRoute, error) {
	switch cfg.Destination {
	case config.DestinationFirebase:
		store, err := firebase.New(ctx, firebase.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			Bucket:          cfg.Firebase.Bucket,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		store, err := redisdest.New(rdb, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		prefix := blobPrefix(cfg.PublicBaseURL)
		return store, &blobRoute{prefix: prefix, handler: store.Handler(prefix)}, nil
	}
}

// blobPrefix returns the path component of the public base URL.
func blobPrefix(publicBase string) string {
	u, err := url.Parse(publicBase)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s (%s) finished in %s\n", s.RunID, s.Mode, s.Duration.Round(time.Millisecond))
	fmt.Fprintln(tw, "COLLECTION\tFETCHED\tPROCESSED\tFAILED\tFETCH ERROR")
	for _, c := range s.Collections {
		fetchErr := "-"
		if c.FetchErr != nil {
			fetchErr = c.FetchErr.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", c.Name, c.Fetched, c.Processed, c.Failed, fetchErr)
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\t\n", s.Total, s.Processed, s.Failed)
	tw.Flush()
	for _, m := range s.Manifests {
		fmt.Fprintf(w, "wrote %s\n", m)
	}
}
