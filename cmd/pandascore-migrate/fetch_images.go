package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/LucasCLuk/pandascore/pkg/download"
	"github.com/LucasCLuk/pandascore/pkg/images"
	"github.com/spf13/cobra"
)

func (c *cli) newFetchImagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-images",
		Short: "Download every image listed in the link manifests",
		Long: `fetch-images reads each {collection}.txt in the links directory and saves
every image to {images-dir}/{collection}/{id}.png, where id is the first
numeric path segment of the link. Downloads run one at a time without retry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.fetchImages(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("images-dir", "", "output directory for downloaded images")
	c.v.BindPFlag("images_dir", cmd.Flags().Lookup("images-dir"))
	return cmd
}

func (c *cli) fetchImages(parent context.Context, out io.Writer) error {
	ctx, cancel := signalContext(parent, c.cfg.RunTimeout)
	defer cancel()

	dl := download.New(&http.Client{Timeout: c.cfg.Download.Timeout}, download.RetryConfig{})
	reports, err := images.DownloadManifests(ctx, dl, c.cfg.LinksDir, c.cfg.ImagesDir)
	for _, r := range reports {
		fmt.Fprintf(out, "%s: %d downloaded, %d skipped, %d failed\n", r.Group, r.Downloaded, r.Skipped, r.Failed)
	}
	if len(reports) == 0 && err == nil {
		c.logger.Warn().Str("links_dir", c.cfg.LinksDir).Msg("No link manifests found")
	}
	return err
}
