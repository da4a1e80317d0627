package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/config"
	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds state shared by all subcommands.
type cli struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	logger     zerolog.Logger
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "pandascore-migrate",
		Short: "Migrate PandaScore data into a document and blob store",
		Long: `pandascore-migrate fetches every configured PandaScore collection, rewrites
each record (camelCase keys, parsed timestamps, image URLs pointing at the
destination bucket) and stores it in the destination.

Settings come from defaults, an optional --config file, PANDASCORE_*
environment variables and flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configFile, "config", "c", "", "config file (yaml or json)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.Bool("log-pretty", false, "human-readable console logs")
	pf.String("links-dir", "", "directory for {collection}.txt link manifests")
	for key, flag := range map[string]string{
		"log.level":  "log-level",
		"log.pretty": "log-pretty",
		"links_dir":  "links-dir",
	} {
		c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(c.newRunCommand(), c.newFetchImagesCommand())
	return root
}

func (c *cli) load() error {
	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	c.cfg = cfg
	c.logger = logging.NewLogger(logging.ComponentCLI)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM and, when timeout is
// positive, after timeout.
func signalContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
