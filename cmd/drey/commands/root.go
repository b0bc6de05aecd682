// Package commands implements the drey CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/logging"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/pkg/client"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/spf13/cobra"
)

var versionString = "dev"

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	versionString = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// Execute builds the command tree and runs it against os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "drey",
		Short: "drey - buffer analytics events locally and upload them in batches",
		Long: `drey queues analytics events in a local store and uploads them to the
collection service in batches. Events the service rejects are dropped, events
that fail transiently stay queued for the next upload.

Configuration is read from drey.yml; create one with 'drey init'.`,
		Version: versionString,
		// Prevent silent success when unknown flags are passed to root command
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		// We print formatted colored errors directly in the printer package
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultFile, "Path to drey.yml")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides drey.yml)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (overrides drey.yml)")

	rootCmd.AddCommand(
		newInitCmd(opts),
		newQueueCmd(opts),
		newSendCmd(opts),
		newUploadCmd(opts),
		newHoardCmd(opts),
		newAttemptsCmd(opts),
	)

	return rootCmd
}

// session is the loaded configuration and the store it points at.
type session struct {
	cfg        *config.DreyConfig
	store      eventstore.Store
	closeStore func() error
	logger     *slog.Logger
}

// openSession loads drey.yml, sets up logging and opens the store. Relative
// store paths are resolved against the directory holding drey.yml.
func openSession(ctx context.Context, opts *rootOptions) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, printer.Error(
				fmt.Sprintf("%s not found", opts.configPath),
				"drey needs a configuration file to know the project and the store.",
				[]string{"Create one:\n  drey init --project <project-id>"},
			)
		}
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	if opts.logFormat != "" {
		format = opts.logFormat
	}
	logger := logging.Init(format, logging.ParseLevel(level))

	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(filepath.Dir(opts.configPath), cfg.Store.Path)
	}

	store, closeStore, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to open event store",
			err.Error(),
			map[string]string{
				"Kind":     cfg.Store.Kind,
				"Location": storeLocation(cfg.Store),
			},
			[]string{fmt.Sprintf("Check the store section of %s", opts.configPath)},
		)
	}

	return &session{cfg: cfg, store: store, closeStore: closeStore, logger: logger}, nil
}

// client builds a client over the session store. Close it before the session.
func (s *session) client() (*client.Client, error) {
	return client.New(s.cfg.ClientConfig(), s.store, client.WithLogger(s.logger))
}

func (s *session) Close() {
	if err := s.closeStore(); err != nil {
		s.logger.Warn("failed to close event store", "error", err)
	}
}

func storeLocation(s *config.StoreConfig) string {
	switch s.Kind {
	case config.StoreRedis:
		return s.RedisAddr + " (namespace " + s.Namespace + ")"
	case config.StoreMemory:
		return "in process"
	default:
		return s.Path
	}
}
