package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docvec/config.yaml"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "docvec",
		Short: "Document vector store with scoped similarity search",
		Long: `docvec stores short documents together with their embeddings and
answers similarity searches restricted to a set of application scopes.
It runs as an HTTP server or operates on the configured store directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServerCmd(g),
		newAddCmd(g),
		newSearchCmd(g),
		newListCmd(g),
		newGetCmd(g),
		newDeleteCmd(g),
		newReconcileCmd(g),
		newWatchCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence, so running from a project
// directory picks up that project's config.
// It returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// run loads the config, opens the store and calls fn. Long-running commands
// log through the structured logger; one-shot commands keep stdout clean and
// log warnings to stderr.
func (g *globalFlags) run(cmd *cobra.Command, longRunning bool, fn func(ctx context.Context, c *Components) error) error {
	cfg, resolved, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	debug := cfg.Debug || g.debug
	newLogger := utils.NewCLILogger
	if longRunning {
		newLogger = utils.NewLogger
	}
	logger, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of docvec",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docvec version %s\n", version)
		},
	}
}
