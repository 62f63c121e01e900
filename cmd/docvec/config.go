package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperjump/docvec/internal/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(newConfigInitCmd(g))
	return cmd
}

func newConfigInitCmd(g *globalFlags) *cobra.Command {
	var (
		provider string
		backend  string
		dbPath   string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default filled in",
		Long: `Writes the file named by --config. With the default --config the file is
config.yaml in the current directory, which later commands pick up first.`,
		Example: `  docvec config init --provider ollama
  docvec --config ./docvec.yaml config init --backend redis --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.configPath
			if path == defaultConfigPath {
				path = "config.yaml"
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := &config.Config{}
			cfg.Embedding.Provider = provider
			cfg.Storage.Backend = backend
			cfg.Storage.DatabasePath = dbPath
			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&provider, "provider", "", "embedding provider: openai, ollama, onnx or mock (default openai)")
	f.StringVar(&backend, "backend", "", "storage backend: sqlite, redis or memory (default sqlite)")
	f.StringVar(&dbPath, "database", "", "SQLite database path; ./ paths are relative to the config file")
	f.BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
