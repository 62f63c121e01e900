package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/cli"
	"github.com/hyperjump/docvec/internal/indexer"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/watcher"
)

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		tmpl   models.AddRequest
		noSync bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Keep the items of one application in line with directories of files",
		Long: `Brings the store up to date with every accepted file under the given
directories, then follows changes: new and modified files are re-ingested and
replace their previous items, removed files take their items with them.
Which items came from which file is recorded in ingest.state_path.`,
		Example: `  docvec watch --app handbook ./handbook ./policies`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, true, func(ctx context.Context, c *Components) error {
				sources, err := indexer.OpenSources(c.Config.Ingest.StatePath)
				if err != nil {
					return err
				}
				idx := c.Indexer()
				syncer := indexer.NewSyncer(idx, c.Store, sources, tmpl)

				w, err := watcher.New(args, syncer,
					watcher.WithLogger(c.Logger),
					watcher.WithDebounce(c.Config.Ingest.Debounce),
					watcher.WithFilter(idx.Accepts))
				if err != nil {
					return err
				}
				if !noSync {
					for _, root := range w.Roots() {
						report, err := syncer.SyncDirectory(ctx, root)
						if report != nil {
							cli.WriteSyncReport(cmd.OutOrStdout(), root, report)
						}
						if err != nil {
							return fmt.Errorf("initial sync of %s: %w", root, err)
						}
					}
				}

				c.Logger.Info("watching", zap.Strings("roots", w.Roots()), zap.String("application", tmpl.Application))
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&tmpl.Application, "app", "", "application the items belong to")
	f.StringVar(&tmpl.ArticleType, "type", "", "article type (default \"api\")")
	f.StringVar(&tmpl.Principal, "principal", "", "principal charged for quota")
	f.BoolVar(&noSync, "no-sync", false, "skip the initial sync of existing files")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}
