package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/docvec/internal/cli"
	"github.com/hyperjump/docvec/internal/models"
)

func newAddCmd(g *globalFlags) *cobra.Command {
	var (
		req    models.AddRequest
		file   string
		dir    string
		output string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a document from text, a file or a directory",
		Long: `Adds one item from --text, or the extracted text of --file (.pdf, .docx,
.xlsx, .pptx, OpenDocument, plain text). --dir ingests every accepted file
below a directory. With ingest.chunk_size set, long files become one item per
chunk. File titles default to the file's base name.`,
		Example: `  docvec add --app demo --title "Refunds" --text "Refunds take five days."
  docvec add --app demo --file ./handbook.pdf
  docvec add --app demo --dir ./docs --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			return g.run(cmd, false, func(ctx context.Context, c *Components) error {
				out := cmd.OutOrStdout()
				switch {
				case dir != "":
					report, err := c.Indexer().IndexDirectory(ctx, dir, req)
					if report != nil {
						if werr := cli.WriteIndexReport(out, report, format); werr != nil {
							return werr
						}
					}
					return err
				case file != "":
					items, err := c.Indexer().IndexFile(ctx, file, req)
					for _, item := range items {
						if werr := cli.WriteItem(out, item, format); werr != nil {
							return werr
						}
					}
					return err
				default:
					item, err := c.Store.Add(ctx, &req)
					if err != nil {
						return err
					}
					return cli.WriteItem(out, item, format)
				}
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Application, "app", "", "application the item belongs to")
	f.StringVar(&req.Title, "title", "", "item title (required with --text)")
	f.StringVar(&req.Text, "text", "", "item text")
	f.StringVar(&req.ArticleType, "type", "", "article type (default \"api\")")
	f.StringVar(&req.Principal, "principal", "", "principal charged for quota")
	f.StringVar(&file, "file", "", "read the text from a document file")
	f.StringVar(&dir, "dir", "", "ingest every accepted file under a directory")
	f.StringVarP(&output, "output", "o", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("app")
	cmd.MarkFlagsMutuallyExclusive("text", "file", "dir")
	cmd.MarkFlagsOneRequired("text", "file", "dir")
	return cmd
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var (
		app       string
		tags      []string
		principal string
		limit     int
		plugin    bool
		output    string
	)
	cmd := &cobra.Command{
		Use:   "search [flags] <query>",
		Short: "Search documents by similarity within a scope",
		Long: `Query is all remaining arguments joined by spaces. Without --tag the scope
is dispatch.base_tags plus --app (or only --app with --plugin), the same
composition the HTTP API applies.`,
		Example: `  docvec search --app demo how are refunds processed
  docvec search --tag demo --tag chat --limit 3 refunds
  docvec search --app shop --plugin --output json shipping times`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			query := buildSearchQuery(args)
			if query == "" {
				return fmt.Errorf("query cannot be empty")
			}
			return g.run(cmd, false, func(ctx context.Context, c *Components) error {
				scopeApp := app
				if scopeApp == "" {
					scopeApp = c.Config.Dispatch.DefaultApp
				}
				scope := tags
				if len(scope) == 0 {
					scope = models.ScopeTags(c.Config.Dispatch.BaseTags, scopeApp, plugin)
				}
				resp, err := c.Store.Search(ctx, &models.SearchQuery{
					Query:     query,
					Tags:      scope,
					App:       scopeApp,
					Principal: principal,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&app, "app", "", "application scope and quota key (default dispatch.default_app)")
	f.StringArrayVar(&tags, "tag", nil, "scope tag; repeat to search several applications")
	f.StringVar(&principal, "principal", "", "principal charged for quota")
	f.IntVarP(&limit, "limit", "n", 0, "number of results (default search.default_limit)")
	f.BoolVar(&plugin, "plugin", false, "search only --app, ignoring the base tags")
	f.StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

// buildSearchQuery joins the positional args so multi-word queries work the
// same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newListCmd(g *globalFlags) *cobra.Command {
	var (
		app       string
		principal string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every item of an application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			return g.run(cmd, false, func(ctx context.Context, c *Components) error {
				resp, err := c.Store.List(ctx, &models.ListQuery{Application: app, Principal: principal})
				if err != nil {
					return err
				}
				return cli.WriteItems(cmd.OutOrStdout(), resp, format)
			})
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "application to list")
	cmd.Flags().StringVar(&principal, "principal", "", "principal charged for quota")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

func newGetCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <item-pk>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			return g.run(cmd, false, func(ctx context.Context, c *Components) error {
				item, err := c.Store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return cli.WriteItem(cmd.OutOrStdout(), item, format)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item-pk>...",
		Short: "Delete items and their vector records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, false, func(ctx context.Context, c *Components) error {
				for _, pk := range args {
					if err := c.Store.Delete(ctx, pk); err != nil {
						return fmt.Errorf("delete %s: %w", pk, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", pk)
				}
				return nil
			})
		},
	}
}

func newReconcileCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair record pairs left inconsistent by failed writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			return g.run(cmd, false, func(ctx context.Context, c *Components) error {
				report, err := c.Store.Reconcile(ctx)
				if err != nil {
					return err
				}
				return cli.WriteReconcileReport(cmd.OutOrStdout(), report, format)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}
