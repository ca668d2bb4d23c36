package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sitesearch/internal/app"
	"sitesearch/internal/entity"
)

func init() {
	var commitEach, force, quiet bool
	rebuildCmd := &cobra.Command{
		Use:   "rebuild ENTITY_TYPE [ENTITY_ID]",
		Short: "Re-index all entities of a particular type",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := app.RebuildInput{
				EntityType:  args[0],
				Force:       force,
				Quiet:       quiet,
				DeferCommit: ptr(!commitEach),
				Progress:    os.Stdout,
			}
			if len(args) == 2 {
				in.ID = args[1]
			}
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime, log zerolog.Logger) error {
				report, err := rt.Service.Rebuild(ctx, operator, in)
				if err != nil {
					return err
				}
				if len(report.Failed) > 0 {
					log.Warn().Strs("failed", report.Failed).Msg("some entities were skipped")
				}
				fmt.Printf("Indexed %d of %d %s entities\n", report.Indexed, report.Total, report.Type)
				return nil
			})
		},
	}
	rebuildCmd.Flags().BoolVarP(&commitEach, "commit-each", "e", false, "Commit after indexing each entity. Changes show up immediately but the rebuild is much slower")
	rebuildCmd.Flags().BoolVarP(&force, "force", "i", false, "Ignore errors and keep rebuilding")
	rebuildCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not output rebuild progress")
	rootCmd.AddCommand(rebuildCmd)

	var confirmAll bool
	clearCmd := &cobra.Command{
		Use:   "clear ENTITY_TYPE|all",
		Short: "Remove documents of one type, or every document of the site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := clearTarget(args[0], confirmAll)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime, _ zerolog.Logger) error {
				if err := rt.Service.Clear(ctx, operator, app.ClearInput{EntityType: target}); err != nil {
					return err
				}
				fmt.Printf("Cleared %s\n", target)
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVarP(&confirmAll, "yes", "y", false, "Confirm clearing every document of the site")
	rootCmd.AddCommand(clearCmd)

	commitCmd := &cobra.Command{
		Use:   "commit",
		Short: "Make deferred index writes visible",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime, _ zerolog.Logger) error {
				return rt.Service.Commit(ctx, operator)
			})
		},
	}
	rootCmd.AddCommand(commitCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime, _ zerolog.Logger) error {
				applied, err := rt.Migrate(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Println("No pending migrations")
					return nil
				}
				fmt.Printf("Applied %s\n", strings.Join(applied, ", "))
				return nil
			})
		},
	}
	rootCmd.AddCommand(migrateCmd)

	tokenCmd := &cobra.Command{
		Use:   "token USER",
		Short: "Issue an API bearer token for a platform user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime, _ zerolog.Logger) error {
				token, user, err := rt.Service.IssueToken(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Token for %s (%s), sysadmin=%t\n", user.Name, user.ID, user.Sysadmin)
				fmt.Println(token)
				return nil
			})
		},
	}
	rootCmd.AddCommand(tokenCmd)

	var termsType string
	var termsLimit int
	var termsJSON bool
	termsCmd := &cobra.Command{
		Use:   "terms",
		Short: "List recent search terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if termsType != "" {
				t, err := entity.ParseType(termsType)
				if err != nil {
					return err
				}
				termsType = string(t)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime, _ zerolog.Logger) error {
				terms, err := rt.Postgres.RecentSearchTerms(ctx, termsType, termsLimit)
				if err != nil {
					return err
				}
				if termsJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(terms)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "WHEN\tTYPE\tACTOR\tTERM")
				for _, st := range terms {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.CreatedAt.Format(time.RFC3339), st.EntityType, st.Actor, st.Term)
				}
				return w.Flush()
			})
		},
	}
	termsCmd.Flags().StringVarP(&termsType, "type", "t", "", "Only terms searched on this entity type")
	termsCmd.Flags().IntVarP(&termsLimit, "limit", "n", 50, "Number of terms to list")
	termsCmd.Flags().BoolVar(&termsJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(termsCmd)
}

// clearTarget refuses to wipe the whole site unless confirmed.
func clearTarget(arg string, confirmed bool) (string, error) {
	target := strings.TrimSpace(arg)
	if strings.EqualFold(target, app.ClearAll) && !confirmed {
		return "", fmt.Errorf("clearing %q removes every document of the site; pass --yes to confirm", app.ClearAll)
	}
	return target, nil
}

func ptr[T any](v T) *T {
	return &v
}
