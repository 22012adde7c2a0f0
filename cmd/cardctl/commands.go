package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kirillkom/card-enricher/internal/core/domain"
	"github.com/kirillkom/card-enricher/internal/core/ports"
)

type adminConnector func(ctx context.Context) (ports.Administration, func(), error)

func newRootCmd(connect adminConnector) *cobra.Command {
	root := &cobra.Command{
		Use:           "cardctl",
		Short:         "Operate the card enrichment pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	run := func(fn func(cmd *cobra.Command, admin ports.Administration) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			admin, closeFn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := fn(cmd, admin)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if result, ok := out.(domain.ActionResult); ok && !result.Success {
				return fmt.Errorf("action failed: %s", result.Message)
			}
			return nil
		}
	}

	overview := &cobra.Command{
		Use:   "overview",
		Short: "Summarize processing state of recent cards",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, admin ports.Administration) (any, error) {
			return admin.Overview(cmd.Context())
		}),
	}

	var stageName string
	retry := &cobra.Command{
		Use:   "retry <card-id>",
		Short: "Re-run one stage for a card",
		Args:  cobra.ExactArgs(1),
	}
	retry.Flags().StringVar(&stageName, "stage", string(domain.StageMetadata), "stage to retry: categorize, metadata, renderables")
	retry.RunE = func(cmd *cobra.Command, args []string) error {
		stage, err := domain.ParseStage(stageName)
		if err != nil {
			return err
		}
		return run(func(cmd *cobra.Command, admin ports.Administration) (any, error) {
			return admin.RetryStage(cmd.Context(), args[0], stage), nil
		})(cmd, args)
	}

	retryLink := &cobra.Command{
		Use:   "retry-link <card-id>",
		Short: "Fetch link metadata again for a link card",
		Args:  cobra.ExactArgs(1),
	}
	retryLink.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(cmd *cobra.Command, admin ports.Administration) (any, error) {
			return admin.RetryLinkMetadata(cmd.Context(), args[0]), nil
		})(cmd, args)
	}

	refresh := &cobra.Command{
		Use:   "refresh <card-id>",
		Short: "Clear derived data and restart enrichment for a card",
		Args:  cobra.ExactArgs(1),
	}
	refresh.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(cmd *cobra.Command, admin ports.Administration) (any, error) {
			return admin.RefreshCard(cmd.Context(), args[0]), nil
		})(cmd, args)
	}

	backfill := &cobra.Command{
		Use:       "backfill <ai|links>",
		Short:     "Enqueue cards that are missing AI or link metadata",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"ai", "links"},
	}
	backfill.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(cmd *cobra.Command, admin ports.Administration) (any, error) {
			if args[0] == "ai" {
				return admin.TriggerAIBackfill(cmd.Context())
			}
			return admin.TriggerLinkBackfill(cmd.Context())
		})(cmd, args)
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge soft-deleted cards past retention",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, admin ports.Administration) (any, error) {
			return admin.TriggerCleanup(cmd.Context())
		}),
	}

	root.AddCommand(overview, retry, retryLink, refresh, backfill, cleanup)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
