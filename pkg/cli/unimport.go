package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kibela/kibela-to-kibela/pkg/migrate"
	"github.com/kibela/kibela-to-kibela/pkg/translog"
)

var (
	unimportBatch  string
	unimportYes    bool
	unimportDryRun bool
)

var unimportCmd = &cobra.Command{
	Use:   "unimport",
	Short: "Reverse an imported batch by deleting what it created",
	Long: `Unimport replays the transaction log newest-first, deleting the batch's
comments and notes from the destination team. Items the remote already
reports as missing count as done. Attachments cannot be deleted through the
API and are left in place.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		client, err := newClient(cfg, logger)
		if err != nil {
			return err
		}
		log, err := translog.Open(cfg.TransactionLog)
		if err != nil {
			return err
		}
		defer func() { _ = log.Close() }()

		ctx := cmd.Context()
		batch := unimportBatch
		if batch == "" {
			if batch, err = log.LatestBatch(ctx); err != nil {
				return err
			}
			if batch == "" {
				return errors.New("transaction log is empty; nothing to unimport")
			}
		}

		entries, err := log.Batch(ctx, batch)
		if err != nil {
			return err
		}
		if !unimportYes && !unimportDryRun {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Delete %d migrated item(s) from team %q?", len(entries), cfg.Team)).
				Description("Batch " + batch).
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				return err
			}
			if !confirmed {
				return errors.New("aborted")
			}
		}

		u := &migrate.Unimporter{Client: client, Log: log, Logger: logger, DryRun: unimportDryRun}
		result, err := u.Run(ctx, batch)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"batch %s: %d deleted, %d already gone, %d attachments left, %d failed\n",
			result.BatchID, result.Deleted, result.AlreadyGone,
			result.SkippedAttachments, result.Failed)
		if result.Failed > 0 {
			return fmt.Errorf("%d item(s) failed; rerun unimport to retry them", result.Failed)
		}
		return nil
	},
}

func init() {
	unimportCmd.Flags().StringVar(&unimportBatch, "batch", "", "Batch id to reverse (default: the most recent)")
	unimportCmd.Flags().BoolVar(&unimportYes, "yes", false, "Skip the confirmation prompt")
	unimportCmd.Flags().BoolVar(&unimportDryRun, "dry-run", false, "Show what would be deleted without deleting")
	rootCmd.AddCommand(unimportCmd)
}
