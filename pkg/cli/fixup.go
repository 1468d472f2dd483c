package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kibela/kibela-to-kibela/pkg/migrate"
	"github.com/kibela/kibela-to-kibela/pkg/translog"
)

var (
	fixupBatch  string
	fixupDryRun bool
)

var fixupCmd = &cobra.Command{
	Use:   "fixup",
	Short: "Rewrite cross-references in migrated notes to their new locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.SrcTeam == "" {
			return errors.New("KIBELA_SRC_TEAM is required for fixup")
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
		batch := fixupBatch
		if batch == "" {
			if batch, err = log.LatestBatch(ctx); err != nil {
				return err
			}
			if batch == "" {
				return errors.New("transaction log is empty; nothing to fix up")
			}
		}

		f := &migrate.Fixer{
			Client:  client,
			Log:     log,
			Logger:  logger,
			SrcTeam: cfg.SrcTeam,
			DryRun:  fixupDryRun,
		}
		result, err := f.Run(ctx, batch)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "batch %s: %d rewritten, %d unchanged, %d failed\n",
			result.BatchID, result.Rewritten, result.Unchanged, result.Failed)
		if result.Failed > 0 {
			return fmt.Errorf("%d note(s) failed; see log output", result.Failed)
		}
		return nil
	},
}

func init() {
	fixupCmd.Flags().StringVar(&fixupBatch, "batch", "", "Batch id to fix up (default: the most recent)")
	fixupCmd.Flags().BoolVar(&fixupDryRun, "dry-run", false, "Report planned rewrites without pushing them")
	rootCmd.AddCommand(fixupCmd)
}
