package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/kibela/kibela-to-kibela/pkg/archive"
	"github.com/kibela/kibela-to-kibela/pkg/migrate"
	"github.com/kibela/kibela-to-kibela/pkg/translog"
)

var (
	importDryRun bool
	importRate   float64
)

var importCmd = &cobra.Command{
	Use:   "import <archive-dir>",
	Short: "Replay an exported archive into the destination team",
	Long: `Import walks an unzipped Kibela export directory, uploads attachments,
creates notes and their comments, and records every applied mutation in the
transaction log. Failed items are logged and skipped; the batch keeps going.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		client, err := newClient(cfg, logger)
		if err != nil {
			return err
		}
		ar, err := archive.Open(args[0])
		if err != nil {
			return err
		}
		log, err := translog.Open(cfg.TransactionLog)
		if err != nil {
			return err
		}
		defer func() { _ = log.Close() }()

		im := &migrate.Importer{
			Client:  client,
			Log:     log,
			Logger:  logger,
			Limiter: rate.NewLimiter(rate.Limit(importRate), 1),
			DryRun:  importDryRun,
		}
		result, err := im.Run(cmd.Context(), ar)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"batch %s: %d notes, %d comments, %d attachments (%d skipped, %d failed)\n",
			result.BatchID, result.Notes, result.Comments, result.Attachments,
			result.Skipped, result.Failed)
		if result.Failed > 0 {
			return fmt.Errorf("%d item(s) failed; see log output", result.Failed)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse and count without touching the remote service")
	importCmd.Flags().Float64Var(&importRate, "rate", 5, "Maximum mutations per second")
	rootCmd.AddCommand(importCmd)
}
