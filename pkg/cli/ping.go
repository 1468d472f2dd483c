package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kibela/kibela-to-kibela/pkg/kibela"
	"github.com/kibela/kibela-to-kibela/pkg/kibela/ops"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify credentials and connectivity against the destination team",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newClient(cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		resp, err := client.Request(cmd.Context(), ops.Ping, nil)
		if err != nil {
			return err
		}

		account, err := kibela.PluckString(resp.Data, "$.currentUser.account")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: authenticated as %s on %s (attempts=%d, total=%s)\n",
			account, client.Endpoint(), resp.Meta.Timing.Attempts, resp.Meta.Timing.Total.Round(timeRounding))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
