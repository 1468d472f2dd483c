// Package cli wires the ping, import, unimport, and fixup subcommands.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kibela/kibela-to-kibela/pkg/cliconfig"
	"github.com/kibela/kibela-to-kibela/pkg/kibela"
	"github.com/kibela/kibela-to-kibela/pkg/logging"
)

var (
	// Persistent flags available to all subcommands.
	cfgFile      string
	logLevel     string
	formatFlag   string
	retryCount   int
	leastDelayMs int
	translogPath string

	// Version is injected during build.
	Version = "dev"
)

// timeRounding keeps printed durations readable.
const timeRounding = time.Millisecond

var rootCmd = &cobra.Command{
	Use:   "kibela-to-kibela",
	Short: "Migrate notes, comments, and attachments between Kibela teams",
	Long: `kibela-to-kibela replays an exported Kibela archive into another team
through the GraphQL API, records every applied mutation in a local
transaction log, and can reverse the whole migration (unimport) or rewrite
cross-references in migrated content (fixup).

Credentials come from KIBELA_TEAM / KIBELA_ACCESS_TOKEN (a .env file in the
working directory is honored), optionally overlaid with a YAML config file
and flags.`,
	SilenceUsage:  true,
	SilenceErrors: true, // Execute prints the error once
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&formatFlag, "format", "", "Wire format: json or msgpack (default msgpack)")
	pf.IntVar(&retryCount, "retry-count", -1, "Retries per request beyond the first attempt")
	pf.IntVar(&leastDelayMs, "least-delay", 0, "Steady-state delay between request attempts, in milliseconds")
	pf.StringVar(&translogPath, "translog", "", "Path to the transaction log database")
}

// loadConfig merges flag overrides onto the cliconfig result.
func loadConfig() (*cliconfig.Config, error) {
	cfg, err := cliconfig.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if formatFlag != "" {
		cfg.Format = formatFlag
	}
	if retryCount >= 0 {
		cfg.RetryCount = retryCount
	}
	if leastDelayMs > 0 {
		cfg.LeastDelayMs = leastDelayMs
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if translogPath != "" {
		cfg.TransactionLog = translogPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *cliconfig.Config) *slog.Logger {
	return logging.New(logging.Config{Level: logging.ParseLevel(cfg.LogLevel)})
}

// newClient builds the GraphQL client from the merged configuration.
func newClient(cfg *cliconfig.Config, logger *slog.Logger) (*kibela.Client, error) {
	format, err := cfg.WireFormat()
	if err != nil {
		return nil, err
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "kibela-to-kibela/" + Version
	}
	return kibela.NewClient(kibela.Config{
		Team:             cfg.Team,
		AccessToken:      cfg.AccessToken,
		EndpointTemplate: cfg.Endpoint,
		UserAgent:        userAgent,
		Format:           format,
		LeastDelay:       time.Duration(cfg.LeastDelayMs) * time.Millisecond,
		RetryCount:       cfg.RetryCount,
		Logger:           logger,
	})
}
