// Package cliconfig loads tool configuration from, in increasing
// precedence: built-in defaults, an optional YAML config file, a .env file
// in the working directory, and process environment variables. Command
// flags override all of these at the cobra layer.
package cliconfig

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kibela/kibela-to-kibela/pkg/kibela/wire"
)

// Environment variable names.
const (
	EnvTeam           = "KIBELA_TEAM"
	EnvAccessToken    = "KIBELA_ACCESS_TOKEN"
	EnvSrcTeam        = "KIBELA_SRC_TEAM"
	EnvEndpoint       = "KIBELA_ENDPOINT"
	EnvFormat         = "KIBELA_FORMAT"
	EnvUserAgent      = "KIBELA_USER_AGENT"
	EnvLeastDelayMs   = "KIBELA_LEAST_DELAY_MS"
	EnvRetryCount     = "KIBELA_RETRY_COUNT"
	EnvLogLevel       = "KIBELA_LOG_LEVEL"
	EnvTransactionLog = "KIBELA_TRANSACTION_LOG"
)

// DefaultTransactionLog is the sqlite file recording applied mutations.
const DefaultTransactionLog = "kibela-to-kibela.db"

// Config is the tool configuration shared by all subcommands.
type Config struct {
	// Team is the destination team content is imported into.
	Team        string `yaml:"team"`
	AccessToken string `yaml:"access_token"`
	// SrcTeam is the team the archive was exported from; fixup rewrites
	// its URLs.
	SrcTeam string `yaml:"src_team"`
	// Endpoint is the API endpoint template with a {team} placeholder.
	Endpoint string `yaml:"endpoint"`
	// Format selects the wire content type: "json", "msgpack", or a full
	// MIME type.
	Format         string `yaml:"format"`
	UserAgent      string `yaml:"user_agent"`
	LeastDelayMs   int    `yaml:"least_delay_ms"`
	RetryCount     int    `yaml:"retry_count"`
	LogLevel       string `yaml:"log_level"`
	TransactionLog string `yaml:"transaction_log"`
}

func defaults() *Config {
	return &Config{
		Format:         "msgpack",
		RetryCount:     2,
		TransactionLog: DefaultTransactionLog,
	}
}

// Load builds the configuration. file may be "" (no config file). A .env
// file in the working directory is honored when present.
func Load(file string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	cfg := defaults()
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", file, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Team, EnvTeam)
	setString(&c.AccessToken, EnvAccessToken)
	setString(&c.SrcTeam, EnvSrcTeam)
	setString(&c.Endpoint, EnvEndpoint)
	setString(&c.Format, EnvFormat)
	setString(&c.UserAgent, EnvUserAgent)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.TransactionLog, EnvTransactionLog)
	setInt(&c.LeastDelayMs, EnvLeastDelayMs)
	setInt(&c.RetryCount, EnvRetryCount)
}

// Validate reports the first missing required setting by name.
func (c *Config) Validate() error {
	if c.Team == "" {
		return fmt.Errorf("%s is required", EnvTeam)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%s is required", EnvAccessToken)
	}
	if _, err := c.WireFormat(); err != nil {
		return err
	}
	return nil
}

// WireFormat resolves the format shorthand to a MIME type.
func (c *Config) WireFormat() (string, error) {
	switch c.Format {
	case "", "msgpack":
		return wire.FormatMsgpack, nil
	case "json":
		return wire.FormatJSON, nil
	case wire.FormatJSON, wire.FormatMsgpack:
		return c.Format, nil
	default:
		return "", fmt.Errorf("unknown format %q (want json or msgpack)", c.Format)
	}
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
