// Package main is the swap relay CLI:
// - serve: live swap quotes over websocket and fee payer co-signing
// - derive-ata: print an owner's associated token account for a mint
// - migrate: apply Postgres and ClickHouse schema migrations
// - token: issue a bearer token for local testing
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Live swap quotes and fee-sponsored transactions for Solana",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before configuration")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket relay",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("rpc-url", "", "Solana RPC HTTP endpoint")
	serveCmd.Flags().String("ws-url", "", "Solana RPC websocket endpoint, enables push confirmation on submit")
	serveCmd.Flags().String("jupiter-url", "", "Jupiter swap API base URL")
	serveCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN for the sponsorship ledger (memory when empty)")
	serveCmd.Flags().String("clickhouse-dsn", "", "ClickHouse DSN for quote events (memory when empty)")
	serveCmd.Flags().String("redis-url", "", "Redis URL for the shared idempotency cache (memory when empty)")
	serveCmd.Flags().Duration("refresh-interval", 5*time.Second, "artifact recomputation interval")
	serveCmd.Flags().Duration("idle-timeout", 5*time.Minute, "evict subscriptions idle for this long")
	serveCmd.Flags().Bool("submit-enabled", true, "route POST /v1/swap/submit")

	root.AddCommand(serveCmd)

	deriveCmd := &cobra.Command{
		Use:   "derive-ata",
		Short: "Print the associated token account of an owner for a mint",
		RunE:  runDeriveATA,
	}

	deriveCmd.Flags().String("owner", "", "owner wallet address")
	deriveCmd.Flags().String("mint", "", "token mint address")
	deriveCmd.Flags().Bool("token-2022", false, "derive for the Token-2022 program")
	deriveCmd.MarkFlagRequired("owner")
	deriveCmd.MarkFlagRequired("mint")

	root.AddCommand(deriveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres and ClickHouse migrations",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN")
	migrateCmd.Flags().String("clickhouse-dsn", "", "ClickHouse DSN")

	root.AddCommand(migrateCmd)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an owner",
		RunE:  runToken,
	}

	tokenCmd.Flags().String("owner", "", "owner wallet address")
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("owner")

	root.AddCommand(tokenCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
