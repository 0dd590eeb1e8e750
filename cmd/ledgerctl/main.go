// Command ledgerctl administers a postgres backed ticket ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ticket-ledger/internal/config"
	"ticket-ledger/internal/database"
	"ticket-ledger/internal/logging"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Administer the ticket ledger",
	Long:          `Run schema migrations, issue caller tokens and inspect ledger state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	if !cfg.Database.Configured() {
		return nil, errors.New("no database configured: set DATABASE_URL or DB_HOST and DB_NAME")
	}
	return database.NewConnection(ctx, cfg.Database.ConnectionConfig())
}
