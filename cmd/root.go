package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"wakeline/internal/app"
	"wakeline/internal/config"
	"wakeline/internal/logs"
)

var rootCmd = &cobra.Command{
	Use:   "wakeline",
	Short: "Wake-up call scheduling and delivery",
	Long: `Wakeline places scheduled accountability calls to users' phones at their
local call time, retries unanswered calls with rising urgency, and hosts the
live session once a call is answered.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newTriggerCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newCertsCommand())
	rootCmd.AddCommand(newPendingCommand())
}

// loadConfig reads the environment and installs the logger.
func loadConfig() (*config.Config, *logs.Ring, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	ring := logs.NewRing(cfg.LogRingSize)
	log := logs.New(cfg, ring)
	slog.SetDefault(log)
	return cfg, ring, log, nil
}

func buildApp(ctx context.Context) (*app.App, error) {
	cfg, ring, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return app.Build(ctx, cfg, ring, log)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
