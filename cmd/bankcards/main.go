package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"github.com/alovak/bankcards/bank"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

var rootCmd = &cobra.Command{
	Use:           "bankcards",
	Short:         "Bank card accounts and transfers between own cards",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the Kafka consumer until interrupted",
	Long: `Run the service. Configuration is read from the environment
(HTTP_ADDR, REPO_BACKEND, DB_DSN, CARD_CRYPTO_KEY, KAFKA_BROKERS, ...).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := bank.LoadConfig()
		if err != nil {
			return err
		}

		app := bank.NewApp(logger, cfg)
		if err := app.Start(); err != nil {
			return fmt.Errorf("starting app: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		app.Shutdown()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
