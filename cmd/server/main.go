package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dhoini/purchase-lifecycle/internal/app"
	"github.com/Dhoini/purchase-lifecycle/internal/config"
)

// Версия задается при сборке через -ldflags
var Version = "dev"

var (
	configPath   string
	readyTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "billingd",
	Short:        "billingd - purchase lifecycle coordinator",
	Long:         `billingd keeps a connection to a billing provider, tracks subscription and one-time purchases, acknowledges them and serves entitlements over HTTP`,
	Version:      Version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var acknowledgeCmd = &cobra.Command{
	Use:   "acknowledge <purchase-token>",
	Short: "Acknowledge a single purchase and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnectedApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.Service.Acknowledge(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %s\n", args[0])
			return nil
		})
	},
}

var purchasesCmd = &cobra.Command{
	Use:   "purchases",
	Short: "Print current purchases as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnectedApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.Service.Refresh(ctx); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.Service.Purchases())
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "billingd %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml)")
	acknowledgeCmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 30*time.Second, "how long to wait for the billing connection")
	purchasesCmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 30*time.Second, "how long to wait for the billing connection")

	rootCmd.AddCommand(serveCmd, acknowledgeCmd, purchasesCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	return app.New(ctx, cfg, log)
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = a.Logger.Sync() }()

	a.Logger.Infow("Starting billingd", "version", Version, "provider", a.Provider.Name(), "port", a.Config.App.Port)
	return a.Run(ctx)
}

// withConnectedApp подключается к провайдеру, выполняет fn и отключается
func withConnectedApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Connect(ctx)
	defer a.Coordinator.Detach()

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := a.Coordinator.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("billing connection is not ready: %w", err)
	}

	return fn(ctx, a)
}
