// cmd/topupctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"topup/internal/pkg/bootstrap"
	"topup/internal/pkg/logger"
	topupSvc "topup/internal/service/topup"
)

var Version = "dev"

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:     "topupctl",
		Short:   "Operator tool for top-up orders",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				os.Setenv("CONFIG_FILE", configFile)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default configs/topup.yaml or $CONFIG_FILE)")

	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(reconcileCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openContainer 连接配置里的存储和供应商，调用方负责 Close
func openContainer() (*bootstrap.Config, *topupSvc.Container, error) {
	cfg := bootstrap.Init()
	logger.Init("topupctl", cfg.App.LogLevel)
	container, err := topupSvc.NewContainer(cfg, otel.Tracer("topupctl"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, container, nil
}
