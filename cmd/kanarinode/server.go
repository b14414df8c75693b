package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kanari-network/kanarinode/internal/metrics"
	"github.com/kanari-network/kanarinode/pkg/utils"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "server", Short: "node server lifecycle"}
	cmd.AddCommand(newServerStartCmd())
	cmd.AddCommand(newServerCleanCmd())
	return cmd
}

func newServerStartCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "boot the node and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return failedToStart(err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			n, err := bootstrapNode(ctx, cfg)
			if err != nil {
				return failedToStart(err)
			}

			srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(n.registry)}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logrus.WithError(err).Error("metrics server")
				}
			}()
			logrus.Infof("kanarinode started: network=%s data_dir=%s metrics=%s", cfg.Network, cfg.Store.Path, metricsAddr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
				logrus.Info("shutdown signal received")
			case <-ctx.Done():
			}

			cancel()
			_ = srv.Close()
			return n.close()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", utils.EnvOrDefault("KANARINODE_METRICS_ADDR", ":9184"), "address to serve /metrics on")
	return cmd
}

func newServerCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "wipe the chain data directory for a network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := filepath.Clean(cfg.Store.Path)
			if path == "." || path == "/" {
				return fmt.Errorf("refusing to clean suspicious data dir %q", cfg.Store.Path)
			}
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("clean data dir: %w", err)
			}
			fmt.Printf("removed %s\n", path)
			return nil
		},
	}
	return cmd
}
