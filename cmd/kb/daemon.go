package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/knowmesh/kbridge/internal/daemon"
	"github.com/knowmesh/kbridge/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync bridge continuously",
	Long: `Run the sync bridge as a long-lived process.

The daemon watches the knowledge items directory and reconciles changed
items immediately, evaluates the configured trigger conditions on an
interval, and periodically repairs conflicts. With the dashboard enabled
it also serves run and conflict events over WebSocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		sink := daemonLogSink(cfg)

		b, err := openBridge(cfg, sink)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer b.Close()

		var events daemon.Publisher
		var dash *dashboard.Server
		if cfg.Dashboard.Enabled {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: newDaemonLogger(sink),
			})
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				os.Exit(1)
			}
			defer func() {
				if err := dash.Stop(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: dashboard shutdown: %v\n", err)
				}
			}()
			fmt.Printf("Dashboard listening on %s\n", dash.Addr())
			events = dash
		}

		dcfg := cfg.DaemonConfig()
		dcfg.Logger = newDaemonLogger(sink)

		d, err := daemon.New(b.orc, b.repo.ItemsDir(), dcfg, events)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: daemon failed: %v\n", err)
			os.Exit(1)
		}
	},
}
