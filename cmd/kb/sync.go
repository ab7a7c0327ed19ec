package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/knowmesh/kbridge/internal/orchestrator"
)

var (
	syncForce       bool
	syncIncremental bool
	syncItemID      string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync between the knowledge repository and the memory store",
	Long: `Run a sync between the knowledge repository and the memory store.

By default a full sync recomputes the delta over the entire manifest.
With --incremental only items touched by commits since the last synced
commit are reconciled. With --item a single knowledge id is reconciled
directly, bypassing delta detection.`,
	Run: func(cmd *cobra.Command, args []string) {
		if syncForce && syncIncremental {
			fmt.Fprintln(os.Stderr, "Error: --force applies to full syncs only")
			os.Exit(1)
		}

		b, err := openBridge(cfg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer b.Close()

		ctx := cmd.Context()
		var res *orchestrator.SyncResult
		switch {
		case syncItemID != "":
			res, err = b.orc.SyncItem(ctx, syncItemID)
		case syncIncremental:
			res, err = b.orc.IncrementalSync(ctx)
		default:
			res, err = b.orc.FullSync(ctx, syncForce)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete: added=%d updated=%d deleted=%d unchanged=%d (%dms)\n",
			res.Added, res.Updated, res.Deleted, res.Unchanged, res.DurationMs)

		if !res.Success {
			fmt.Fprintf(os.Stderr, "%d item(s) failed:\n", len(res.Failures))
			for _, f := range res.Failures {
				fmt.Fprintf(os.Stderr, "  %s: %s (retry %d)\n", f.KnowledgeID, f.Error, f.RetryCount)
			}
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false,
		"reapply items even when their hashes match")
	syncCmd.Flags().BoolVar(&syncIncremental, "incremental", false,
		"restrict the sync to items touched since the last synced commit")
	syncCmd.Flags().StringVar(&syncItemID, "item", "",
		"sync a single knowledge id")
}
