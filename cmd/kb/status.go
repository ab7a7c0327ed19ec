package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted sync state",
	Run: func(cmd *cobra.Command, args []string) {
		b, err := openBridge(cfg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer b.Close()

		st, err := b.orc.State(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load state: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Scope:          %s\n", b.orc.Scope())
		if st.LastSyncAt != nil {
			fmt.Printf("Last sync:      %s (%s ago)\n",
				st.LastSyncAt.Format(time.RFC3339),
				time.Since(*st.LastSyncAt).Round(time.Second))
		} else {
			fmt.Println("Last sync:      never")
		}
		if st.LastKnowledgeCommit != "" {
			fmt.Printf("Last commit:    %s\n", st.LastKnowledgeCommit)
		}
		fmt.Printf("Tracked items:  %d\n", len(st.KnowledgeHashes))
		fmt.Printf("Pointers:       %d\n", len(st.PointerMapping))

		fmt.Printf("Total syncs:    %d\n", st.Stats.TotalSyncs)
		fmt.Printf("Items synced:   %d\n", st.Stats.ItemsSynced)
		fmt.Printf("Conflicts:      %d resolved\n", st.Stats.ConflictsResolved)
		if st.Stats.TotalSyncs > 0 {
			fmt.Printf("Avg duration:   %.0fms\n", st.Stats.AvgDurationMs)
		}

		if len(st.FailedItems) > 0 {
			fmt.Printf("\n%d failed item(s):\n", len(st.FailedItems))
			for _, f := range st.FailedItems {
				fmt.Printf("  %s: %s (retry %d, last %s)\n",
					f.KnowledgeID, f.Error, f.RetryCount, f.FailedAt.Format(time.RFC3339))
			}
		}
	},
}
