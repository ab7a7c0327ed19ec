package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var conflictsResolve bool

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Detect (and optionally resolve) pointer conflicts",
	Long: `Detect inconsistencies between pointer records and knowledge items.

Without flags this is a read-only pass listing every conflict with its
suggested resolution. With --resolve the configured policy is applied;
conflicts whose policy is manual or merge are listed but never touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		b, err := openBridge(cfg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer b.Close()

		ctx := cmd.Context()

		if !conflictsResolve {
			conflicts, err := b.orc.DetectConflicts(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: conflict detection failed: %v\n", err)
				os.Exit(1)
			}
			if len(conflicts) == 0 {
				fmt.Println("No conflicts.")
				return
			}
			fmt.Printf("%d conflict(s):\n", len(conflicts))
			for _, c := range conflicts {
				fmt.Printf("  %-18s memory=%s knowledge=%s suggested=%s\n",
					c.Type, c.MemoryID, c.KnowledgeID, c.SuggestedResolution)
				for k, v := range c.Details {
					fmt.Printf("      %s: %s\n", k, v)
				}
			}
			return
		}

		result, err := b.orc.RunConflictPass(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: conflict pass failed: %v\n", err)
			os.Exit(1)
		}
		if len(result.Conflicts) == 0 {
			fmt.Println("No conflicts.")
			return
		}

		fmt.Printf("Resolved %d of %d conflict(s):\n", result.Resolved, len(result.Conflicts))
		for _, out := range result.Outcomes {
			status := "applied"
			if !out.Applied {
				status = "needs attention"
			}
			fmt.Printf("  %-18s memory=%s action=%s [%s] %s\n",
				out.Conflict.Type, out.Conflict.MemoryID, out.Action, status, out.Reason)
		}
	},
}

func init() {
	conflictsCmd.Flags().BoolVar(&conflictsResolve, "resolve", false,
		"apply the configured resolution policy")
}
