package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/philonis/neo/internal/agent/guard"
	"github.com/philonis/neo/internal/db"
)

// GuardCmd inspects the safety guard: audit history and operation levels.
func GuardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Inspect the safety guard",
	}
	cmd.AddCommand(guardAuditCmd(), guardLevelCmd())
	return cmd
}

func guardAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the persisted operation audit trail",
		Run: func(cmd *cobra.Command, args []string) {
			store, err := db.Open(appConfig.DBPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
				os.Exit(1)
			}
			defer store.Close()

			audit := db.NewAuditStore(store)
			summary, err := audit.Summary()
			if err != nil {
				fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
				os.Exit(1)
			}
			fmt.Printf("Operations: %d total, %d safe, %d confirmed, %d forbidden attempts\n",
				summary.TotalOperations, summary.SafeOperations,
				summary.ConfirmedOperations, summary.ForbiddenAttempts)
			if summary.TotalOperations > 0 {
				fmt.Printf("Approval rate: %.0f%%\n", summary.ApprovalRate*100)
			}

			entries, err := audit.Recent(limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
				os.Exit(1)
			}
			if len(entries) == 0 {
				return
			}
			fmt.Println()
			for _, e := range entries {
				mark := "\033[32m✓\033[0m"
				if !e.Approved {
					mark = "\033[31m✗\033[0m"
				}
				fmt.Printf("  %s %s  %-10s %-24s [%s] %s\n",
					mark, e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Action, truncateTo(e.Target, 24), e.Level, truncateTo(e.Result, 40))
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}

func guardLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "level",
		Short: "Show operation classification levels",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("\033[32msafe\033[0m (executes without asking):")
			fmt.Printf("  %s\n", joinSorted(guard.SafeOperations))
			fmt.Println("\033[33mconfirm\033[0m (asks once per action:target pair each session):")
			fmt.Printf("  %s\n", joinSorted(guard.ConfirmOperations))
			fmt.Println("\033[31mforbidden\033[0m (never executes):")
			fmt.Printf("  %s\n", joinSorted(guard.ForbiddenOperations))
			fmt.Println()
			fmt.Println("Unlisted operations default to confirm. A forbidden word appearing")
			fmt.Println("inside the action or target escalates the whole operation to forbidden.")
			fmt.Println()
			fmt.Printf("Code modification level: %s\n", appConfig.Guard.CodeGuardLevel)
		},
	}
}

func joinSorted(ops map[string]bool) string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func truncateTo(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
