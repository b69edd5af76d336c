package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// SkillsCmd inspects the tool registry, skill packs, and dynamic skills.
func SkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect registered tools and skills",
	}
	cmd.AddCommand(skillsListCmd(), skillsSearchCmd())
	return cmd
}

func skillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tools, skill packs, and dynamic skills",
		Run: func(cmd *cobra.Command, args []string) {
			d, err := buildAgent(appConfig)
			if err != nil {
				fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
				os.Exit(1)
			}
			defer d.Close()
			printSkills(d)
		},
	}
}

func skillsSearchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search tools by keyword overlap",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d, err := buildAgent(appConfig)
			if err != nil {
				fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
				os.Exit(1)
			}
			defer d.Close()

			query := strings.Join(args, " ")
			results := d.registry.Search(query, topK)
			if len(results) == 0 {
				fmt.Println("No matching tools.")
				return
			}
			for _, r := range results {
				fmt.Printf("  %.2f  %s - %s\n", r.Score, r.Name, firstLineOf(r.Description))
			}
		},
	}
	cmd.Flags().IntVar(&topK, "top", 5, "maximum results")
	return cmd
}
