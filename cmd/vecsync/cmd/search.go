package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecsync/internal/output"
)

func newSearchCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <name> <query>",
		Short: "Search an indexed repository",
		Long: `Embed a query and return the nearest chunks of one repository.

Results come back in vector store order without re-ranking. Use it to
check what an index contains.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			name := args[0]
			query := strings.Join(args[1:], " ")

			ctx := cmd.Context()
			st, err := openStack(ctx, cfg, stackOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			hits, err := st.runner.Search(ctx, name, query, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(hits)
			}

			out := output.New(cmd.OutOrStdout())
			if len(hits) == 0 {
				out.Status("", fmt.Sprintf("No results in %s", name))
				return nil
			}
			for i, h := range hits {
				out.Statusf(fmt.Sprintf("%d.", i+1), "%s:%d-%d (%.3f)", h.Path, h.LineStart, h.LineEnd, h.Score)
				out.Status("", snippet(h.Text, 160))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// snippet collapses whitespace and truncates text to n runes.
func snippet(text string, n int) string {
	s := strings.Join(strings.Fields(text), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
