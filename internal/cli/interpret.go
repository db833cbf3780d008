package cli

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alex-user-go/slotfinder/internal/search/query"
)

func newInterpretCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "interpret <text>",
		Short:   "Show how a conversational query is understood",
		Example: `  slotfinder interpret "women's cut today under 60 with taylor"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(query.Interpret(strings.Join(args, " ")))
		},
	}
}
