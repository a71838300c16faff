package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neurodesk/neurodesk-go/internal/logging"
	"github.com/neurodesk/neurodesk-go/internal/orchestrator"
)

// NewAskCmd constructs the `neurodesk ask` command, which answers a single
// question from a user's documents and prints the result to stdout.
func NewAskCmd() *cobra.Command {
	var user string
	var collection string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against a user's documents",
		Long: `Ask a question and get an answer grounded in the user's uploaded documents.

Examples:
  neurodesk ask --user alice "what is the termination notice period?"
  neurodesk ask --user alice --collection user_alice_doc_contract "who signed it?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			st, err := buildStack(ctx, log, true)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer st.close()

			ans, err := st.orch.Ask(ctx, orchestrator.Request{
				UserID:     user,
				Query:      args[0],
				Collection: collection,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(ans.Answer)
			if len(ans.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, src := range ans.Sources {
					fmt.Printf("  %s\n", src)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID owning the documents (required)")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Restrict the question to one collection")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
