package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurodesk/neurodesk-go/internal/logging"
)

// NewIndexCmd constructs the `neurodesk index` command, which ingests a local
// text file into a user's document collection.
func NewIndexCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Index a local text file into a user's collection",
		Long: `Read a local text file, chunk and embed it, and store it in a fresh
per-user collection. Re-indexing a file with the same name creates a new
versioned collection rather than overwriting the old one.

Examples:
  neurodesk index --user alice ./contract.txt
  neurodesk index --user bob ./notes/meeting.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("index: reading %s: %w", args[0], err)
			}

			st, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer st.close()

			res, err := st.indexer.IndexDocument(ctx, user, filepath.Base(args[0]), string(data))
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			fmt.Printf("indexed %d chunks into %s (%s)\n", res.ChunkCount, res.Collection, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID to own the document (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
