package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualqa-go/internal/logging"
	"github.com/54b3r/manualqa-go/internal/rag"
)

// NewStatusCmd constructs the `manualqa status` command, which prints what
// the passage store currently holds.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the contents of the passage store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, name, err := openStore(ctx, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer st.Close()

			stats, err := st.Stats(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			return printStats(cmd.OutOrStdout(), name, stats)
		},
	}
}

// printStats renders store stats as aligned key/value lines.
func printStats(w io.Writer, backend string, s rag.Stats) error {
	if s.Passages == 0 {
		_, err := fmt.Fprintf(w, "backend:   %s\npassages:  0 (no manual ingested)\n", backend)
		return err
	}
	_, err := fmt.Fprintf(w, "backend:   %s\npassages:  %d\nmodel:     %s\ndims:      %d\ningested:  %s\n",
		backend, s.Passages, s.EmbeddingModel, s.Dimensions, s.IngestedAt.UTC().Format(time.RFC3339))
	return err
}
