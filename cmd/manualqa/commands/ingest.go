package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/manualqa-go/internal/ingestion"
	"github.com/54b3r/manualqa-go/internal/logging"
)

// NewIngestCmd constructs the `manualqa ingest` command, which replaces the
// stored manual with the passages of a local file.
func NewIngestCmd() *cobra.Command {
	var file string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a manual file into the passage store",
		Long: `Split a .txt or .md manual into passages, embed them and replace the
contents of the passage store.

The previous manual stays searchable until the new one is fully embedded.
A running "manualqa serve" on the same store answers from the new manual on
its next question; no restart is needed.

Examples:
  manualqa ingest --file ./retailer_manual.md
  STORE_BACKEND=qdrant manualqa ingest --file ./retailer_manual.txt`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if file == "" {
				return fmt.Errorf("ingest: --file is required")
			}
			if !ingestion.IsSupported(file) {
				return fmt.Errorf("ingest: %q is not a supported manual format", file)
			}

			st, _, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.Close()

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			pipeline, err := ingestion.NewPipeline(emb, st, ingestion.ConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			var bar *progressbar.ProgressBar
			progress := func(done, total int) {
				if quiet {
					return
				}
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetWriter(cmd.ErrOrStderr()),
						progressbar.OptionSetDescription("embedding passages"),
						progressbar.OptionShowCount(),
						progressbar.OptionSetWidth(40),
						progressbar.OptionThrottle(100*time.Millisecond),
						progressbar.OptionShowIts(),
						progressbar.OptionSetItsString("passages"),
					)
				}
				_ = bar.Set(done)
			}

			report, err := pipeline.IngestFile(ctx, file, progress)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("ingestion complete",
				slog.String("source", report.Source),
				slog.Int("characters", report.Characters),
				slog.Int("passages", report.Passages),
				slog.String("embedding_model", report.EmbeddingModel),
				slog.Duration("duration", report.Duration),
			)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s: %d passages (%s)\n",
				report.Source, report.Passages, report.EmbeddingModel)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the manual (.txt or .md)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not draw the progress bar")

	return cmd
}
