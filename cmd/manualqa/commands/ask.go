package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualqa-go/internal/assistant"
	"github.com/54b3r/manualqa-go/internal/logging"
)

// askOutput is the --json rendering of an answer.
type askOutput struct {
	Question           string `json:"question"`
	Answer             string `json:"answer"`
	Language           string `json:"language"`
	NeedsClarification bool   `json:"needs_clarification"`
	Outcome            string `json:"outcome"`
}

// NewAskCmd constructs the `manualqa ask` command, which answers a single
// question against the ingested manual and prints the result.
func NewAskCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the Retailer App",
		Long: `Answer one question using the ingested manual.

Bangla questions are answered in Bangla. Questions unrelated to the
Retailer App receive a fixed refusal.

Examples:
  manualqa ask "How do I reset my PIN?"
  manualqa ask "রিচার্জ কীভাবে করব?"
  manualqa ask --json "How do I check my commission?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			svc, err := openServices(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer svc.Close()

			st, err := svc.assistant.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			return printAnswer(cmd.OutOrStdout(), st, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the answer as JSON")

	return cmd
}

// printAnswer writes st as plain text or indented JSON.
func printAnswer(w io.Writer, st *assistant.State, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(askOutput{
			Question:           st.Question,
			Answer:             st.Answer,
			Language:           st.Language.String(),
			NeedsClarification: st.NeedsClarification,
			Outcome:            string(st.Outcome),
		})
	}
	_, err := fmt.Fprintf(w, "%s\n\nlanguage: %s  needs_clarification: %t\n",
		st.Answer, st.Language, st.NeedsClarification)
	return err
}
