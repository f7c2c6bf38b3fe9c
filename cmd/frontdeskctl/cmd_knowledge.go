package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/frontdesk/internal/knowledge"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "knowledge",
		Aliases: []string{"kb"},
		Short:   "Inspect and extend learned answers",
	}
	cmd.AddCommand(newKnowledgeListCmd(), newKnowledgeShowCmd(), newKnowledgeAddCmd(), newKnowledgeSearchCmd())
	return cmd
}

func newKnowledgeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List learned answers, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			path := "/api/knowledge"
			if limit > 0 {
				path += fmt.Sprintf("?limit=%d", limit)
			}
			body, err := clientFor(cmd).get(path)
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, entries []protocol.KnowledgeEntry) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "no learned answers")
					return
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%-8s %-40s %s\n", shortID(e.ID), truncate(e.Question, 40), truncate(e.Answer, 60))
				}
			})
		},
	}
	cmd.Flags().Int("limit", 0, "Max results (0 = all)")
	return cmd
}

func newKnowledgeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one learned answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := clientFor(cmd).get("/api/knowledge/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return render(cmd, body, printEntry)
		},
	}
}

func newKnowledgeAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Teach an answer directly",
		Long: `Add a question and answer without going through a help request.

Example:
  frontdeskctl knowledge add --question "Do you sell gift cards?" --answer "Yes, at the front desk"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, _ := cmd.Flags().GetString("question")
			answer, _ := cmd.Flags().GetString("answer")
			confidence, _ := cmd.Flags().GetFloat64("confidence")
			body, err := clientFor(cmd).post("/api/knowledge", map[string]any{
				"question":   question,
				"answer":     answer,
				"confidence": confidence,
			})
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, e protocol.KnowledgeEntry) {
				fmt.Fprintf(w, "added %s\n", e.ID)
			})
		},
	}
	cmd.Flags().String("question", "", "Question as a customer would ask it (required)")
	cmd.Flags().String("answer", "", "Answer to give (required)")
	cmd.Flags().Float64("confidence", 1.0, "Confidence between 0 and 1")
	cmd.MarkFlagRequired("question")
	cmd.MarkFlagRequired("answer")
	return cmd
}

func newKnowledgeSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Find learned answers similar to a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			q := url.Values{"q": {args[0]}, "threshold": {fmt.Sprint(threshold)}}
			body, err := clientFor(cmd).get("/api/knowledge/search?" + q.Encode())
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, hits []knowledge.Scored) {
				if len(hits) == 0 {
					fmt.Fprintln(w, "no similar questions")
					return
				}
				for _, h := range hits {
					fmt.Fprintf(w, "%.2f  %-8s %s\n", h.Score, shortID(h.Entry.ID), h.Entry.Question)
				}
			})
		},
	}
	cmd.Flags().Float64("threshold", knowledge.DefaultThreshold, "Minimum similarity")
	return cmd
}

func printEntry(w io.Writer, e protocol.KnowledgeEntry) {
	fmt.Fprintf(w, "Entry:      %s\n", e.ID)
	fmt.Fprintf(w, "Question:   %s\n", e.Question)
	fmt.Fprintf(w, "Answer:     %s\n", e.Answer)
	fmt.Fprintf(w, "Confidence: %.2f\n", e.Confidence)
	if e.SourceEscalationID != "" {
		fmt.Fprintf(w, "Learned:    from %s\n", e.SourceEscalationID)
	}
}
