package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

func newEscalationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "escalations",
		Aliases: []string{"esc"},
		Short:   "List and answer help requests",
	}
	cmd.AddCommand(newEscalationsListCmd(), newEscalationsShowCmd(), newEscalationsResolveCmd(), newEscalationsSweepCmd())
	return cmd
}

func newEscalationsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List help requests (--status, --limit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{"status": {status}, "limit": {fmt.Sprint(limit)}}
			body, err := clientFor(cmd).get("/api/escalations?" + q.Encode())
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, list []protocol.Escalation) {
				if len(list) == 0 {
					fmt.Fprintf(w, "no %s help requests\n", status)
					return
				}
				for _, e := range list {
					age := time.Since(e.CreatedAt).Round(time.Minute)
					fmt.Fprintf(w, "%-8s %-10s %6s ago  %-16s %s\n", shortID(e.ID), e.Status, age, e.Contact, truncate(e.Question, 60))
				}
			})
		},
	}
	cmd.Flags().String("status", string(protocol.EscalationPending), "pending, resolved or unresolved")
	cmd.Flags().Int("limit", 50, "Max results")
	return cmd
}

func newEscalationsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <escalation-id>",
		Short: "Show one help request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := clientFor(cmd).get("/api/escalations/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return render(cmd, body, printEscalation)
		},
	}
}

func newEscalationsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <escalation-id> <answer...>",
		Short: "Answer a pending help request",
		Long: `Record the supervisor's answer. The customer hears it on the call if they
are still connected, or gets a message otherwise, and the answer is learned
for the next caller who asks the same thing.

Example:
  frontdeskctl escalations resolve 3f2a9c1e-... Yes, 15% off with a student ID`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer := strings.Join(args[1:], " ")
			body, err := clientFor(cmd).post("/api/escalations/"+url.PathEscape(args[0])+"/resolve", map[string]string{"answer": answer})
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, e protocol.Escalation) {
				fmt.Fprintf(w, "resolved %s; %s will be told\n", shortID(e.ID), e.Contact)
			})
		},
	}
}

func newEscalationsSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue help requests now instead of waiting for the schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := clientFor(cmd).post("/api/escalations/sweep", nil)
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, v map[string]int) {
				fmt.Fprintf(w, "%d help requests expired\n", v["expired"])
			})
		},
	}
}

func printEscalation(w io.Writer, e protocol.Escalation) {
	fmt.Fprintf(w, "Escalation: %s\n", e.ID)
	fmt.Fprintf(w, "Status:     %s\n", e.Status)
	fmt.Fprintf(w, "Call:       %s\n", e.CallID)
	fmt.Fprintf(w, "Customer:   %s (%s)\n", e.CustomerID, e.Contact)
	fmt.Fprintf(w, "Created:    %s\n", e.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Question:   %s\n", e.Question)
	if e.Answer != "" {
		fmt.Fprintf(w, "Answer:     %s\n", e.Answer)
	}
	if e.ResolvedAt != nil {
		fmt.Fprintf(w, "Resolved:   %s\n", e.ResolvedAt.Format(time.RFC3339))
	}
}
