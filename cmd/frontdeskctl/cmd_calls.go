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

func newCallsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect and simulate calls",
	}
	cmd.AddCommand(newCallsStartCmd(), newCallsShowCmd(), newCallsAskCmd(), newCallsEndCmd(), newCallsCustomerCmd())
	return cmd
}

func newCallsStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <phone>",
		Short: "Place a simulated inbound call",
		Long: `Start a call as if the customer had dialed in. The greeting is spoken and
the call shows up in the ledger; use "calls ask" to put questions to it.

Examples:
  frontdeskctl calls start +15551234567
  frontdeskctl calls start +15551234567 --id test-call-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			body, err := clientFor(cmd).post("/api/calls", map[string]string{"call_id": id, "phone": args[0]})
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, c protocol.Call) {
				fmt.Fprintf(w, "call %s started for %s\n", c.ID, c.Contact)
			})
		},
	}
	cmd.Flags().String("id", "", "Call id (generated when empty)")
	return cmd
}

func newCallsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <call-id>",
		Short: "Show a call and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := clientFor(cmd).get("/api/calls/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return render(cmd, body, printCall)
		},
	}
}

func newCallsAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <call-id> <question...>",
		Short: "Ask a question on a call",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args[1:], " ")
			body, err := clientFor(cmd).post("/api/calls/"+url.PathEscape(args[0])+"/questions", map[string]string{"question": q})
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, a protocol.Answer) {
				fmt.Fprintln(w, a.Text)
				if a.NeedsHelp {
					fmt.Fprintln(w, "(escalated to a supervisor)")
				}
			})
		},
	}
}

func newCallsEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <call-id>",
		Short: "Hang up a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := clientFor(cmd).post("/api/calls/"+url.PathEscape(args[0])+"/end", nil)
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, v map[string]any) {
				if v["status"] == "ending" {
					fmt.Fprintf(w, "call %s is ending\n", args[0])
					return
				}
				fmt.Fprintf(w, "call %s %v\n", args[0], v["status"])
			})
		},
	}
}

func newCallsCustomerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer <customer-id>",
		Short: "List a customer's calls, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			path := fmt.Sprintf("/api/customers/%s/calls?limit=%d", url.PathEscape(args[0]), limit)
			body, err := clientFor(cmd).get(path)
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, calls []protocol.Call) {
				if len(calls) == 0 {
					fmt.Fprintln(w, "no calls")
					return
				}
				for _, c := range calls {
					fmt.Fprintf(w, "%-24s %-12s %s  %d lines\n", c.ID, c.Status, c.StartedAt.Format(time.RFC3339), len(c.Transcript))
				}
			})
		},
	}
	cmd.Flags().Int("limit", 20, "Max results")
	return cmd
}

func printCall(w io.Writer, c protocol.Call) {
	fmt.Fprintf(w, "Call:      %s\n", c.ID)
	fmt.Fprintf(w, "Customer:  %s (%s)\n", c.CustomerID, c.Contact)
	fmt.Fprintf(w, "Status:    %s\n", c.Status)
	fmt.Fprintf(w, "Started:   %s\n", c.StartedAt.Format(time.RFC3339))
	if c.Duration != nil {
		fmt.Fprintf(w, "Duration:  %s\n", c.Duration.Round(time.Second))
	}
	if len(c.Transcript) > 0 {
		fmt.Fprintln(w)
	}
	for _, t := range c.Transcript {
		fmt.Fprintf(w, "[%s] %-9s %s\n", t.Timestamp.Format("15:04:05"), t.Speaker, t.Text)
	}
}
