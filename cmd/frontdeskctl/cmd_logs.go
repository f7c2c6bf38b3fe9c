package main

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/frontdesk/internal/logbuf"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon logs",
		Long: `Query the daemon's in-memory log buffer.

Examples:
  frontdeskctl logs --call voice_call_1
  frontdeskctl logs --level warn --since 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for flag, param := range map[string]string{"call": "call_id", "component": "component", "level": "level"} {
				if v, _ := cmd.Flags().GetString(flag); v != "" {
					q.Set(param, v)
				}
			}
			if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
				q.Set("since", fmt.Sprint(time.Now().Add(-since).UnixMilli()))
			}
			limit, _ := cmd.Flags().GetInt("limit")
			q.Set("limit", fmt.Sprint(limit))

			body, err := clientFor(cmd).get("/api/logs?" + q.Encode())
			if err != nil {
				return err
			}
			return render(cmd, body, func(w io.Writer, entries []logbuf.Entry) {
				for _, e := range entries {
					fmt.Fprintf(w, "%s %-5s %s%s\n", e.Time.Format("15:04:05.000"), e.Level, e.Message, formatAttrs(e.Attrs))
				}
			})
		},
	}
	cmd.Flags().String("call", "", "Only entries for this call id")
	cmd.Flags().String("component", "", "Only entries from this component")
	cmd.Flags().String("level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().Duration("since", 0, "Only entries newer than this")
	cmd.Flags().Int("limit", 200, "Max entries")
	return cmd
}

func formatAttrs(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, attrs[k])
	}
	return b.String()
}
