package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/signald/internal/discovery"
	httpapi "github.com/fyrsmithlabs/signald/internal/http"
	"github.com/fyrsmithlabs/signald/internal/scheduler"
	"github.com/fyrsmithlabs/signald/internal/store"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show loop, quota and circuit health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, raw, err := call[httpapi.StatusResponse](cmd.Context(), newClient(), http.MethodGet, "/api/v1/status", nil)
			if err != nil {
				return err
			}
			if rawJSON {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			return printStatus(cmd.OutOrStdout(), resp)
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show candidate counts and recent discovery runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, raw, err := call[discovery.Summary](cmd.Context(), newClient(), http.MethodGet, "/api/v1/discovery/summary", nil)
			if err != nil {
				return err
			}
			if rawJSON {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			return printSummary(cmd.OutOrStdout(), sum)
		},
	}
}

func candidatesCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List discovery candidates",
		Long: `List discovery candidates, optionally filtered by status.

Examples:
  # Everything awaiting review
  sigctl candidates --status suggested

  # Approved and rejected
  sigctl candidates --status approved,rejected`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/candidates"
			if len(statuses) > 0 {
				path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
			}
			resp, raw, err := call[httpapi.CandidatesResponse](cmd.Context(), newClient(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if rawJSON {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			return printCandidates(cmd.OutOrStdout(), resp.Candidates)
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (suggested, approved, rejected, pruned)")
	return cmd
}

func decisionCmd(action, short string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   action + " <identity>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/candidates/%s/%s", url.PathEscape(args[0]), action)
			c, raw, err := call[store.Candidate](cmd.Context(), newClient(), http.MethodPost, path, httpapi.DecisionRequest{Reason: reason})
			if err != nil {
				return err
			}
			if rawJSON {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", c.Identity, c.Status)
			return err
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "note recorded with the decision")
	return cmd
}

func consensusCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "consensus <topic>",
		Short: "Show agreement among approved identities on a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/consensus/" + url.PathEscape(args[0])
			if window > 0 {
				path += "?window=" + url.QueryEscape(window.String())
			}
			resp, raw, err := call[httpapi.ConsensusResponse](cmd.Context(), newClient(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if rawJSON {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			return printConsensus(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "look-back window (server default when unset)")
	return cmd
}

func shiftCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "shift <topic>",
		Short: "Compare current sentiment on a topic against a past snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/consensus/" + url.PathEscape(args[0]) + "/shift"
			if days > 0 {
				path += "?days=" + strconv.Itoa(days)
			}
			resp, raw, err := call[httpapi.ShiftResponse](cmd.Context(), newClient(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if rawJSON {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			return printShift(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "look-back in days (server default when unset)")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Run a background job now instead of waiting for its interval",
		Long: `Run a background job once on the server and wait for it to finish.

Jobs: discovery, ingest, credibility, consensus-snapshot, digest.
The command fails when the run fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/loops/" + url.PathEscape(args[0]) + "/run"
			st, raw, err := call[scheduler.LoopStatus](cmd.Context(), newClient(), http.MethodPost, path, nil)
			if err != nil {
				return err
			}
			if rawJSON {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			// LastErrorAt equals LastRun only when the run just made failed.
			if st.LastError != "" && st.LastErrorAt.Equal(st.LastRun) {
				return fmt.Errorf("%s failed after %s: %s", st.Name, st.LastDuration, st.LastError)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s finished in %s\n", st.Name, st.LastDuration)
			return err
		},
	}
}

func printRaw(w io.Writer, raw []byte) error {
	_, err := fmt.Fprintln(w, string(raw))
	return err
}

func printStatus(w io.Writer, s httpapi.StatusResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Status:\t%s\n", s.Status)
	switch t := s.Telemetry; {
	case !t.Available:
		fmt.Fprintf(tw, "Telemetry:\tnot reported\n\n")
	case t.Data.Degraded:
		fmt.Fprintf(tw, "Telemetry:\tdegraded (%s)\n\n", t.Data.LastError)
	default:
		fmt.Fprintf(tw, "Telemetry:\thealthy\n\n")
	}

	fmt.Fprintln(tw, "LOOP\tRUNS\tFAILURES\tLAST RUN\tLAST ERROR")
	if !s.Loops.Available {
		fmt.Fprintf(tw, "unavailable: %s\n", s.Loops.Error)
	}
	for _, l := range s.Loops.Data {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", l.Name, l.Runs, l.Failures, when(l.LastRun), l.LastError)
	}

	fmt.Fprintln(tw, "\nRESOURCE\tWINDOW\tUSED\tLIMIT\tUTILIZATION")
	if !s.Quotas.Available {
		fmt.Fprintf(tw, "unavailable: %s\n", s.Quotas.Error)
	}
	for _, q := range s.Quotas.Data {
		for _, win := range q.Windows {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.0f%%\n", q.Resource, win.Window, win.Used, win.Limit, win.Utilization*100)
		}
	}

	fmt.Fprintln(tw, "\nDEPENDENCY\tSTATE\tFAILURES\tRETRY AT")
	if !s.Circuits.Available {
		fmt.Fprintf(tw, "unavailable: %s\n", s.Circuits.Error)
	}
	for _, b := range s.Circuits.Data {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", b.Dependency, b.State, b.Failures, when(b.RetryAt))
	}
	return tw.Flush()
}

func printSummary(w io.Writer, s discovery.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Suggested:\t%d\nApproved:\t%d\nRejected:\t%d\nPruned:\t%d\n", s.Suggested, s.Approved, s.Rejected, s.Pruned)
	if len(s.RecentRuns) > 0 {
		fmt.Fprintln(tw, "\nSTARTED\tREFERENCED\tNEW\tCONFIRMED\tPROMOTED\tPRUNED\tFAILURES\tERROR")
		for _, r := range s.RecentRuns {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
				when(r.StartedAt), r.Referenced, r.New, r.Confirmed, r.Promoted, r.Pruned, r.Failures, r.Error)
		}
	}
	return tw.Flush()
}

func printCandidates(w io.Writer, list []store.Candidate) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No candidates.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tSTATUS\tSCORE\tCATEGORY\tCONFIRMATIONS\tLAST SEEN\tREASON")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\t%d\t%s\t%s\n",
			c.Identity, c.Status, c.Score, c.Category, c.ConfirmationCount, when(c.LastSeen), c.Reason)
	}
	return tw.Flush()
}

func printConsensus(w io.Writer, resp httpapi.ConsensusResponse) error {
	if len(resp.Signals) == 0 {
		_, err := fmt.Fprintf(w, "No consensus on %s.\n", resp.Topic)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range resp.Signals {
		fmt.Fprintf(tw, "Topic:\t%s\n", s.Topic)
		fmt.Fprintf(tw, "Confidence:\t%s (avg credibility %.1f)\n", s.Confidence, s.AvgCredibility)
		fmt.Fprintf(tw, "Identities:\t%d (%s)\n", s.Count, strings.Join(s.AgreeingIdentities, ", "))
		fmt.Fprintf(tw, "Momentum:\t%s\n", s.Momentum)
		fmt.Fprintf(tw, "Sentiment:\t%.0f%% bullish, %.0f%% bearish, %.0f%% neutral\n",
			s.Sentiment.Bullish, s.Sentiment.Bearish, s.Sentiment.Neutral)
	}
	return tw.Flush()
}

func printShift(w io.Writer, resp httpapi.ShiftResponse) error {
	if resp.Shift == nil {
		_, err := fmt.Fprintf(w, "No baseline to compare for %s yet.\n", resp.Topic)
		return err
	}
	s := resp.Shift
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Topic:\t%s\n", s.Topic)
	fmt.Fprintf(tw, "Shift:\t%s (%s)\n", s.Kind, s.Severity)
	fmt.Fprintf(tw, "Bullish change:\t%+.1f points\n", s.BullishChange)
	fmt.Fprintf(tw, "Previous:\t%.0f%% bullish over %d observations (%s)\n", s.Previous.BullishPct, s.Previous.Observations, when(s.Previous.TakenAt))
	fmt.Fprintf(tw, "Current:\t%.0f%% bullish over %d observations\n", s.Current.BullishPct, s.Current.Observations)
	if len(s.Reversals) > 0 {
		fmt.Fprintf(tw, "Reversals:\t%d (confidence %.2f)\n", len(s.Reversals), s.Confidence)
		for _, r := range s.Reversals {
			fmt.Fprintf(tw, "\t%s: %s -> %s (credibility %.0f)\n", r.Identity, r.From, r.To, r.Credibility)
		}
	}
	return tw.Flush()
}

func when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
