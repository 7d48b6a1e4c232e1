// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

func newTracesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Query and prune decision traces",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent decision traces, newest first",
		RunE:  runTracesList,
	}
	list.Flags().String("type", "", "decision type: routing, ops_query or policy")
	list.Flags().String("correlation", "", "only traces with this correlation id")
	list.Flags().String("outcome", "", "outcome: success, fallback or failure")
	list.Flags().Duration("since", 0, "only traces newer than this (e.g. 1h)")
	list.Flags().Int("limit", 20, "maximum number of traces")
	list.Flags().Bool("json", false, "print one JSON object per line")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete traces older than their retention period",
		RunE:  runTracesPurge,
	}

	cmd.AddCommand(list, purge)
	return cmd
}

func traceFilter(cmd *cobra.Command, now time.Time) (store.TraceFilter, error) {
	var f store.TraceFilter

	typ, _ := cmd.Flags().GetString("type")
	if typ != "" {
		f.Type = types.DecisionType(typ)
		if !f.Type.Valid() {
			return f, wperr.Errorf(wperr.CodeCLIInputInvalid, "unknown decision type %q", typ)
		}
	}
	outcome, _ := cmd.Flags().GetString("outcome")
	if outcome != "" {
		f.Outcome = types.Outcome(outcome)
		if !f.Outcome.Valid() {
			return f, wperr.Errorf(wperr.CodeCLIInputInvalid, "unknown outcome %q", outcome)
		}
	}
	f.CorrelationID, _ = cmd.Flags().GetString("correlation")
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		f.From = now.Add(-since)
	}
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if f.Limit <= 0 {
		return f, wperr.Errorf(wperr.CodeCLIInputInvalid, "limit must be positive, got %d", f.Limit)
	}
	return f, nil
}

func runTracesList(cmd *cobra.Command, _ []string) error {
	filter, err := traceFilter(cmd, time.Now())
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, resolveDataDir())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	traces, err := st.QueryDecisionTraces(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		for _, t := range traces {
			if err := enc.Encode(t); err != nil {
				return err
			}
		}
		return nil
	}

	if len(traces) == 0 {
		_, _ = fmt.Fprintln(out, "No decision traces found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tTYPE\tSELECTED\tOUTCOME\tATTEMPTS\tLATENCY\tREASON")
	for _, t := range traces {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%dms\t%s\n",
			t.Timestamp.Local().Format(time.DateTime), t.Type, t.Selected, t.Outcome,
			len(t.FallbackChain), t.LatencyMS, t.FallbackReason)
	}
	return tw.Flush()
}

func runTracesPurge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, resolveDataDir())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client, err := authority.New(st, authorityConfig(cfg))
	if err != nil {
		return err
	}
	n, err := client.Purge(cmd.Context())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d decision trace(s).\n", n)
	return nil
}
