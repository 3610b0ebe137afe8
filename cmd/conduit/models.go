package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tidewater-ai/conduit"
	"github.com/tidewater-ai/conduit/internal/catalog"
	"github.com/tidewater-ai/conduit/providers"
)

func newStatusCmd() *cobra.Command {
	var providerFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print provider health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			states, err := app.health.SnapshotAll(cmd.Context())
			if err != nil {
				return err
			}

			var only providers.Provider
			if providerFlag != "" {
				if only, err = providers.Parse(providerFlag); err != nil {
					return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tSTATUS\tFAILURES\tLAST ERROR\tNEXT RETRY")
			for _, s := range states {
				if only != "" && s.Provider != only {
					continue
				}
				lastErr := string(s.LastErrorKind)
				if lastErr == "" {
					lastErr = "-"
				}
				retry := "-"
				if s.NextRetryAt != nil {
					retry = s.NextRetryAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Provider, s.Status, s.ConsecutiveFailures, lastErr, retry)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&providerFlag, "provider", "", "limit to one provider")
	return cmd
}

func newListModelsCmd() *cobra.Command {
	var (
		providerFlag       string
		workloadFlag       string
		includeSuggestions bool
	)

	cmd := &cobra.Command{
		Use:   "list-models",
		Short: "List the active model catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			ctx := cmd.Context()

			entries, err := app.catalog.ActiveAll(ctx)
			if err != nil {
				return err
			}

			var onlyProvider providers.Provider
			if providerFlag != "" {
				if onlyProvider, err = providers.Parse(providerFlag); err != nil {
					return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
				}
			}
			var onlyWorkload providers.Workload
			if workloadFlag != "" {
				if onlyWorkload, err = providers.ParseWorkload(workloadFlag); err != nil {
					return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tWORKLOAD\tMODEL\tPRIORITY")
			for _, e := range entries {
				if onlyProvider != "" && e.Provider != onlyProvider {
					continue
				}
				if onlyWorkload != "" && e.Workload != onlyWorkload {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.Provider, e.Workload, e.Model, e.Priority)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !includeSuggestions {
				return nil
			}
			pending, err := app.catalog.Suggestions(ctx, onlyProvider, catalog.SuggestionPending)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "\nNo pending suggestions.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\nPending suggestions:")
			sw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(sw, "ID\tPROVIDER\tWORKLOAD\tMODEL\tRATIONALE")
			for _, s := range pending {
				if onlyWorkload != "" && s.Workload != onlyWorkload {
					continue
				}
				fmt.Fprintf(sw, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.Provider, s.Workload, s.Model, s.Rationale)
			}
			return sw.Flush()
		},
	}
	cmd.Flags().StringVar(&providerFlag, "provider", "", "limit to one provider")
	cmd.Flags().StringVar(&workloadFlag, "workload", "", "limit to one workload")
	cmd.Flags().BoolVar(&includeSuggestions, "include-suggestions", false, "also list pending suggestions")
	return cmd
}

func newAdoptModelCmd() *cobra.Command {
	var (
		workloadFlag string
		priority     int
		rationale    string
	)

	cmd := &cobra.Command{
		Use:   "adopt-model <provider> <model>",
		Short: "Promote a model into the active catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := providers.Parse(args[0])
			if err != nil {
				return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
			}
			model := args[1]
			workload := providers.WorkloadChat
			if workloadFlag != "" {
				if workload, err = providers.ParseWorkload(workloadFlag); err != nil {
					return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
				}
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			ctx := cmd.Context()

			// Prefer flipping a matching pending suggestion so list-models
			// stops advertising it; fall back to a direct upsert.
			pending, err := app.catalog.Suggestions(ctx, p, catalog.SuggestionPending)
			if err != nil {
				return err
			}
			for _, s := range pending {
				if s.Model == model && s.Workload == workload {
					if _, err := app.catalog.Adopt(ctx, s.ID, priority); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Adopted %s for %s/%s at priority %d.\n", model, p, workload, priority)
					return nil
				}
			}

			if err := app.catalog.Upsert(ctx, catalog.Entry{
				Provider: p, Workload: workload, Model: model,
				Priority: priority, Rationale: rationale,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Adopted %s for %s/%s at priority %d.\n", model, p, workload, priority)
			return nil
		},
	}
	cmd.Flags().StringVar(&workloadFlag, "workload", "", "workload to adopt for (default chat)")
	cmd.Flags().IntVar(&priority, "priority", 50, "catalog priority (lower is tried first)")
	cmd.Flags().StringVar(&rationale, "rationale", "", "why this model was adopted")
	return cmd
}

func newRefreshModelsCmd() *cobra.Command {
	var (
		providerFlag string
		workloadFlag string
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "refresh-models",
		Short: "Ask a routed model to propose catalog updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if providerFlag == "" {
				return conduit.NewRouteError(conduit.CodeInvalidRequest, "--provider is required", nil)
			}
			p, err := providers.Parse(providerFlag)
			if err != nil {
				return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
			}
			var workload *providers.Workload
			if workloadFlag != "" {
				w, err := providers.ParseWorkload(workloadFlag)
				if err != nil {
					return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
				}
				workload = &w
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			report, err := app.refresher().Run(cmd.Context(), p, workload, dryRun)
			if err != nil {
				return err
			}

			if len(report.Suggestions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No suggestions for %s.\n", p)
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORKLOAD\tMODEL\tRATIONALE")
			for _, s := range report.Suggestions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Workload, s.Model, s.Rationale)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "\nDry run: nothing stored.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "\nStored %d new suggestion(s). Adopt with `conduit adopt-model`.\n", report.Inserted)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providerFlag, "provider", "", "provider to refresh (required)")
	cmd.Flags().StringVar(&workloadFlag, "workload", "", "limit suggestions to one workload")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show suggestions without storing them")
	return cmd
}
