package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/deploy-engine/internal/state"
	"github.com/alvesdmateus/deploy-engine/pkg/config"
	"github.com/alvesdmateus/deploy-engine/pkg/models"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(
		newRunsListCommand(),
		newRunsShowCommand(),
	)
	return cmd
}

func newRunsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List recorded runs, newest first",
		Args:    cobra.NoArgs,
		Aliases: []string{"ls"},
		RunE:    listRuns,
	}
	cmd.Flags().String("app", "", "Only list runs for this application")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list")
	cmd.Flags().Int("offset", 0, "Number of runs to skip")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func listRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	repo, cleanup, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer cleanup()

	app, _ := cmd.Flags().GetString("app")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	asJSON, _ := cmd.Flags().GetBool("json")

	var runs []state.Run
	if app != "" {
		runs, err = repo.ListRunsByApp(cmd.Context(), app, limit, offset)
	} else {
		runs, err = repo.ListRuns(cmd.Context(), limit, offset)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, models.NewRuns(runs))
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAPP\tVERSION\tACTION\tSTATUS\tCREATED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.AppName, run.Version, run.Action, run.Status,
			run.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run with its stage audit trail and image record",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func showRun(cmd *cobra.Command, args []string) error {
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	repo, cleanup, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer cleanup()

	run, err := repo.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		return writeJSON(out, models.NewRun(run))
	}

	printRun(out, run)
	return nil
}

func printRun(out io.Writer, run *state.Run) {
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "App:      %s %s\n", run.AppName, run.Version)
	fmt.Fprintf(out, "Action:   %s (%s %s)\n", run.Action, run.Provider, run.Region)
	fmt.Fprintf(out, "Status:   %s\n", run.Status)
	fmt.Fprintf(out, "Created:  %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Finished: %s\n", run.FinishedAt.Format(time.RFC3339))
	}
	if run.FailedStage != "" {
		fmt.Fprintf(out, "Failed:   %s\n", run.FailedStage)
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", run.ErrorMessage)
	}

	if len(run.Stages) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION\tDETAIL")
		for _, stage := range run.Stages {
			duration := stage.FinishedAt.Sub(stage.StartedAt)
			fmt.Fprintf(w, "%s\t%s\t%.1fs\t%s\n", stage.Stage, stage.Status, duration.Seconds(), stage.Detail)
		}
		w.Flush()
	}

	if run.Image != nil {
		fmt.Fprintln(out)
		values := run.Image.Values()
		keys := make([]string, 0, len(values))
		for key := range values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(out, "%s=%s\n", key, values[key])
		}
	}
}

func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
