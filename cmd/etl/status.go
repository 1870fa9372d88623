package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/customer-etl/internal/config"
	"github.com/jonathan/customer-etl/internal/db"
	"github.com/jonathan/customer-etl/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the state and checkpoints of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	statusDatabaseURL string
	statusJSON        bool
)

func init() {
	statusCmd.Flags().StringVar(&statusDatabaseURL, "db-url", "", "PostgreSQL connection URL (defaults to ETL_DATABASE_URL or DATABASE_URL)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the run as JSON")
	rootCmd.AddCommand(statusCmd)
}

// runStatusReport is the JSON shape printed by `etl status --json`.
type runStatusReport struct {
	Run         *types.Run         `json:"run"`
	Checkpoints []types.Checkpoint `json:"checkpoints"`
	Customers   int64              `json:"customers"`
}

// databaseURL resolves the connection URL of commands that only need the
// store: the flag wins over ETL_DATABASE_URL, which wins over DATABASE_URL.
func databaseURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	var cfg config.Config
	if err := cfg.ApplyEnv(); err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	return cfg.DatabaseURL, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := args[0]

	url, err := databaseURL(statusDatabaseURL)
	if err != nil {
		return err
	}
	database, err := db.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := database.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %q not found", runID)
	}
	checkpoints, err := database.List(ctx, runID)
	if err != nil {
		return err
	}
	customers, err := database.CountCustomers(ctx)
	if err != nil {
		return err
	}

	report := runStatusReport{Run: run, Checkpoints: checkpoints, Customers: customers}
	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printStatus(cmd.OutOrStdout(), report)
}

// printStatus renders a report as an aligned table. Customers counts the
// whole customers table, which every run shares.
func printStatus(w io.Writer, report runStatusReport) error {
	run := report.Run
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Run:\t%s\n", run.RunID)
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", run.Status)
	_, _ = fmt.Fprintf(tw, "Phase:\t%s\n", run.CurrentPhase)
	if run.ErrorMessage != nil {
		_, _ = fmt.Fprintf(tw, "Error:\t%s\n", *run.ErrorMessage)
	}
	_, _ = fmt.Fprintf(tw, "Created:\t%s\n", run.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(tw, "Updated:\t%s\n", run.UpdatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(tw, "Customers:\t%d\n", report.Customers)

	if len(report.Checkpoints) > 0 {
		_, _ = fmt.Fprintln(tw)
		_, _ = fmt.Fprintln(tw, "PHASE\tCURSOR\tUPDATED")
		for _, cp := range report.Checkpoints {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", cp.Phase, cp.Cursor, cp.UpdatedAt.Format(time.RFC3339))
		}
	}
	return tw.Flush()
}
