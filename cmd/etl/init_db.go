package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/customer-etl/internal/db"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the run, checkpoint and customer tables if they do not exist",
	RunE:  runInitDB,
}

var initDBDatabaseURL string

func init() {
	initDBCmd.Flags().StringVar(&initDBDatabaseURL, "db-url", "", "PostgreSQL connection URL (defaults to ETL_DATABASE_URL or DATABASE_URL)")
	rootCmd.AddCommand(initDBCmd)
}

func runInitDB(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	url, err := databaseURL(initDBDatabaseURL)
	if err != nil {
		return err
	}
	database, err := db.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Schema ready")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Schema ready")
	return nil
}
