package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/raceline/internal/db"
	"github.com/zulandar/raceline/internal/notify"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBFailuresCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Raceline tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	cfg, _, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)
	return nil
}

func newDBFailuresCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List notifications waiting for redrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBFailures(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	return cmd
}

func runDBFailures(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	pending, err := notify.Pending(context.Background(), gormDB)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending notifications.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT\tRECIPIENT\tKIND\tATTEMPTS\tNEXT ATTEMPT")
	for _, f := range pending {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			f.ID, f.Event, f.Recipient, f.Kind, f.Attempts,
			f.NextAttemptAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
