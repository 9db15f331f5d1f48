package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/raceline/internal/models"
	"github.com/zulandar/raceline/internal/registry"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage WhatsApp session records",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionUpdateCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List session records, default first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	return cmd
}

func runSessionList(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	m, err := newManager(cfg, gormDB)
	if err != nil {
		return err
	}
	recs, err := m.Store().List(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSESSION ID\tPHONE\tACTIVE\tDEFAULT\tLAST CONNECTED")
	for _, r := range recs {
		last := "-"
		if r.LastConnectedAt != nil {
			last = r.LastConnectedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.SessionID, dash(r.PhoneNumber),
			yesNo(r.IsActive), yesNo(r.IsDefault), last)
	}
	return w.Flush()
}

func newSessionCreateCmd() *cobra.Command {
	var (
		configPath  string
		name        string
		sessionID   string
		phoneNumber string
		description string
		inactive    bool
		isDefault   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session record",
		RunE: func(cmd *cobra.Command, args []string) error {
			active := !inactive
			return runSessionCreate(cmd, configPath, registry.CreateOpts{
				Name:        name,
				SessionID:   sessionID,
				PhoneNumber: phoneNumber,
				Description: description,
				IsActive:    &active,
				IsDefault:   isDefault,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	cmd.Flags().StringVar(&name, "name", "", "unique display name (required)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "runtime key: lowercase letters, digits, underscore (required)")
	cmd.Flags().StringVar(&phoneNumber, "phone", "", "phone number linked to the session")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the record inactive")
	cmd.Flags().BoolVar(&isDefault, "default", false, "make this the default session")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("session-id")
	return cmd
}

func runSessionCreate(cmd *cobra.Command, configPath string, opts registry.CreateOpts) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	m, err := newManager(cfg, gormDB)
	if err != nil {
		return err
	}
	rec, err := m.CreateSession(context.Background(), opts)
	if err != nil {
		return err
	}
	printSession(cmd, "Created", rec)
	return nil
}

func newSessionUpdateCmd() *cobra.Command {
	var (
		configPath  string
		name        string
		sessionID   string
		phoneNumber string
		description string
		active      bool
		isDefault   bool
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a session record; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var opts registry.UpdateOpts
			flags := cmd.Flags()
			if flags.Changed("name") {
				opts.Name = &name
			}
			if flags.Changed("session-id") {
				opts.SessionID = &sessionID
			}
			if flags.Changed("phone") {
				opts.PhoneNumber = &phoneNumber
			}
			if flags.Changed("description") {
				opts.Description = &description
			}
			if flags.Changed("active") {
				opts.IsActive = &active
			}
			if flags.Changed("default") {
				opts.IsDefault = &isDefault
			}
			return runSessionUpdate(cmd, configPath, id, opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "new runtime key")
	cmd.Flags().StringVar(&phoneNumber, "phone", "", "new phone number")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().BoolVar(&active, "active", true, "set the active flag")
	cmd.Flags().BoolVar(&isDefault, "default", false, "set the default flag")
	return cmd
}

func runSessionUpdate(cmd *cobra.Command, configPath string, id uint, opts registry.UpdateOpts) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	m, err := newManager(cfg, gormDB)
	if err != nil {
		return err
	}
	rec, err := m.UpdateSession(context.Background(), id, opts)
	if err != nil {
		return err
	}
	printSession(cmd, "Updated", rec)
	return nil
}

func newSessionDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session record",
		Long: "Deletes the record. Stored WhatsApp credentials are kept; a running " +
			"server stops the session when it is deleted through the admin API.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runSessionDelete(cmd, configPath, id)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	return cmd
}

func runSessionDelete(cmd *cobra.Command, configPath string, id uint) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	m, err := newManager(cfg, gormDB)
	if err != nil {
		return err
	}
	rec, err := m.DeleteSession(context.Background(), id)
	if err != nil {
		return err
	}
	printSession(cmd, "Deleted", rec)
	return nil
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid session id %q: must be a positive integer", s)
	}
	return uint(id), nil
}

func printSession(cmd *cobra.Command, verb string, rec *models.WhatsAppSession) {
	flags := ""
	if rec.IsDefault {
		flags += " [default]"
	}
	if !rec.IsActive {
		flags += " [inactive]"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s session %d: %s (%s)%s\n", verb, rec.ID, rec.Name, rec.SessionID, flags)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
