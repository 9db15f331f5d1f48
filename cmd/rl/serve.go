package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/raceline/internal/logging"
	"github.com/zulandar/raceline/internal/notify"
	"github.com/zulandar/raceline/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		restore    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and notification sender",
		Long: "Starts the WhatsApp runtime, the admin HTTP API and the dead-letter redrive job. " +
			"Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, restore)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&restore, "restore", false, "reconnect stored sessions on start (overrides whatsapp.restore_on_start)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, restore bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("restore") {
		cfg.WhatsApp.RestoreOnStart = restore
	}

	log := logging.New(cfg.Log, os.Stderr)
	rt, err := newRuntime(cfg, gormDB, log)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := signalContext(func(s string) { fmt.Fprint(cmd.OutOrStdout(), s) })
	defer cancel()

	// The admin API stays up when init fails.
	if err := rt.start(ctx); err != nil {
		log.Error().Err(err).Msg("whatsapp disabled")
	} else if cfg.WhatsApp.RestoreOnStart {
		go rt.restore(ctx)
	}

	redriveLog := logging.Component(log, "redrive")
	redriver, err := notify.NewRedriver(notify.RedriverOpts{
		DB:          gormDB,
		Sender:      rt.dispatcher,
		Schedule:    cfg.Notify.RetryCron,
		MaxAttempts: cfg.Notify.MaxAttempts,
		Timeout:     cfg.Notify.SendTimeout,
		Log:         &redriveLog,
	})
	if err != nil {
		return err
	}
	go redriver.Run(ctx)

	httpLog := logging.Component(log, "http")
	return server.Start(ctx, server.StartOpts{
		Controller:  rt.ctrl,
		Manager:     rt.manager,
		Dispatcher:  rt.dispatcher,
		Hooks:       rt.hooks,
		Port:        cfg.Server.Port,
		AdminKey:    cfg.Server.AdminKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		Log:         &httpLog,
		Out:         cmd.OutOrStdout(),
	})
}
