package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/raceline/internal/logging"
	"github.com/zulandar/raceline/internal/wa"
)

func newSendCmd() *cobra.Command {
	var (
		configPath string
		to         string
		message    string
		session    string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one WhatsApp text message",
		Long: "Restores the stored sessions, then sends through the named session " +
			"or the default one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, configPath, wa.OutboundMessage{
				To:          to,
				Body:        message,
				SessionName: session,
			}, timeout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	cmd.Flags().StringVar(&to, "to", "", "recipient phone number (required)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text (required)")
	cmd.Flags().StringVar(&session, "session", "", "session name to send through")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall time allowed for the send")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("message")
	return cmd
}

func runSend(cmd *cobra.Command, configPath string, msg wa.OutboundMessage, timeout time.Duration) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log, os.Stderr)
	rt, err := newRuntime(cfg, gormDB, log)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rt.start(ctx); err != nil {
		return err
	}
	rt.restore(ctx)

	res, err := rt.dispatcher.SendMessage(ctx, msg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s via %s\n", res.MessageID, res.Recipient, res.SessionID)
	return nil
}
