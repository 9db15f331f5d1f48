package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/zulandar/raceline/internal/logging"
	"github.com/zulandar/raceline/internal/wa"
	"golang.org/x/term"
)

func newQRCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "qr <sessionId>",
		Short: "Pair a WhatsApp session by scanning QR codes in the terminal",
		Long: "Starts the session and prints each pairing QR code as it rotates, " +
			"until the phone links or the timeout passes.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wa.ValidateSessionID(args[0]); err != nil {
				return err
			}
			return runQR(cmd, configPath, args[0], timeout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Raceline config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "give up if the session has not linked by then")
	return cmd
}

func runQR(cmd *cobra.Command, configPath, sessionID string, timeout time.Duration) error {
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

	sigCtx, cancel := signalContext(nil)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(sigCtx, timeout)
	defer cancelTimeout()

	if err := rt.start(ctx); err != nil {
		return err
	}
	return pairLoop(ctx, rt.ctrl, sessionID, cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout()))
}

// qrSource is the part of the controller pairLoop needs.
type qrSource interface {
	GetQRCode(ctx context.Context, id string) (wa.QRResult, error)
	Store() *wa.Store
}

// pairLoop prints every new QR code for id until it connects or ctx ends.
func pairLoop(ctx context.Context, src qrSource, id string, out io.Writer, render bool) error {
	var last string
	for {
		changed := src.Store().Changed(id)
		res, err := src.GetQRCode(ctx, id)
		switch {
		case err == nil && res.Outcome == wa.QRAlreadyConnected:
			fmt.Fprintf(out, "Session %s is connected.\n", id)
			return nil
		case err == nil && res.Outcome == wa.QRReady:
			if res.Code != last {
				last = res.Code
				printQR(out, res.Code, render)
			}
		case errors.Is(err, wa.ErrQRTimeout):
			// Still starting; poll again.
		case ctx.Err() != nil:
			return fmt.Errorf("session %s not linked: %w", id, ctx.Err())
		default:
			return fmt.Errorf("%s: %w", res.Message(), err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("session %s not linked: %w", id, ctx.Err())
		case <-changed:
		}
	}
}

func printQR(out io.Writer, code string, render bool) {
	fmt.Fprintln(out, "Scan with WhatsApp > Linked devices:")
	if render {
		if q, err := qrcode.New(code, qrcode.Low); err == nil {
			fmt.Fprint(out, q.ToSmallString(false))
			return
		}
	}
	fmt.Fprintln(out, code)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
