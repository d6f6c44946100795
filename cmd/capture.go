package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/browser"
	"github.com/openclaw/partnerforge/internal/session"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Open a visible browser, log in manually, then persist the session.",
	Long: `Capture opens a non-headless browser on the console login page. Complete
the login (including any second factor) in that window, then press Enter in
this terminal to capture and persist the authenticated session state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := loggerFor("capture")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := session.NewStore(cfg.Session.StateFile, log)
		if err != nil {
			return err
		}

		// Capturing only makes sense with a window the operator can use.
		captureCfg := *cfg
		captureCfg.Browser.Headless = false

		manager := browser.NewManager(&captureCfg, log)
		sess, err := manager.NewRunSession(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := sess.Close(ctx); cerr != nil {
				log.Warn("Session teardown reported an error.", zap.Error(cerr))
			}
		}()

		startURL := cfg.Console.DashboardURL
		if startURL == "" {
			startURL = "https://partners.shopify.com"
		}
		if err := sess.Page().Navigate(ctx, startURL); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Log in to the console in the opened browser, then press Enter here.")
		// If the context is cancelled first, the reader stays blocked in
		// ReadString until the process exits; there is no portable way to
		// interrupt a blocking stdin read, and capture is a terminal command.
		done := make(chan struct{})
		go func() {
			bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			close(done)
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}

		blob, err := sess.CaptureState(ctx)
		if err != nil {
			return fmt.Errorf("failed to capture session state: %w", err)
		}
		if err := store.Save(blob); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session state saved to %s\n", store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
}
