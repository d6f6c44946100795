package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/workflow"
)

var (
	runBrandName   string
	runStoreDomain string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one provisioning workflow and print the result as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := loggerFor("run")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orch, cleanup, err := buildOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := orch.Run(ctx, workflow.Request{
			BrandName:   runBrandName,
			StoreDomain: runStoreDomain,
		})
		if err != nil {
			return err
		}

		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		log.Info("Provisioning finished.", zap.String("app_name", res.AppName))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runBrandName, "brand", "", "brand name the app is provisioned for (required)")
	runCmd.Flags().StringVar(&runStoreDomain, "store", "", "target store domain, e.g. acme.myshopify.com (required)")
	_ = runCmd.MarkFlagRequired("brand")
	_ = runCmd.MarkFlagRequired("store")
	rootCmd.AddCommand(runCmd)
}
