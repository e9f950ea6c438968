package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"
)

var reconcileApply bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report drift between customers and their device records.",
	Long: `Compares every customer's lock and enrollment state with its device
record and prints the drift as JSON. With --apply the device records are
rebuilt from the customers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		if cfg.Database.Driver == "memory" {
			return errors.New("reconcile needs a persistent store; set DB_DRIVER=couch")
		}

		ctx := cmd.Context()
		repos, err := openRepositories(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer repos.close()

		svc, err := newServices(cfg, repos, nil, log)
		if err != nil {
			return err
		}

		report, err := svc.reconciler.Run(ctx, reconcileApply)
		if err != nil {
			return err
		}

		buf, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s", pretty.Pretty(buf))

		log.Info("reconcile finished",
			zap.Bool("apply", reconcileApply),
			zap.Int("drifts", len(report.Drifts)),
			zap.Bool("applied", report.Applied),
		)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileApply, "apply", false, "rebuild drifted device records")
	rootCmd.AddCommand(reconcileCmd)
}
