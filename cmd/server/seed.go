package main

import (
	"context"
	"errors"
	"fmt"

	"emilock-server/internal/config"
	"emilock-server/internal/domain"
	"emilock-server/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the first SUPER_ADMIN from SEED_ADMIN_* if it does not exist.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		if cfg.Database.Driver == "memory" {
			return errors.New("seed needs a persistent store; set DB_DRIVER=couch")
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

		admin, err := seedAdmin(ctx, svc.admins, cfg.Seed, log)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "super admin %s (%s)\n", admin.Username, admin.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func seedAdmin(ctx context.Context, admins *service.AdminService, seed config.SeedConfig, log *zap.Logger) (*domain.AdminUser, error) {
	if seed.Email == "" || seed.Password == "" {
		return nil, errors.New("SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD are required")
	}

	admin, created, err := admins.Seed(ctx, seed.Username, seed.Email, seed.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to seed super admin: %w", err)
	}
	if !created {
		log.Info("super admin already present", zap.String("admin_id", admin.ID))
	}
	return admin, nil
}
