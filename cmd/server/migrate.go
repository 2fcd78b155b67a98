package main

import (
	"fmt"

	"chatfront/internal/config"
	"chatfront/internal/repository"
	"chatfront/pkg/database"
	"chatfront/pkg/log"

	"github.com/spf13/cobra"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the conversations and messages tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
			defer log.Sync()

			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			if err := repository.AutoMigrate(db); err != nil {
				return fmt.Errorf("failed to migrate schema: %w", err)
			}
			log.Infof("数据表迁移完成, driver: %s", cfg.Database.Driver)
			return nil
		},
	}
}
