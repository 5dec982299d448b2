package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/storage"
)

func seedCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import alert rules and quiet hours from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if file == "" {
				file = cfg.Seed.File
			}
			if file == "" {
				return errors.New("no seed file given, use --file or seed.file")
			}

			seed, err := storage.LoadSeedFile(file)
			if err != nil {
				return err
			}

			db, err := storage.Open(cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			defer db.Close()

			store := storage.NewSQLiteRuleStore(logger, db)
			if err := storage.ApplySeed(cmd.Context(), logger, store, seed); err != nil {
				return err
			}

			logger.Info("Seed applied",
				zap.String("file", file),
				zap.Int("users", len(seed.Users)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file with users, rules and quiet hours")
	return cmd
}
