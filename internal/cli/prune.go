package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chemviz/equipment-visualizer/internal/pkg/config"
	"github.com/chemviz/equipment-visualizer/internal/pkg/logger"
	"github.com/chemviz/equipment-visualizer/internal/pkg/metrics"
	"github.com/chemviz/equipment-visualizer/internal/repository"
	"github.com/chemviz/equipment-visualizer/internal/service"
	"github.com/chemviz/equipment-visualizer/internal/storage"
)

func pruneCommand(opts *Options) *cobra.Command {
	var maxStored int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention cap to every user's history on the local database",
		Long: "prune opens the server's database and upload directory directly and removes " +
			"datasets ranked beyond the retention cap. It is safe to run while the server is up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max") {
				cfg.Retention.MaxStoredDatasets = maxStored
			}

			// keep stdout for the command's own output
			if cfg.Log.Output == "" || cfg.Log.Output == "stdout" {
				cfg.Log.Output = "stderr"
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := repository.Open(cfg.Database.Path, log)
			if err != nil {
				return err
			}
			defer db.Close()

			blobs, err := storage.NewBlobStore(opts.fs, cfg.Storage.Dir)
			if err != nil {
				return err
			}

			history := service.NewHistoryManager(db, blobs, cfg.Retention.MaxStoredDatasets, log, metrics.NewNop())
			reports, runErr := history.EnforceAll(cmd.Context())

			out := cmd.OutOrStdout()
			evicted := 0
			for _, r := range reports {
				evicted += len(r.Evicted)
				if len(r.Evicted) > 0 {
					fmt.Fprintf(out, "user %d: removed datasets %v\n", r.UserID, r.Evicted)
				}
				for _, key := range r.BlobFailures {
					fmt.Fprintf(out, "user %d: could not remove stored upload %s\n", r.UserID, key)
				}
			}
			fmt.Fprintf(out, "Removed %d dataset(s); keeping at most %d per user\n", evicted, history.MaxStored())

			if runErr != nil {
				return fmt.Errorf("retention sweep incomplete: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxStored, "max", service.DefaultMaxStoredDatasets, "override the configured retention cap")
	return cmd
}

func hashPasswordCommand() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for admin.password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters")
			}
			hash, err := service.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}
