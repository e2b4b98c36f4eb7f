package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/config"
	"github.com/voxelforge/hostdb/internal/database"
	"github.com/voxelforge/hostdb/internal/plugins/playerstats"
	"github.com/voxelforge/hostdb/internal/registry"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage plugin schema migrations",
	}

	var plugin string
	cmd.PersistentFlags().StringVarP(&plugin, "plugin", "p", playerstats.PluginName, "plugin whose database to migrate")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPluginDB(cmd.Context(), plugin, func(ctx context.Context, mgr *database.MigrationManager, db *database.Database) error {
					if err := mgr.Run(ctx, db); err != nil {
						return err
					}
					version, err := mgr.CurrentVersion(ctx, db)
					if err != nil {
						return err
					}
					fmt.Printf("%s is at version %d\n", plugin, version)
					return nil
				})
			},
		},
		newMigrateDownCmd(&plugin),
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPluginDB(cmd.Context(), plugin, func(ctx context.Context, mgr *database.MigrationManager, db *database.Database) error {
					applied, err := mgr.Applied(ctx, db)
					if err != nil {
						return err
					}
					pending, err := mgr.Pending(ctx, db)
					if err != nil {
						return err
					}
					for _, sv := range applied {
						fmt.Printf("applied  %3d  %s  (%s)\n", sv.Version, sv.Description, sv.AppliedAt.Format("2006-01-02 15:04:05"))
					}
					for _, m := range pending {
						fmt.Printf("pending  %3d  %s\n", m.Version(), m.Description())
					}
					if len(applied) == 0 && len(pending) == 0 {
						fmt.Println("no migrations registered")
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func newMigrateDownCmd(plugin *string) *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations down to a target version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPluginDB(cmd.Context(), *plugin, func(ctx context.Context, mgr *database.MigrationManager, db *database.Database) error {
				if err := mgr.RollbackTo(ctx, db, target); err != nil {
					return err
				}
				version, err := mgr.CurrentVersion(ctx, db)
				if err != nil {
					return err
				}
				fmt.Printf("%s is at version %d\n", *plugin, version)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&target, "target", "t", 0, "version to roll back to (0 reverts everything)")
	return cmd
}

// withPluginDB opens the named plugin's database with auto-migration
// off, runs fn, and closes everything down.
func withPluginDB(ctx context.Context, plugin string, fn func(context.Context, *database.MigrationManager, *database.Database) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// The subcommand decides when migrations run.
	cfg.Migrations.AutoMigrate = false

	log, err := cfg.BuildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := registry.New(cfg, log)
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn("closing registry", zap.Error(err))
		}
	}()

	if err := playerstats.RegisterMigrations(reg.Migrations()); err != nil {
		return err
	}

	db, err := reg.ForPlugin(ctx, plugin)
	if err != nil {
		return err
	}
	return fn(ctx, reg.Migrations(), db)
}
