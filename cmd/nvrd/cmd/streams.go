package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensensor/lightnvr/internal/catalog"
	"github.com/opensensor/lightnvr/internal/database"
	"github.com/opensensor/lightnvr/internal/database/migrations"
	"github.com/opensensor/lightnvr/internal/observability"
	"github.com/opensensor/lightnvr/internal/streamsfile"
)

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "Bulk import/export the Config Store's stream list as YAML",
}

var streamsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a streams YAML file into the Config Store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := observability.NewLogger(cfg.Logging)

		db, err := database.New(cfg.Database, log, nil)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		migrator := migrations.NewMigrator(db.DB, log)
		migrator.RegisterAll(migrations.AllMigrations())
		if err := migrator.Up(context.Background()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		streams, err := streamsfile.Load(args[0])
		if err != nil {
			return fmt.Errorf("loading streams file: %w", err)
		}

		store := catalog.New(db.DB, log)
		for _, s := range streams {
			if err := store.UpsertStream(context.Background(), s); err != nil {
				return fmt.Errorf("upserting stream %q: %w", s.Name, err)
			}
		}
		fmt.Printf("imported %d stream(s)\n", len(streams))
		return nil
	},
}

var streamsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Dump the Config Store's stream list to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := observability.NewLogger(cfg.Logging)

		db, err := database.New(cfg.Database, log, nil)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		store := catalog.New(db.DB, log)
		streams, err := store.ListStreams(context.Background())
		if err != nil {
			return fmt.Errorf("listing streams: %w", err)
		}

		if err := streamsfile.Dump(args[0], streams); err != nil {
			return fmt.Errorf("writing streams file: %w", err)
		}
		fmt.Printf("exported %d stream(s)\n", len(streams))
		return nil
	},
}

func init() {
	streamsCmd.AddCommand(streamsImportCmd, streamsExportCmd)
	rootCmd.AddCommand(streamsCmd)
}
