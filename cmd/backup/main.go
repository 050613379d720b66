package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"screentime/internal/archive"
	"screentime/internal/config"
	"screentime/internal/database"
	"screentime/internal/logging"
	"screentime/internal/repository"
	"screentime/internal/service"
	"screentime/migrations"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "backup",
		Short:         "Screen time database backup tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Export families, children, app categorizations, settings, activities and
open conflicts as JSON.

Environment Variables:
  DB_TYPE          Database type: sqlite, postgres, or mysql (default: sqlite)
  DB_PATH          SQLite database path (default: ./screentime.db)
  DATABASE_URL     PostgreSQL or MySQL connection URL
  ARCHIVE_DRIVER   Archive for --archive exports: fs or s3`,
	}
	cmd.AddCommand(newExportCommand())
	return cmd
}

func newExportCommand() *cobra.Command {
	var (
		outputPath string
		toArchive  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the database to a JSON file or the archive",
		Example: `  backup export
  backup export --output mybackup.json
  ARCHIVE_DRIVER=s3 ARCHIVE_S3_BUCKET=screentime-backups backup export --archive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			return runExport(cmd.Context(), cfg, logger, outputPath, toArchive, cmd)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: backup_YYYYMMDD_HHMMSS.json)")
	cmd.Flags().BoolVar(&toArchive, "archive", false, "write to the configured archive store instead of a file")
	cmd.MarkFlagsMutuallyExclusive("output", "archive")
	return cmd
}

func runExport(ctx context.Context, cfg *config.Config, logger *zap.Logger, outputPath string, toArchive bool, cmd *cobra.Command) error {
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Run migrations to ensure schema is up to date
	if _, err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	backupService := service.NewBackupService(repository.NewStore(db), cfg.DatabaseType, logger)

	if toArchive {
		store, err := archive.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		if store == nil {
			return errors.New("--archive needs ARCHIVE_DRIVER set to fs or s3")
		}
		key, err := backupService.ExportToArchive(ctx, store)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Export complete: %s\n", key)
		return nil
	}

	// Generate default filename if not provided
	if outputPath == "" {
		outputPath = fmt.Sprintf("backup_%s.json", time.Now().Format("20060102_150405"))
	}

	// Ensure directory exists
	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	logger.Info("exporting database", zap.String("path", outputPath))
	if err := backupService.Export(ctx, outputPath); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fileInfo, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("failed to stat export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Export complete! File size: %.2f MB\n", float64(fileInfo.Size())/1024/1024)
	return nil
}
