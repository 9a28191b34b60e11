package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"secsync/internal/database"
	"secsync/internal/export"
	"secsync/internal/remote"
	"secsync/internal/worker"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show queued items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		if closer != nil {
			defer (func() { _ = closer.Close() })()
		}

		handle, err := openStore(cmd.Context(), cfg, &logger)
		if err != nil {
			return err
		}
		defer handle.Close()

		items, err := handle.store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list queue: %w", err)
		}

		out := cmd.OutOrStdout()
		if listJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tOPERATION\tTARGET\tRETRIES\tCREATED\tLAST ERROR")
		for _, item := range items {
			lastErr := "-"
			if item.LastError != nil {
				lastErr = *item.LastError
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				item.ID, item.Operation, item.TargetType, item.RetryCount,
				item.CreatedAt.Local().Format(time.DateTime), lastErr)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d item(s) queued\n", len(items))
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Attempt delivery of every queued item once",
	Long: `Attempt delivery of every queued item once and print the result.
Failed attempts count toward the retry ceiling exactly as in the daemon.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		if closer != nil {
			defer (func() { _ = closer.Close() })()
		}

		handle, err := openStore(cmd.Context(), cfg, &logger)
		if err != nil {
			return err
		}
		defer handle.Close()

		queue, err := worker.NewQueue(worker.Options{
			Store:            handle.store,
			Sender:           remote.NewClient(cfg.Remote),
			Policy:           worker.PolicyFromConfig(cfg.Queue),
			Logger:           &logger,
			FlushConcurrency: cfg.Queue.FlushConcurrency,
		})
		if err != nil {
			return err
		}
		defer queue.Close()

		report, err := queue.FlushAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d delivered=%d failed=%d dropped=%d\n",
			report.Attempted, report.Delivered, report.Failed, report.Dropped)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Write the queue to an Excel workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		if closer != nil {
			defer (func() { _ = closer.Close() })()
		}

		handle, err := openStore(cmd.Context(), cfg, &logger)
		if err != nil {
			return err
		}
		defer handle.Close()

		items, err := handle.store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list queue: %w", err)
		}

		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		if err := export.WriteQueueXLSX(f, items); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d item(s) to %s\n", len(items), args[0])
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the SQLite queue database now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		if closer != nil {
			defer (func() { _ = closer.Close() })()
		}
		if cfg.Store.Driver != "sqlite" {
			return fmt.Errorf("backup needs the sqlite store, configured driver is %s", cfg.Store.Driver)
		}

		db, err := database.NewDB(cfg.Database.Path, &logger)
		if err != nil {
			return err
		}
		defer db.Close()

		backupCfg := cfg.Backup
		if backupCfg.StoragePath == "" {
			backupCfg.StoragePath = "data/backups"
		}
		svc := database.NewBackupService(db, backupCfg, &logger)
		path, err := svc.PerformBackup(cmd.Context())
		if err != nil {
			return err
		}
		svc.CleanupOldBackups()
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print items as JSON")
}
