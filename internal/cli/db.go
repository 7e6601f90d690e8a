package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"zonemarket/internal/backup"
	"zonemarket/internal/database"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and record the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, db, err := rootOpts.openDB()
			if err != nil {
				return f.Failure(err)
			}
			defer db.Close()

			version, err := database.SchemaVersion(cmd.Context(), db)
			if err != nil {
				return f.Failure(WrapExitError(ExitFailure, "read schema version", err))
			}
			data := map[string]interface{}{"driver": cfg.DBDriver, "schema_version": version}
			return f.Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "✅ %s schema at version %d\n", cfg.DBDriver, version)
			})
		},
	}
}

func NewDBCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database backups",
	}
	cmd.AddCommand(newBackupCommand(rootOpts))
	cmd.AddCommand(newBackupsCommand(rootOpts))
	cmd.AddCommand(newRestoreCommand(rootOpts))
	return cmd
}

func newBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a snapshot to the backup directory (keeps the newest BACKUP_KEEP)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, db, err := rootOpts.openDB()
			if err != nil {
				return f.Failure(err)
			}
			defer db.Close()

			b, err := backup.New(cfg, db).Create(cmd.Context(), name)
			if err != nil {
				return f.Failure(WrapExitError(ExitFailure, "create backup", err))
			}
			return f.Success(b, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Backup written: %s (%s)\n", b.Name, b.HumanSize())
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "optional label added to the file name")
	return cmd
}

func newBackupsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.config()
			if err != nil {
				return f.Failure(err)
			}
			list, err := backup.New(cfg, nil).List()
			if err != nil {
				return f.Failure(WrapExitError(ExitFailure, "list backups", err))
			}
			return f.Success(list, func(w io.Writer) {
				if len(list) == 0 {
					fmt.Fprintf(w, "No backups in %s\n", cfg.BackupDir)
					return
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSIZE\tCREATED")
				for _, b := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Name, b.HumanSize(), humanize.Time(b.CreatedAt))
				}
				tw.Flush()
			})
		},
	}
}

func newRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Overwrite the database with a snapshot",
		Long: `Overwrite the database with a snapshot from the backup directory.
Stop the server first: SQLite databases are replaced on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if !yes {
				return f.Failure(NewExitError(ExitCommandError, "restore overwrites the database; pass --yes to confirm"))
			}
			cfg, err := rootOpts.config()
			if err != nil {
				return f.Failure(err)
			}
			if err := backup.New(cfg, nil).Restore(cmd.Context(), args[0]); err != nil {
				return f.Failure(WrapExitError(ExitFailure, "restore", err))
			}
			return f.Success(map[string]string{"restored": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Restored %s\n", args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm overwriting the database")
	return cmd
}
