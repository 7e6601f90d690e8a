// Package cli implements zonectl, the operator and chat command line.
package cli

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"zonemarket/internal/config"
	"zonemarket/internal/database"
	"zonemarket/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// loadConfig is replaced in tests.
	loadConfig func() (config.Config, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{loadConfig: config.Resolve})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zonectl",
		Short: "Zone Market operations and chat client",
		Long: `zonectl manages a Zone Market deployment (schema, backups, admin accounts)
and talks to the API as a chat client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Verbose {
				return logger.Init("debug", false)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewDBCommand(opts))
	cmd.AddCommand(NewAdminCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func (o *RootOptions) config() (config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "load configuration", err)
	}
	return cfg, nil
}

// openDB opens and migrates the configured database.
func (o *RootOptions) openDB() (config.Config, *sql.DB, error) {
	cfg, err := o.config()
	if err != nil {
		return cfg, nil, err
	}
	db, err := database.Init(cfg)
	if err != nil {
		return cfg, nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return cfg, db, nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "zonectl")
	}
	return ".zonectl"
}
