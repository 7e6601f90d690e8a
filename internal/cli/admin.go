package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"zonemarket/internal/apperr"
	"zonemarket/internal/auth"
	"zonemarket/internal/model"
	"zonemarket/internal/store"
)

func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}
	cmd.AddCommand(newAdminCreateCommand(rootOpts))
	return cmd
}

func newAdminCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator (there is no public endpoint for this)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			name, email = strings.TrimSpace(name), strings.TrimSpace(email)
			switch {
			case name == "" || email == "":
				return f.Failure(NewExitError(ExitCommandError, "--name and --email are required"))
			case len(password) < 6:
				return f.Failure(NewExitError(ExitCommandError, "--password must have at least 6 characters"))
			}

			_, db, err := rootOpts.openDB()
			if err != nil {
				return f.Failure(err)
			}
			defer db.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return f.Failure(WrapExitError(ExitFailure, "hash password", err))
			}
			u := &model.User{Name: name, Email: email, PasswordHash: hash, Role: model.RoleAdmin}
			if err := store.New(db).CreateUser(cmd.Context(), u); err != nil {
				code := ExitFailure
				if errors.Is(err, apperr.ErrEmailTaken) {
					code = ExitCommandError
				}
				return f.Failure(WrapExitError(code, "create admin", err))
			}
			return f.Success(u, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Admin created: ID=%d, Email=%s\n", u.ID, u.Email)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	return cmd
}
