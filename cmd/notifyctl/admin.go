package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
)

type createAdminOptions struct {
	*rootOptions
	Email    string
	FullName string
	Password string
	Role     string
}

func newCreateAdminCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &createAdminOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create or update a back-office account",
		Long: `Create a back-office account, or reset the password and role of an
existing one with the same email. The password may be supplied through
the INSTITUT_ADMIN_PASSWORD environment variable instead of the flag.

Examples:
  notifyctl create-admin --email admin@institut.sn --name "Awa Diop" --role SUPERADMIN`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateAdmin(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.FullName, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password, at least 8 characters")
	cmd.Flags().StringVar(&opts.Role, "role", string(models.RoleAdmin), "ADMIN or SUPERADMIN")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runCreateAdmin(ctx context.Context, opts *createAdminOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	password := opts.Password
	if password == "" {
		password = os.Getenv("INSTITUT_ADMIN_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("password is required (flag --password or INSTITUT_ADMIN_PASSWORD)")
	}

	e, err := openEnv(ctx, opts.rootOptions)
	if err != nil {
		return err
	}
	defer e.close()

	role := models.UserRole(strings.ToUpper(strings.TrimSpace(opts.Role)))
	admin, err := e.authService().EnsureAdmin(ctx, opts.Email, opts.FullName, password, role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "account %s ready (role %s, id %s)\n", admin.Email, admin.Role, admin.ID)
	return err
}
