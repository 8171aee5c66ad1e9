package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/smarthome-core/internal/auth"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/database"
	"github.com/nerrad567/smarthome-core/migrations"
)

// userStore opens the configured database, applies migrations and returns
// the account repository with a close function.
func userStore(ctx context.Context, configPath string) (*auth.SQLiteUserRepository, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return auth.NewUserRepository(db.DB), db.Close, nil
}

// withUsers runs fn against the account repository of the configured database.
func withUsers(cmd *cobra.Command, configPath *string, fn func(ctx context.Context, users *auth.SQLiteUserRepository) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	users, closeFn, err := userStore(ctx, resolveConfigPath(*configPath))
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // Database close on exit
	return fn(ctx, users)
}

// readPassword takes the first line of in as the password.
func readPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required (use --password or pipe it on stdin)")
	}
	return password, nil
}

// newUserCmd manages console and API accounts.
func newUserCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts and permissions",
	}
	cmd.AddCommand(
		newUserAddCmd(configPath),
		newUserListCmd(configPath),
		newUserPasswdCmd(configPath),
		newUserActiveCmd(configPath, "enable", true),
		newUserActiveCmd(configPath, "disable", false),
		newUserRemoveCmd(configPath),
		newUserGrantCmd(configPath, "grant"),
		newUserGrantCmd(configPath, "revoke"),
	)
	return cmd
}

func newUserAddCmd(configPath *string) *cobra.Command {
	var (
		role        string
		displayName string
		password    string
	)
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = readPassword(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			u, err := auth.NewUser(args[0], displayName, password, auth.Role(role))
			if err != nil {
				return err
			}
			return withUsers(cmd, configPath, func(ctx context.Context, users *auth.SQLiteUserRepository) error {
				if err := users.Create(ctx, u); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s, %s)\n", u.Username, u.ID, u.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "account role (user or admin)")
	cmd.Flags().StringVar(&displayName, "name", "", "display name (default username)")
	cmd.Flags().StringVar(&password, "password", "", "password (default first line of stdin)")
	return cmd
}

func newUserListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts with their granted permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUsers(cmd, configPath, func(ctx context.Context, users *auth.SQLiteUserRepository) error {
				list, err := users.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USERNAME\tNAME\tROLE\tACTIVE\tGRANTS")
				for _, u := range list {
					grants, err := users.Permissions(ctx, u.ID)
					if err != nil {
						return err
					}
					names := make([]string, len(grants))
					for i, g := range grants {
						names[i] = string(g)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
						u.Username, u.DisplayName, u.Role, u.IsActive, strings.Join(names, ","))
				}
				return tw.Flush()
			})
		},
	}
}

func newUserPasswdCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a new password read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return withUsers(cmd, configPath, func(ctx context.Context, users *auth.SQLiteUserRepository) error {
				u, err := users.GetByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				if err := users.UpdatePassword(ctx, u.ID, hash); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", u.Username)
				return nil
			})
		},
	}
}

func newUserActiveCmd(configPath *string, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsers(cmd, configPath, func(ctx context.Context, users *auth.SQLiteUserRepository) error {
				u, err := users.GetByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				if err := users.SetActive(ctx, u.ID, active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", verb, u.Username)
				return nil
			})
		},
	}
}

func newUserRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <username>",
		Short: "Delete an account and its grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsers(cmd, configPath, func(ctx context.Context, users *auth.SQLiteUserRepository) error {
				u, err := users.GetByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				if err := users.Delete(ctx, u.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", u.Username)
				return nil
			})
		},
	}
}

// newUserGrantCmd builds "grant" and "revoke".
func newUserGrantCmd(configPath *string, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username> <permission>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a permission",
		Args:  cobra.ExactArgs(2), //nolint:mnd // username and permission
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := auth.ParsePermission(args[1])
			if err != nil {
				return err
			}
			return withUsers(cmd, configPath, func(ctx context.Context, users *auth.SQLiteUserRepository) error {
				u, err := users.GetByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				apply, done := users.Grant, "granted"
				if verb == "revoke" {
					apply, done = users.Revoke, "revoked"
				}
				if err := apply(ctx, u.ID, perm); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", done, u.Username, perm)
				return nil
			})
		},
	}
}
