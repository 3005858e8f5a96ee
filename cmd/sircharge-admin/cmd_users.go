package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sircharge/admin/internal/app"
	"sircharge/admin/internal/authpw"
	"sircharge/admin/internal/config"
	"sircharge/admin/internal/promptrepo"
	"sircharge/admin/internal/store"
)

var (
	adminName     string
	passwordStdin bool
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin <email>",
	Short: "Create an admin account or promote an existing one",
	Long: `Create an admin operator account. When the email already belongs to an
account it is promoted to admin and re-enabled instead.

A new account gets a temporary password that is printed once.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateAdmin,
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password <email>",
	Short: "Set a new password for an account",
	Long: `Set a new password for an account. The password is read from stdin with
--stdin, otherwise a temporary one is generated and printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runResetPassword,
}

func init() {
	createAdminCmd.Flags().StringVar(&adminName, "name", "", "display name for a new account (default: the email's local part)")
	resetPasswordCmd.Flags().BoolVar(&passwordStdin, "stdin", false, "read the new password from stdin")
}

// withService runs fn against a Service backed by Postgres only. Search
// writes made here are picked up by the reindex on the next serve.
func withService(ctx context.Context, fn func(*app.Service, *zap.Logger) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.PromptsDir, 0o755); err != nil {
		return fmt.Errorf("create prompts dir: %w", err)
	}
	return fn(newCLIService(cfg, db, logger), logger)
}

func newCLIService(cfg config.Config, db *sql.DB, logger *zap.Logger) *app.Service {
	return app.New(cfg, app.Deps{
		Store:   store.NewPostgresStore(db),
		Prompts: promptrepo.New(cfg.PromptsDir),
		Logger:  logger,
	})
}

func runCreateAdmin(cmd *cobra.Command, args []string) error {
	email := strings.TrimSpace(args[0])
	name := strings.TrimSpace(adminName)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	return withService(cmd.Context(), func(svc *app.Service, logger *zap.Logger) error {
		user, password, err := svc.EnsureAdmin(cmd.Context(), email, name)
		if err != nil {
			return describe(err)
		}
		logger.Info("admin account ready", zap.String("user_id", user.ID))
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "admin: %s <%s> (%s)\n", user.DisplayName, user.Email, user.ID)
		if password != "" {
			fmt.Fprintf(out, "temporary password: %s\n", password)
		}
		return nil
	})
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	password := ""
	if passwordStdin {
		read, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		password = read
	}
	return withService(cmd.Context(), func(svc *app.Service, _ *zap.Logger) error {
		generated := password == ""
		if generated {
			temp, err := authpw.GenerateTemporaryPassword()
			if err != nil {
				return err
			}
			password = temp
		}
		if err := svc.SetPassword(cmd.Context(), args[0], password); err != nil {
			return describe(err)
		}
		if generated {
			fmt.Fprintf(cmd.OutOrStdout(), "temporary password: %s\n", password)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "password updated")
		}
		return nil
	})
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

// describe turns store and domain errors into messages fit for a terminal.
func describe(err error) error {
	var domainErr *app.DomainError
	switch {
	case errors.As(err, &domainErr):
		return fmt.Errorf("%s", domainErr.Message)
	case errors.Is(err, store.ErrNotFound):
		return errors.New("no account with that email")
	}
	return err
}
