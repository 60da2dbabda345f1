// Command authctl runs maintenance tasks against the configured storage:
// schema migrations, admin seeding, a one-off ledger sweep, session inspection and
// account deletion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"wattmate/internal/app"
	"wattmate/internal/common"
	"wattmate/internal/config"
	"wattmate/internal/logger"
	"wattmate/internal/services"
	"wattmate/internal/utils"
)

const usage = `usage: authctl <command> [flags]

commands:
  migrate                         apply database migrations
  seed-admin [-name N] [-email E] create a verified admin account (password from ADMIN_PASSWORD or prompt)
  sweep                           delete expired refresh tokens once
  sessions -id N                  show a user's active refresh tokens and pending reset
  delete-user -id N               delete a user and all of its refresh tokens
`

// readPassword is swapped in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	defer logger.Log.Sync()

	switch args[0] {
	case "migrate":
		stores, err := app.OpenStores(ctx, cfg, true)
		if err != nil {
			return err
		}
		stores.Close()
		fmt.Fprintf(out, "migrations applied (%s)\n", cfg.StorageDriver)
		return nil

	case "seed-admin":
		fs := flag.NewFlagSet("seed-admin", flag.ContinueOnError)
		name := fs.String("name", "Admin User", "display name")
		email := fs.String("email", "admin@wattmate.com", "login email")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		password, err := adminPassword(out)
		if err != nil {
			return err
		}
		stores, err := app.OpenStores(ctx, cfg, cfg.AutoMigrate)
		if err != nil {
			return err
		}
		defer stores.Close()
		hasher, err := utils.NewPasswordHasher(cfg.BcryptCost)
		if err != nil {
			return err
		}
		created, err := services.SeedAdmin(ctx, stores.Users, hasher, *name, *email, password)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "admin %s created\n", *email)
		} else {
			fmt.Fprintf(out, "admin %s already exists\n", *email)
		}
		return nil

	case "sweep":
		stores, err := app.OpenStores(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer stores.Close()
		n, err := services.NewLedger(stores.Tokens).SweepExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %d expired refresh tokens\n", n)
		return nil

	case "sessions":
		fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
		id := fs.Int64("id", 0, "user id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id <= 0 {
			return errors.New("-id is required")
		}
		stores, err := app.OpenStores(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer stores.Close()
		return printSessions(ctx, out, stores, *id)

	case "delete-user":
		fs := flag.NewFlagSet("delete-user", flag.ContinueOnError)
		id := fs.Int64("id", 0, "user id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id <= 0 {
			return errors.New("-id is required")
		}
		stores, err := app.OpenStores(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer stores.Close()
		a, err := app.Build(cfg, stores, services.DisabledNotifier{})
		if err != nil {
			return err
		}
		if err := a.Auth.DeleteUser(ctx, *id); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("user %d not found", *id)
			}
			return err
		}
		fmt.Fprintf(out, "user %d deleted\n", *id)
		return nil

	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printSessions(ctx context.Context, out io.Writer, stores *app.Stores, id int64) error {
	user, err := stores.Users.GetUserByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("user %d not found", id)
	}
	if err != nil {
		return err
	}
	n, err := services.NewLedger(stores.Tokens).CountActive(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "user %d <%s>: %d active refresh tokens\n", user.ID, user.Email, n)

	reset, err := stores.Users.GetResetToken(ctx, id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		fmt.Fprintln(out, "no pending password reset")
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "password reset pending until %s\n", reset.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func adminPassword(out io.Writer) (string, error) {
	if p := os.Getenv("ADMIN_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(out, "Admin password: ")
	raw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	p := strings.TrimSpace(string(raw))
	if len(p) < 6 {
		return "", errors.New("password must be at least 6 characters")
	}
	return p, nil
}
