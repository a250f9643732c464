package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deckvault/deckvault-core/internal/auth"
	"github.com/deckvault/deckvault-core/internal/infrastructure/database"
)

func newMigrateCmd(load loadFunc) *cobra.Command {
	var down, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			db, err := database.Open(database.Config{
				Path:        cfg.Database.Path,
				WALMode:     cfg.Database.WALMode,
				BusyTimeout: cfg.Database.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // CLI exit

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case status:
				applied, pending, err := db.GetMigrationStatus(ctx)
				if err != nil {
					return fmt.Errorf("reading migration status: %w", err)
				}
				for _, m := range applied {
					fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range pending {
					fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
				}
				return nil
			case down:
				if err := db.MigrateDown(ctx); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
				log.Info("rolled back most recent migration")
				return nil
			default:
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				log.Info("database migrations complete")
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "list applied and pending migrations")
	cmd.MarkFlagsMutuallyExclusive("down", "status")
	return cmd
}

func newReapSessionsCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reap-sessions",
		Short: "Delete invalid and expired sessions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := openDatabase(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // CLI exit

			store, closeStore, err := openSessionStore(ctx, cfg, db, log)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := store.DeleteStale(ctx)
			if err != nil {
				return fmt.Errorf("deleting stale sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d stale sessions\n", n)
			return nil
		},
	}
}

// adminPasswordEnv lets scripts pass the password without a flag.
const adminPasswordEnv = "DECKVAULT_ADMIN_PASSWORD"

func newCreateAdminCmd(load loadFunc) *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv(adminPasswordEnv)
			}
			if err := validateAdminInput(username, email, password); err != nil {
				return err
			}

			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := openDatabase(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // CLI exit

			hash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			user := &auth.User{
				Username:     username,
				Email:        email,
				PasswordHash: hash,
				Role:         auth.RoleAdmin,
				IsActive:     true,
			}
			if err := auth.NewUserRepository(db.DB).Create(ctx, user); err != nil {
				if errors.Is(err, auth.ErrUsernameExists) {
					return fmt.Errorf("user %q or email %q already exists", username, email)
				}
				return fmt.Errorf("creating admin: %w", err)
			}

			log.Info("admin account created", "user_id", user.ID, "username", user.Username)
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "admin username")
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password (or $"+adminPasswordEnv+")")
	cmd.MarkFlagRequired("username") //nolint:errcheck // flag is defined above
	cmd.MarkFlagRequired("email")    //nolint:errcheck // flag is defined above
	return cmd
}

func validateAdminInput(username, email, password string) error {
	var problems []string
	if !auth.IsValidUsername(username) {
		problems = append(problems, "username may only contain letters, digits, dots, hyphens and underscores")
	}
	if !strings.Contains(email, "@") {
		problems = append(problems, "email is invalid")
	}
	if err := auth.ValidatePassword(password); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
