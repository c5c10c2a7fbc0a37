package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/alecgard/riff/internal/config"
	"github.com/alecgard/riff/internal/docstore"
	"github.com/alecgard/riff/internal/user"
)

// demoPassword is only set on seeded users when the backend runs in password
// mode.
const demoPassword = "riff-demo-password"

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo users and a welcome notification",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

var demoUsers = []user.CreateUserInput{
	{Email: "admin@riff.local", Name: "Riff Admin", Role: user.RoleAdmin},
	{Email: "demo@riff.local", FirstName: "Demo", LastName: "User", Role: user.RoleMember},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	docs, err := docstore.Open(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
	if err != nil {
		return err
	}
	defer docs.Close()

	store := user.NewStore(pool)

	existing, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("checking existing users: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("users already exist, skipping seed", "count", len(existing))
		return nil
	}

	for _, in := range demoUsers {
		if cfg.Auth.Mode == config.AuthModePassword {
			in.Password = demoPassword
		}
		u, err := store.Create(ctx, in)
		if errors.Is(err, user.ErrConflict) {
			slog.Info("demo user exists", "email", in.Email)
			continue
		}
		if err != nil {
			return fmt.Errorf("creating user %q: %w", in.Email, err)
		}
		slog.Info("created user", "email", u.Email, "id", u.ID, "role", u.Role)

		if _, err := docs.CreateNotification(ctx, docstore.Notification{
			UserID:  u.ID,
			Type:    docstore.NotifyInfo,
			Title:   "Welcome to Riff",
			Message: "Your account is ready.",
		}); err != nil {
			return fmt.Errorf("creating welcome notification: %w", err)
		}
		if _, err := docs.CreateActivity(ctx, docstore.UserEvent(u.ID, "user.seeded", nil)); err != nil {
			return fmt.Errorf("recording seed activity: %w", err)
		}
	}

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	for _, in := range demoUsers {
		fmt.Printf("User:      %s (%s)\n", in.Email, in.Role)
	}
	if cfg.Auth.Mode == config.AuthModePassword {
		fmt.Printf("Password:  %s\n", demoPassword)
		fmt.Printf("\nTry it:\n")
		fmt.Printf("  curl -X POST http://%s/api/auth/login -d '{\"email\":\"demo@riff.local\",\"password\":\"%s\"}'\n", cfg.Addr(), demoPassword)
	}
	return nil
}
