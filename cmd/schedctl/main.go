package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/logging"
	"github.com/hackgods/consultation-scheduling/internal/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operator tooling for the consultation scheduling store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newTopicsCommand())
	cmd.AddCommand(newUsersCommand())
	cmd.AddCommand(newSlotsCommand())

	return cmd
}

// env is what every subcommand works against. Configuration comes from the
// same environment the servers read.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.Backend
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log, "schedctl", cfg.Env, cfg.Version)

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store}, nil
}

func (e *env) service() *appointment.Service {
	return appointment.NewService(e.store.Repo, appointment.Collaborators{
		Topics: e.store.Topics,
		Users:  e.store.Users,
		Logger: e.logger,
	}, e.cfg)
}

func (e *env) Close() {
	e.store.Close()
}
