package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.io/infrasutra/mailshelf/internal/config"
	"github.io/infrasutra/mailshelf/internal/store"
)

// app carries what every subcommand needs once the root has parsed flags.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	cleanup func() error
}

func main() {
	_ = godotenv.Load()

	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "mailshelf",
		Short:         "Browse mail export archives offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	config.RegisterFlags(rootCmd)

	rootCmd.AddCommand(
		a.serveCmd(),
		a.importCmd(),
		a.foldersCmd(),
		a.searchCmd(),
		a.readCmd(),
		a.exportMboxCmd(),
		a.clearCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		_ = a.close()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return err
	}
	logger, cleanup, err := config.NewLogger(cfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		_ = cleanup()
		return err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		_ = cleanup()
		return fmt.Errorf("ensure schema: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.store = db
	a.cleanup = cleanup
	logger.Debug("store opened", "path", cfg.DBPath)
	return nil
}

func (a *app) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.cleanup != nil {
		_ = a.cleanup()
		a.cleanup = nil
	}
	return err
}
