// Command csebuctl runs operator tasks against the department database:
// schema migrations and admin account bootstrap.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"csebu.org/internal/config"
	"csebu.org/internal/store/pg"
)

var Version = "dev"

// globals holds flags shared by every subcommand.
type globals struct {
	configPath      string
	dsn             string
	timeout         time.Duration
	migrationsTable string
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "csebuctl",
		Short:         "Operator tooling for the CSE department backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "path to a YAML config file (default $"+config.FileEnv+")")
	rootCmd.PersistentFlags().StringVar(&g.dsn, "dsn", "", "PostgreSQL DSN (default DATABASE_URL)")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "overall command timeout")

	rootCmd.AddCommand(migrateCmd(g))
	rootCmd.AddCommand(adminCmd(g))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.dsn != "" {
		cfg.DatabaseURL = g.dsn
	}
	return cfg, nil
}

// open connects to the configured database and returns a context bounded by
// the --timeout flag.
func (g *globals) open(parent context.Context, cfg *config.Config) (*pg.Store, context.Context, context.CancelFunc, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, nil, errors.New("missing DSN: provide --dsn or DATABASE_URL")
	}
	db, err := pg.Open(cfg.DatabaseURL, pg.Pool{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open db: %w", err)
	}
	ctx, cancel := context.WithTimeout(parent, g.timeout)
	if err := db.Ping(ctx); err != nil {
		cancel()
		db.Close()
		return nil, nil, nil, fmt.Errorf("ping db: %w", err)
	}
	return db, ctx, cancel, nil
}
