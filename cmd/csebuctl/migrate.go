package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"csebu.org/internal/migrate"
	"csebu.org/internal/store/pg"
)

func migrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect schema migrations",
	}
	cmd.PersistentFlags().StringVar(&g.migrationsTable, "table", "", "bookkeeping table name (default schema_migrations)")
	cmd.AddCommand(migrateUpCmd(g))
	cmd.AddCommand(migrateDownCmd(g))
	cmd.AddCommand(migrateStatusCmd(g))
	return cmd
}

func (g *globals) migrator(db *pg.Store) *migrate.Manager {
	return migrate.NewManager(db.DB(), migrate.WithMigrationsTable(g.migrationsTable))
}

func migrateUpCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			db, ctx, cancel, err := g.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cancel()
			defer db.Close()

			applied, err := g.migrator(db).Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
			return nil
		},
	}
}

func migrateDownCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			db, ctx, cancel, err := g.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cancel()
			defer db.Close()

			name, err := g.migrator(db).Down(ctx)
			if errors.Is(err, migrate.ErrNothingToRollback) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
			return nil
		},
	}
}

func migrateStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			db, ctx, cancel, err := g.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cancel()
			defer db.Close()

			entries, err := g.migrator(db).Status(ctx)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			for _, e := range entries {
				mark := "pending"
				if e.Applied {
					mark = "applied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", mark, e.Name)
			}
			return nil
		},
	}
}
