package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"csebu.org/internal/audit"
	"csebu.org/internal/auth"
)

func adminCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}
	cmd.AddCommand(adminEnsureCmd(g))
	return cmd
}

// adminEnsureCmd creates the admin account or resets an existing one to
// role=admin, status=approved with the given password.
func adminEnsureCmd(g *globals) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create or reset an approved admin account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if email == "" {
				email = cfg.Admin.Email
			}
			if password == "" {
				password = cfg.Admin.Password
			}
			if name == "" {
				name = cfg.Admin.Name
			}
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password (or ADMIN_EMAIL and ADMIN_PASSWORD) are required")
			}
			if cfg.JWT.Secret == "" {
				// Nothing is signed here; the token service only needs a key to construct.
				cfg.JWT.Secret = "csebuctl"
			}

			db, ctx, cancel, err := g.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cancel()
			defer db.Close()

			tokens, err := auth.NewTokenService(cfg.JWT.Secret)
			if err != nil {
				return err
			}
			u, created, err := auth.NewService(db, tokens).EnsureAdmin(ctx, email, password, name)
			if err != nil {
				return fmt.Errorf("ensure admin: %w", err)
			}
			_ = audit.LogEvent(ctx, "admin.ensure", map[string]any{"user_id": u.ID, "email": u.Email, "created": created})

			verb := "updated"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s admin %s (%s)\n", verb, u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email (default ADMIN_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "admin password (default ADMIN_PASSWORD)")
	cmd.Flags().StringVar(&name, "name", "", "display name (default ADMIN_NAME or \"Site Admin\")")
	return cmd
}
