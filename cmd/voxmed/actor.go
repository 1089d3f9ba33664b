package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rafast/vox-med-app/internal/application"
)

func actorCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage API actors",
	}

	var id, name, role string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register an actor and print its secret",
		Long: "Register an actor and print its secret. The secret is shown once and " +
			"is exchanged for a bearer token at POST /auth/token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.Migrate(cmd.Context()); err != nil {
				return err
			}

			auth := newAuthService(cfg, store.Repositories(), logger)
			actor, secret, err := auth.RegisterActor(cmd.Context(), application.RegisterActorParams{
				ID:   id,
				Name: name,
				Role: role,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "actor_id: %s\n", actor.ID)
			fmt.Fprintf(out, "role:     %s\n", actor.Role)
			fmt.Fprintf(out, "secret:   %s\n", secret)
			fmt.Fprintln(out, "store the secret now; it cannot be shown again")
			return nil
		},
	}
	createCmd.Flags().StringVar(&id, "id", "", "actor id (generated when empty)")
	createCmd.Flags().StringVar(&name, "name", "", "display name")
	createCmd.Flags().StringVar(&role, "role", "", "one of admin, staff, doctor, patient")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("role")

	cmd.AddCommand(createCmd)
	return cmd
}
