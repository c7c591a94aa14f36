// Package cli implements the field agent command line. Every data command
// writes to the local replica first and the outbox carries the change to the
// server on the next sync, so the agent stays useful with no connectivity.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"fieldline/api/internal/replica"
)

// RootOptions holds the global flags shared by all subcommands.
type RootOptions struct {
	Server   string
	Database string
}

// NewRootCommand creates the agent's root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "agent",
		Short:         "Fieldline field agent",
		Long:          "Offline-first client for the Fieldline sync service. Records jobs, materials, pins, and checklist items locally and syncs them when a connection is available.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", getenv("FIELDLINE_SERVER", "http://localhost:8686"), "sync server base URL")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", getenv("FIELDLINE_DB", "./fieldline.db"), "path to the local replica database")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewJobCommand(opts))
	cmd.AddCommand(NewMaterialCommand(opts))
	cmd.AddCommand(NewPinCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))

	return cmd
}

func openReplica(opts *RootOptions) (*replica.Replica, error) {
	return replica.Open(opts.Database)
}

// accessToken resolves the bearer token for sync requests. An explicit
// FIELDLINE_TOKEN wins over whatever login stored in the replica.
func accessToken(r *replica.Replica) replica.TokenFunc {
	return func(ctx context.Context) (string, error) {
		if token := os.Getenv("FIELDLINE_TOKEN"); token != "" {
			return token, nil
		}
		token, err := r.State(ctx, replica.StateAccessToken)
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", errNotLoggedIn
		}
		return token, nil
	}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
