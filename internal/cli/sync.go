package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fieldline/api/internal/replica"
)

// NewInitCommand creates the init command, which bootstraps the replica file
// and prints the device id.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "init",
		Short:         "Create the local replica database",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReplica(opts)
			if err != nil {
				return err
			}
			defer r.Close()

			deviceID, err := r.DeviceID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replica ready at %s (device %s)\n", opts.Database, deviceID)
			return nil
		},
	}
}

// NewSyncCommand creates the sync command, which runs one push-then-pull
// cycle against the configured server.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sync",
		Short:         "Push queued changes and pull updates from the server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReplica(opts)
			if err != nil {
				return err
			}
			defer r.Close()

			driver := replica.NewDriver(r, opts.Server, accessToken(r))
			summary, err := driver.SyncOnce(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pushed: %d jobs, %d materials, %d pins, %d checklist\n",
				summary.Pushed.Jobs, summary.Pushed.Materials, summary.Pushed.Pins, summary.Pushed.Checklist)
			fmt.Fprintf(out, "Pulled: %d jobs, %d materials, %d pins, %d checklist\n",
				summary.Pulled.Jobs, summary.Pulled.Materials, summary.Pulled.Pins, summary.Pulled.Checklist)
			fmt.Fprintf(out, "Cursor: %s\n", summary.Cursor.Format(time.RFC3339))
			return nil
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show replica state and pending upload count",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReplica(opts)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := cmd.Context()
			deviceID, err := r.DeviceID(ctx)
			if err != nil {
				return err
			}
			pending, err := r.PendingCount(ctx)
			if err != nil {
				return err
			}
			cursor, err := r.Cursor(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device:  %s\n", deviceID)
			fmt.Fprintf(out, "Server:  %s\n", opts.Server)
			fmt.Fprintf(out, "Pending: %d queued writes\n", pending)
			if cursor == nil {
				fmt.Fprintln(out, "Cursor:  never synced")
			} else {
				fmt.Fprintf(out, "Cursor:  %s\n", cursor.Format(time.RFC3339))
			}
			return nil
		},
	}
}
