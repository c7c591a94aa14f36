package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fieldline/api/internal/replica"
	"fieldline/api/internal/store"
	"fieldline/api/internal/util"
)

var profitChips = map[string]struct{}{
	"none":   {},
	"red":    {},
	"yellow": {},
	"green":  {},
}

// NewJobCommand creates the job command group.
func NewJobCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage local jobs",
	}

	var chip string
	add := &cobra.Command{
		Use:           "add <name>",
		Short:         "Record a new job",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := profitChips[chip]; !ok {
				return fmt.Errorf("unknown profit chip %q (none, red, yellow, green)", chip)
			}
			return withReplica(opts, func(r *replica.Replica) error {
				job := store.Job{
					ID:         util.NewID("job"),
					Name:       args[0],
					ProfitChip: chip,
					UpdatedAt:  time.Now().UTC(),
				}
				if err := r.SaveJob(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded job %s\n", job.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&chip, "chip", "none", "profit chip (none, red, yellow, green)")

	cmd.AddCommand(add)
	return cmd
}

// NewMaterialCommand creates the material command group.
func NewMaterialCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "material",
		Short: "Manage local material lines",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "add <job-id> <sku> <quantity>",
		Short:         "Record a material line against a job",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[2], err)
			}
			return withReplica(opts, func(r *replica.Replica) error {
				line := store.MaterialLine{
					ID:        util.NewID("mat"),
					JobID:     args[0],
					SKU:       args[1],
					Quantity:  quantity,
					UpdatedAt: time.Now().UTC(),
				}
				if err := r.SaveMaterial(cmd.Context(), line); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded material %s\n", line.ID)
				return nil
			})
		},
	})
	return cmd
}

// NewPinCommand creates the pin command group.
func NewPinCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage local location pins",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "add <job-id> <kind> <lat> <lng>",
		Short:         "Drop a location pin on a job",
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid latitude %q: %w", args[2], err)
			}
			lng, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("invalid longitude %q: %w", args[3], err)
			}
			if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
				return fmt.Errorf("coordinates out of range: %v, %v", lat, lng)
			}
			return withReplica(opts, func(r *replica.Replica) error {
				pin := store.Pin{
					ID:        util.NewID("pin"),
					JobID:     args[0],
					Kind:      args[1],
					Lat:       lat,
					Lng:       lng,
					UpdatedAt: time.Now().UTC(),
				}
				if err := r.SavePin(cmd.Context(), pin); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded pin %s\n", pin.ID)
				return nil
			})
		},
	})
	return cmd
}

// NewCheckCommand creates the checklist command group.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Manage the local checklist",
	}

	var required bool
	add := &cobra.Command{
		Use:           "add <prompt>",
		Short:         "Add a checklist item",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(opts, func(r *replica.Replica) error {
				item := store.ChecklistItem{
					ID:        util.NewID("chk"),
					Prompt:    args[0],
					Required:  required,
					UpdatedAt: time.Now().UTC(),
				}
				if err := r.SaveChecklistItem(cmd.Context(), item); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded checklist item %s\n", item.ID)
				return nil
			})
		},
	}
	add.Flags().BoolVar(&required, "required", false, "mark the item as required")

	done := &cobra.Command{
		Use:           "done <id>",
		Short:         "Mark a checklist item complete (clears its required flag)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(opts, func(r *replica.Replica) error {
				items, err := r.ChecklistItems(cmd.Context())
				if err != nil {
					return err
				}
				for _, item := range items {
					if item.ID != args[0] {
						continue
					}
					item.Required = false
					item.UpdatedAt = time.Now().UTC()
					if err := r.SaveChecklistItem(cmd.Context(), item); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Completed %s\n", item.ID)
					return nil
				}
				return fmt.Errorf("checklist item %q not found", args[0])
			})
		},
	}

	cmd.AddCommand(add)
	cmd.AddCommand(done)
	return cmd
}

// NewJobsCommand creates the jobs listing command.
func NewJobsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "jobs",
		Short:         "List local jobs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(opts, func(r *replica.Replica) error {
				jobs, err := r.Jobs(cmd.Context())
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs yet.")
					return nil
				}
				for _, job := range jobs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]  %s\n", job.ID, job.ProfitChip, job.Name)
				}
				return nil
			})
		},
	}
}

func withReplica(opts *RootOptions, fn func(*replica.Replica) error) error {
	r, err := openReplica(opts)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}
