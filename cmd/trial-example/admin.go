//go:build trialadmin

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MacJediWizard/trialguard/internal/license"
)

// adminCommands is only compiled into support builds (-tags trialadmin).
func adminCommands(flags *globalFlags) []*cobra.Command {
	return []*cobra.Command{newAdminCmd(flags)}
}

func newAdminCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "admin",
		Short:  "Administrative trial operations",
		Hidden: true,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "reset",
			Short: "Erase all trial state and start a new trial",
			RunE: func(cmd *cobra.Command, args []string) error {
				guard, err := newGuard(cmd, flags)
				if err != nil {
					return err
				}
				if err := guard.ResetTrial(cmd.Context()); err != nil {
					return err
				}
				fmt.Printf("Trial reset. Remaining days: %.1f\n", guard.RemainingDays(cmd.Context()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "corrupt",
			Short: "Permanently invalidate the trial",
			RunE: func(cmd *cobra.Command, args []string) error {
				guard, err := newGuard(cmd, flags)
				if err != nil {
					return err
				}
				guard.CorruptTrial(cmd.Context())
				fmt.Println("Trial has been corrupted.")
				return nil
			},
		},
	)

	return cmd
}

func newGuard(cmd *cobra.Command, flags *globalFlags) (*license.Guard, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	guard, err := license.New(cmd.Context(), cfg, license.WithLogger(newLogger(flags.debug)))
	if err != nil {
		return nil, fmt.Errorf("initialize trial: %w", err)
	}
	return guard, nil
}
