package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tobsai/inksight/internal/cloudchannel"
	"github.com/tobsai/inksight/internal/router"
	"github.com/tobsai/inksight/internal/sshchannel"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync all documents into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			if err := app.router.Initialize(ctx); err != nil {
				return userFacing(err)
			}
			defer app.device.Disconnect() //nolint:errcheck // shutdown path

			result, err := app.router.SyncAll(ctx, flagCacheDir)
			if err != nil {
				return userFacing(err)
			}

			fmt.Printf("synced %d documents via %s\n", result.Synced, result.Source)

			for _, line := range result.Errors {
				fmt.Printf("  failed: %s\n", line)
			}

			return nil
		},
	}
}

// userFacing maps the error taxonomy to its user-visible messages.
func userFacing(err error) error {
	switch {
	case errors.Is(err, sshchannel.ErrConnectionFailed), errors.Is(err, router.ErrOffline):
		return fmt.Errorf("could not reach the device: %w", err)
	case errors.Is(err, cloudchannel.ErrAuthenticationFailed):
		return fmt.Errorf("authentication failed; re-register the device: %w", err)
	default:
		return err
	}
}
