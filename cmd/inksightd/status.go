package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe device and cloud reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}

			status := app.router.GetStatus(cmd.Context())

			fmt.Printf("mode:   %s\n", app.router.GetMode())
			fmt.Printf("status: %s\n", status)
			fmt.Printf("online: %v\n", app.router.IsOnline())

			return nil
		},
	}
}
