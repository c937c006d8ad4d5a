package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tobsai/inksight/internal/docsync"
	"github.com/tobsai/inksight/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the device for changes and sync them live",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.router.Initialize(ctx); err != nil {
				return userFacing(err)
			}
			defer app.device.Disconnect() //nolint:errcheck // shutdown path

			engine := docsync.NewEngine(app.router.Source(ctx), docsync.Config{
				LocalCacheDir: flagCacheDir,
				Logger:        app.logger,
			})

			if err := engine.Initialize(); err != nil {
				return err
			}

			report, err := engine.FullSync()
			if err != nil {
				return userFacing(err)
			}

			fmt.Printf("initial sync: %d synced, %d failed, %d deleted\n",
				len(report.Synced), len(report.Failed), len(report.Deleted))

			mon := monitor.New(app.device, monitor.Config{Logger: app.logger})

			err = mon.Start(func(batch []monitor.ChangeEvent) {
				events := make([]docsync.ChangeEvent, 0, len(batch))
				for _, ev := range batch {
					events = append(events, docsync.ChangeEvent{
						DocumentID: ev.DocumentID,
						Kind:       changeKind(ev.Kind),
						ObservedAt: ev.ObservedAt,
					})
				}

				report, err := engine.IncrementalSync(events)
				if err != nil {
					app.logger.Warn("watch: incremental sync failed", slog.String("error", err.Error()))
					return
				}

				for _, id := range report.Synced {
					fmt.Printf("synced %s\n", id)
				}

				for _, id := range report.Deleted {
					fmt.Printf("deleted %s\n", id)
				}
			})
			if err != nil {
				return err
			}

			fmt.Println("watching for changes, ctrl-c to stop")
			<-ctx.Done()
			mon.Stop()

			return nil
		},
	}
}

func changeKind(kind monitor.ChangeKind) docsync.ChangeKind {
	switch kind {
	case monitor.Created:
		return docsync.Created
	case monitor.Deleted:
		return docsync.Deleted
	default:
		return docsync.Modified
	}
}
