package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/romangod6/listing-harvester/internal/api"
	"github.com/romangod6/listing-harvester/internal/utils"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and run scheduled crawls",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			log := a.Logger

			server := api.NewServer(a.Config.Server.Port, api.NewHandler(a.Gateway, a, log), a.Metrics.Handler())

			var scheduler *cron.Cron
			if !noSchedule {
				scheduler, err = a.Scheduler(ctx)
				if err != nil {
					return err
				}
				scheduler.Start()
				log.Info("crawl schedule registered", utils.String("spec", a.Config.CronSpec()))
			}

			serveErr := make(chan error, 1)
			go func() {
				log.Info("starting API server", utils.Int("port", a.Config.Server.Port))
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					return err
				}
			}
			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("error shutting down server", utils.Err(err))
			}
			if scheduler != nil {
				<-scheduler.Stop().Done()
			}
			a.Wait()
			log.Info("server shut down gracefully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API without scheduled crawls")
	return cmd
}
