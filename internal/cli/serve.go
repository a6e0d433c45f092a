package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/designdoc/internal/api"
	"github.com/dgallion1/designdoc/internal/pipeline"
)

func (a *App) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *App) serve(ctx context.Context) error {
	log := a.logger("json")
	if err := a.Config.ValidateServer(); err != nil {
		return err
	}

	runner, cleanup, err := a.runner(ctx, log, true, false)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := pipeline.NewOrchestrator(a.Config, runner, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, a.stats, log, a.Config)
	httpServer := &http.Server{
		Addr:         ":" + a.Config.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown. Workers stop only after the server has stopped
	// accepting runs.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	}()

	log.Info("starting designdoc", "port", a.Config.Port, "workers", a.Config.WorkerCount)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		orch.Stop()
		return err
	}
	<-shutdownDone
	orch.Stop()
	return nil
}
