package main

import (
	"context"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/server"
	"github.com/desertthunder/crate/internal/services"
	"github.com/urfave/cli/v3"
)

// Serve starts the coordinator with recovery and serves the status API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	c, err := r.open(ctx, true)
	if err != nil {
		return err
	}

	c.AttachPlayer(services.PlayerFunc(func(entries []models.QueueEntry) {
		r.logger.Debug("queue committed", "entries", len(entries))
	}))

	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	server.NewAPI(c, r.logger).Register(router)
	router.Handler(server.NewEventsHandler(c, cmd.Bool("allow-any-origin"), r.logger))

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	return server.New(addr, router, r.logger).Run(ctx)
}
