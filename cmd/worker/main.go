// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adiadia/crm-automation/internal/bootstrap"
	"github.com/adiadia/crm-automation/internal/config"
	"github.com/adiadia/crm-automation/internal/logging"
	"github.com/adiadia/crm-automation/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	w := worker.New(worker.Deps{
		Automation:     app.Engine,
		Notifications:  app.Notifier,
		Logger:         logger,
		SweepSchedule:  cfg.SweepSchedule,
		NotifySchedule: cfg.NotifySchedule,
	})

	if err := w.Run(ctx); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}
