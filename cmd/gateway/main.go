// Command gateway serves the footprint API behind the decrypt-and-authenticate boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/footprint-labs/footprint/internal/app/runtime"
	"github.com/footprint-labs/footprint/internal/config"
	"github.com/footprint-labs/footprint/internal/logging"
)

func main() {
	envFile := flag.String("env", "", "env file to load instead of ./.env")
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	var (
		cfg *config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.LoadFile(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	log := logging.New("footprint-gateway", cfg.Logging.Level, cfg.Logging.Format)

	application, err := runtime.NewApplication(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("server stopped")
	} else {
		log.Info("shutting down")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
