package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sagarneeli/mr-tracker/internal/logging"
	"github.com/sagarneeli/mr-tracker/internal/storage"
	"github.com/sagarneeli/mr-tracker/internal/worker"
)

func main() {
	coordinatorHost := os.Getenv("COORDINATOR_HOST")
	if coordinatorHost == "" {
		coordinatorHost = "localhost:8080"
	}
	host := flag.String("coordinator", coordinatorHost, "coordinator host:port")
	jobID := flag.String("job", "", "job to join")
	localRoot := flag.String("local", "", "storage root shared with the coordinator; enables local partition writes")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger, err := logging.New(os.Stdout, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "Usage: worker -job <id> [-coordinator host:port] [-local root]")
		os.Exit(2)
	}

	cfg := worker.Config{CoordinatorHost: *host, JobID: *jobID, Logger: logger.With("job", *jobID)}
	if *localRoot != "" {
		store, err := storage.NewLocal(*localRoot)
		if err != nil {
			logger.Error("storage init failed", "err", err)
			os.Exit(1)
		}
		cfg.Local = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}
