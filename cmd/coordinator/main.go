package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sagarneeli/mr-tracker/internal/api"
	"github.com/sagarneeli/mr-tracker/internal/logging"
	"github.com/sagarneeli/mr-tracker/internal/storage"
)

const drainTimeout = 10 * time.Second

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	addr := flag.String("addr", envOr("COORDINATOR_ADDR", ":8080"), "HTTP listen address")
	root := flag.String("root", envOr("MR_ROOT", "./data"), "storage root holding <job>/input")
	jobID := flag.String("job", "", "job to start at boot (input under <root>/<job>/input)")
	nReduce := flag.Int("reducers", 10, "number of reduce partitions")
	mapper := flag.String("mapper", "wordcount", "mapper name")
	reducer := flag.String("reducer", "wordcount", "reducer name")
	exitOnDone := flag.Bool("exit-on-done", false, "exit once the boot job completes")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.Parse()

	logger, err := logging.New(os.Stdout, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	store, err := storage.NewLocal(*root)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(ctx, store, logger)
	if *jobID != "" {
		c, err := srv.SubmitJob(api.SubmitJobRequest{ID: *jobID, NReduce: *nReduce, Mapper: *mapper, Reducer: *reducer})
		if err != nil {
			logger.Error("submit job failed", "job", *jobID, "err", err)
			os.Exit(1)
		}
		if *exitOnDone {
			go func() {
				select {
				case <-c.Done():
				case <-ctx.Done():
					return
				}
				// Workers have been sent a close frame; stop once they are gone.
				select {
				case <-c.Drained():
				case <-time.After(drainTimeout):
					logger.Warn("workers still connected at shutdown", "job", c.JobID())
				case <-ctx.Done():
				}
				stop()
			}()
		}
	}

	httpSrv := &http.Server{Addr: *addr, Handler: srv.Handler()}
	go func() {
		logger.Info("starting HTTP server", "addr", *addr, "root", store.Root())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
	logger.Info("coordinator stopped")
}
