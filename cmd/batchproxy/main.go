// Command batchproxy runs the fan-out batch processor as a standalone HTTP
// server: a single listen address that serves batch submissions on one
// path and reverse-proxies everything else through to an upstream origin.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saymedia/batchhttp/proxy"
)

var (
	listenAddr  string
	upstream    string
	batchPath   string
	metricsAddr string
	timeout     time.Duration
	debugLog    bool
)

var rootCmd = &cobra.Command{
	Use:   "batchproxy",
	Short: "Serve a batch-processor HTTP endpoint in front of an upstream origin",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&listenAddr, "listen", ":8080", "address to listen on")
	flags.StringVar(&upstream, "upstream", "localhost:8000", "upstream origin to forward requests to")
	flags.StringVar(&batchPath, "batch-path", "/batch-processor", "request path treated as a batch submission")
	flags.StringVar(&metricsAddr, "metrics-listen", "", "address to serve Prometheus metrics on (disabled if empty)")
	flags.DurationVar(&timeout, "subrequest-timeout", 30*time.Second, "deadline applied to each inner request")
	flags.BoolVar(&debugLog, "debug", false, "enable debug-level logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("batchproxy exited with error")
	}
}

func run(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if debugLog {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	p := proxy.New(upstream)
	p.BatchPath = batchPath
	p.Timeout = timeout
	p.Logger = logger
	p.Metrics = proxy.NewMetrics(nil)

	server := &http.Server{
		Addr:    listenAddr,
		Handler: p,
	}

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", listenAddr).Str("upstream", upstream).Str("batch_path", batchPath).Msg("batchproxy listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if metricsServer != nil {
		go func() {
			logger.Info().Str("addr", metricsAddr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if metricsServer != nil {
		return metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}
