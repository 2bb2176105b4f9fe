package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheerbytes/filegate/internal/chat"
	"github.com/sheerbytes/filegate/internal/config"
	"github.com/sheerbytes/filegate/internal/logging"
	"github.com/sheerbytes/filegate/internal/server"
	"github.com/sheerbytes/filegate/internal/termio"
)

const (
	serverVersion   = "v0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if hasHelpFlag(os.Args[1:]) {
		printServerUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(termio.Stdout(), serverVersion)
		return
	}

	cfg, err := config.ParseServerConfig()
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		fmt.Fprintf(termio.Stderr(), "unknown log level %q, using info\n", cfg.LogLevel)
	}
	logger := logging.NewWithWriter(termio.Stderr(), "filegated", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.WithHandler(chat.New()), server.WithLogger(logger))
	if err := srv.Start(ctx); err != nil {
		logger.Error("server failed to start", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("shutdown timed out, sessions were closed", "timeout", shutdownTimeout)
			return
		}
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func printServerUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: filegated [--port N] [--root DIR] [flags]")
	fmt.Fprintln(termio.Stderr(), "  --config FILE          YAML config file (or FILEGATE_CONFIG)")
	fmt.Fprintln(termio.Stderr(), "  --port N               TCP listen port (default 8080)")
	fmt.Fprintln(termio.Stderr(), "  --root DIR             directory served to clients (default ./uploads)")
	fmt.Fprintln(termio.Stderr(), "  --log-level LEVEL      debug, info, warn or error (default info)")
	fmt.Fprintln(termio.Stderr(), "  --quic-addr ADDR       also accept sessions over QUIC, e.g. :8443")
	fmt.Fprintln(termio.Stderr(), "  --quic-cert FILE       QUIC TLS certificate (self-signed when unset)")
	fmt.Fprintln(termio.Stderr(), "  --quic-key FILE        QUIC TLS key")
	fmt.Fprintln(termio.Stderr(), "  --ws-addr ADDR         also accept sessions over WebSocket, e.g. :8081")
	fmt.Fprintln(termio.Stderr(), "  --metrics-addr ADDR    serve Prometheus metrics on ADDR/metrics")
	fmt.Fprintln(termio.Stderr(), "  --watch-root=BOOL      keep the files-in-root gauge current (default true)")
	fmt.Fprintln(termio.Stderr(), "every flag has a FILEGATE_* environment variable, e.g. FILEGATE_PORT")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
