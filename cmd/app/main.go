package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // For pprof profiling
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pm_terminal/internal/app"
	"pm_terminal/internal/dispatch"
	"pm_terminal/internal/infra"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Config & Logger
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		slog.Error("❌ Config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. System Bootstrapping
	boot := app.NewBootstrap(cfg, logger)
	if err := boot.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 4. Metrics & pprof endpoint
	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", boot.Metrics.Handler())
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("📈 Metrics server started", slog.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}

	// 5. Response log
	boot.Commands.Subscribe(printResponse)
	boot.Requests.Subscribe(printResponse)

	// 6. Resume the last market subscription in the background
	go boot.RestoreSubscription(ctx)

	slog.InfoContext(ctx, "✨ PM Terminal ready. Type 'help' for commands, Ctrl+C to exit.")
	readCommands(ctx, boot)

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := boot.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", slog.Any("error", err))
		os.Exit(1)
	}
}

// readCommands submits stdin lines until EOF or ctx ends. Lines starting
// with "?" go to the request dispatcher.
func readCommands(ctx context.Context, boot *app.Bootstrap) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "quit":
				return
			case strings.HasPrefix(line, "?"):
				boot.Requests.Submit(ctx, "cli", strings.TrimSpace(line[1:]), map[string]any{"use_cache": false}, nil)
			default:
				boot.Commands.Submit(ctx, "cli", line, nil, nil)
			}
		}
	}
}

func printResponse(resp dispatch.Response) {
	mark := "✓"
	if !resp.Success {
		mark = "✗"
	}
	fmt.Printf("%s [%s] %s\n%s\n", mark, resp.Origin, resp.Operation, resp.Message)
}
