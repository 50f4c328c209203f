// Package main is the entry point for the chatgate server.
//
// @title        chatgate API
// @version      1.0
// @description  Chat completion gateway that falls back across upstream providers and models.
// @BasePath     /
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatgate/config"
	"chatgate/internal/app"
	"chatgate/internal/logging"
	"chatgate/internal/version"

	_ "chatgate/cmd/chatgate/docs"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(logging.Options{})
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level})

	slog.Info("starting chatgate",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Start(":" + cfg.Server.Port)
	}()

	exitCode := 0
	select {
	case err := <-serverErr:
		if err != nil {
			slog.Error("server failed", "error", err)
			exitCode = 1
		}
	case <-ctx.Done():
	}

	// Shutdown flushes the audit log, so it must finish before exiting.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		exitCode = 1
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
