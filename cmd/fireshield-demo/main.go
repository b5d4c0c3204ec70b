package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fireshield/fsclient/internal/config"
	"github.com/fireshield/fsclient/internal/demoserver"
	"github.com/fireshield/fsclient/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultFilePath(), "config file")
	addr := flag.String("addr", "", "listen address (overrides demo_addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *addr != "" {
		cfg.DemoAddr = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.New("fireshield-demo", cfg.LogLevel, os.Stderr)
	srv, err := demoserver.New(demoserver.Options{
		Email:    cfg.DemoEmail,
		Password: cfg.DemoPassword,
		Logger:   logger,
	})
	if err != nil {
		fatal(err)
	}
	if err := srv.ListenAndServe(ctx, cfg.DemoAddr, nil); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "fireshield-demo: %v\n", err)
	os.Exit(1)
}
