package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fireshield/fsclient/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.NewRunner(os.Stdin, os.Stdout, os.Stderr).Run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}
