package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(apperr.ExitCode(err))
	}
}
