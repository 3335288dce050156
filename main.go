package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"qxtrader/cli"
	"qxtrader/utils/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout)
	stop()
	if code == 0 {
		log.Infof("Shutdown complete.")
	}
	os.Exit(code)
}
