package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	discovercmd "github.com/louisbranch/ucp-hub/internal/cmd/discover"
	"github.com/louisbranch/ucp-hub/internal/platform/config"
)

func main() {
	cfg, err := discovercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := discovercmd.Run(ctx, cfg, os.Stdout); err != nil {
		stop()
		color.Red("Discovery failed (%v)", err)
		os.Exit(1)
	}
}
