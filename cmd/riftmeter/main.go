package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	metercmd "github.com/louisbranch/riftmeter/internal/cmd/meter"
)

func main() {
	cfg, err := metercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[RIFTMETER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run meter: %v", err)
	}
}
