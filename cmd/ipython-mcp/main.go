package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpcmd "github.com/louisbranch/ipython-mcp/internal/cmd/mcp"
	"github.com/louisbranch/ipython-mcp/internal/platform/config"
)

// main starts the IPython MCP bridge on stdio or HTTP.
func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("[MCP] ")

	cfg, err := mcpcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mcpcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve MCP: %v", err)
	}
}
