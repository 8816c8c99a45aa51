package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dejo1307/bridgemeta/internal/config"
	"github.com/dejo1307/bridgemeta/internal/engine"
	"github.com/dejo1307/bridgemeta/internal/renderers/signatures"
	"github.com/dejo1307/bridgemeta/internal/renderers/summary"
	"github.com/dejo1307/bridgemeta/internal/server"
)

func main() {
	// Ensure log output goes to stderr, never stdout (MCP uses stdout for JSON-RPC)
	log.SetOutput(os.Stderr)

	ctx := context.Background()

	// Check for --generate and --force flags
	generateMode := false
	force := false
	cfgPath := config.FileName
	for _, arg := range os.Args[1:] {
		switch arg {
		case "--generate":
			generateMode = true
		case "--force":
			force = true
		default:
			cfgPath = arg
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if generateMode {
			log.Fatalf("failed to load config: %v", err)
		}
		// The server can still start; generate_metadata reports the problem.
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
		cfg = config.Default()
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	// Register renderers; the config decides which ones run
	for _, v := range signatures.Variants {
		eng.RegisterRenderer(signatures.New(v))
	}
	eng.RegisterRenderer(summary.New(cfg.Output.MaxSummaryTokens))

	// One-shot generation mode
	if generateMode {
		snapshot, err := eng.Generate(ctx, force)
		if err != nil {
			log.Fatalf("metadata generation failed: %v", err)
		}

		if err := eng.WriteArtifacts(); err != nil {
			log.Fatalf("failed to write artifacts: %v", err)
		}

		fmt.Fprintf(os.Stderr, "\nMetadata complete:\n")
		fmt.Fprintf(os.Stderr, "  Framework:   %s\n", snapshot.Meta.Framework)
		fmt.Fprintf(os.Stderr, "  Archs:       %v\n", snapshot.Meta.Archs)
		fmt.Fprintf(os.Stderr, "  Entities:    %d\n", snapshot.Meta.FactCount)
		fmt.Fprintf(os.Stderr, "  Warnings:    %d\n", len(snapshot.Meta.MergeErrors))
		fmt.Fprintf(os.Stderr, "  Artifacts:   %d\n", len(snapshot.Artifacts))
		fmt.Fprintf(os.Stderr, "  Duration:    %s\n", snapshot.Meta.Duration)
		fmt.Fprintf(os.Stderr, "  Output:      %s\n", eng.OutputDir())
		os.Exit(0)
	}

	// Auto-load the previous run if available (so queries work immediately
	// without requiring a generate_metadata call first).
	if err := eng.LoadExisting(ctx); err != nil {
		log.Printf("[main] no previous metadata loaded: %v", err)
	}

	// MCP server mode (default)
	srv, err := server.New(eng, cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
