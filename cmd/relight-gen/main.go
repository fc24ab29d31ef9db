package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	liftedgan "github.com/nekomi2/LiftedGAN"
	"github.com/nekomi2/LiftedGAN/internal/config"
)

func main() {
	args, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}

	runID := uuid.NewString()
	log.SetPrefix(fmt.Sprintf("[%s] ", runID[:8]))

	cfgPath := config.ResolvePath(args.configFile)
	if cfgPath != "" {
		log.Printf("using config %s", cfgPath)
	}
	cfg, err := liftedgan.LoadConfig(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := args.apply(cfg); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("relight-gen %s run %s", liftedgan.Version, runID)
	p, err := liftedgan.Open(ctx, cfg, args.model, nil)
	if err != nil {
		log.Fatalf("open model: %v", err)
	}
	defer p.Close()

	summary, err := p.Run(ctx)
	if err != nil {
		written := 0
		if summary != nil {
			written = len(summary.Artifacts)
		}
		p.Close()
		log.Fatalf("generation failed after %d artifacts: %v", written, err)
	}
	log.Printf("wrote %d sequences to %s (seed %d)", len(summary.Artifacts), cfg.Output.Dir, p.Seed)
}
