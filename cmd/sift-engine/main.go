package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/streamsift/engine/internal/cache"
	"github.com/streamsift/engine/internal/inference"
	"github.com/streamsift/engine/internal/server"
	"github.com/streamsift/engine/internal/service"
)

const version = "0.2.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("sift-engine %s\n", version)
	case "serve":
		if err := serve(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "sift-engine: %v\n", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: sift-engine <command>")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve [-config path]   run the NDJSON JSON-RPC loop over stdio")
	fmt.Fprintln(os.Stderr, "  version                print the engine version")
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the engine config file (JSON)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Stdout carries the protocol; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := service.DefaultConfig()
	if *configPath != "" {
		loaded, err := service.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("loading models",
		"encoder_model_id", cfg.Encoder.ModelID,
		"scorer_model_id", cfg.Scorer.ModelID,
		"device", cfg.Encoder.Device)

	enc, err := inference.AcquireEncoder(cfg.EncoderConfig())
	if err != nil {
		return err
	}
	sc, err := inference.AcquireScorer(cfg.ScorerConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := inference.Shutdown(); err != nil {
			logger.Error("model teardown failed", "err", err)
		}
	}()

	opts := []service.Option{service.WithLogger(logger)}
	if cfg.Cache.Path != "" {
		vc, err := cache.Open(cfg.Cache.Path, cfg.Cache.MaxMB)
		if err != nil {
			return err
		}
		defer vc.Close()
		opts = append(opts, service.WithVectorCache(vc))
	}
	if cfg.Server.RatePerSecond > 0 {
		burst := cfg.Server.RateBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, service.WithRateLimit(cfg.Server.RatePerSecond, burst))
	}
	svc := service.New(enc, sc, opts...)

	srv := server.NewWithConcurrency(os.Stdin, os.Stdout, logger, cfg.Server.MaxConcurrent)
	server.RegisterBuiltinHandlers(srv, svc)

	logger.Info("engine ready", "version", version, "max_concurrent", srv.MaxConcurrent())
	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("engine stopped", "requests_served", srv.RequestsServed())
	return nil
}
