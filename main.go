package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"scrapdrift/internal/server"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", "", "address to listen on (overrides config)")
	configPath := flag.String("config", envOr("SCRAPDRIFT_CONFIG", "configs/server.toml"), "path to server TOML config")
	maxRange := flag.Float64("claim-max-range", math.NaN(), "override claim release range")
	collectEps := flag.Float64("claim-collect-eps", math.NaN(), "override claim collect radius")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "scrapdrift").Logger()
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	var overrides server.Overrides
	if *addr != "" {
		overrides.Addr = addr
	}
	if !math.IsNaN(*maxRange) {
		overrides.MaxRange = maxRange
	}
	if !math.IsNaN(*collectEps) {
		overrides.CollectEps = collectEps
	}
	cfg = overrides.Apply(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.StartApp(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
