package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"intraday-trading-bot/config"
	"intraday-trading-bot/internal/app"
	"intraday-trading-bot/internal/auth"
	"intraday-trading-bot/internal/logging"
	"intraday-trading-bot/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	sampleConfig := flag.Bool("sample-config", false, "write a sample config file and exit")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash for an operator password and exit")
	flag.Parse()

	if *sampleConfig {
		if err := config.GenerateSample(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sample config written to %s\n", *configPath)
		return
	}

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build application")
	}

	// First SIGINT asks the scheduler to finish the current tick; the
	// canceled context is the hard stop.
	go func() {
		<-ctx.Done()
		bot.Control(scheduler.CmdShutdown)
	}()

	if err := bot.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("bot exited with error")
		os.Exit(1)
	}
}
