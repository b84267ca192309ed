package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/medibook/clinic-booking/internal/db"
	"github.com/medibook/clinic-booking/internal/logging"
)

const usage = `usage: migrate <command>

commands:
  up          apply all pending migrations
  down N      roll back N migrations (default 1)
  force V     set the version without running migrations
  version     print the current version`

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV")).With().Str("service", "migrate").Logger()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	mg, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer mg.Close()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "up":
		err = mg.Up()
	case "down":
		n := 1
		if len(args) > 0 {
			n, err = strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				logger.Fatal().Str("arg", args[0]).Msg("down expects a positive step count")
			}
		}
		err = mg.Down(n)
	case "force":
		if len(args) == 0 {
			logger.Fatal().Msg("force expects a version")
		}
		v, convErr := strconv.Atoi(args[0])
		if convErr != nil {
			logger.Fatal().Str("arg", args[0]).Msg("force expects an integer version")
		}
		err = mg.Force(v)
	case "version":
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}

	v, dirty, err := mg.Version()
	if err != nil {
		logger.Fatal().Err(err).Msg("read version")
	}
	logger.Info().Str("command", cmd).Uint("version", v).Bool("dirty", dirty).Msg("migrations done")
}
