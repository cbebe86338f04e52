package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	var migrationDir, dbURL string
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.StringVar(&dbURL, "database", cfg.DatabaseURL, "PostgreSQL URL (defaults to DATABASE_URL)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	m, err := migrate.New("file://"+migrationDir, dbURL)
	if err != nil {
		log.Fatal().Err(err).Str("path", migrationDir).Msg("Migration failed to initialize")
	}
	defer m.Close()

	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		n, convErr := intArg(args)
		if convErr != nil {
			log.Fatal().Err(convErr).Msg("steps requires a signed step count")
		}
		err = m.Steps(n)
	case "force":
		v, convErr := intArg(args)
		if convErr != nil {
			log.Fatal().Err(convErr).Msg("force requires a version")
		}
		err = m.Force(v)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied")
			return
		}
		if verr != nil {
			log.Fatal().Err(verr).Msg("Version failed")
		}
		fmt.Printf("Version: %d, Dirty: %t\n", version, dirty)
		return
	default:
		printUsage()
		os.Exit(2)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Str("command", args[0]).Msg("No change")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Migration failed")
	}

	version, dirty, _ := m.Version()
	log.Info().Str("command", args[0]).Uint("version", version).Bool("dirty", dirty).Msg("Migration applied")
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, errors.New("missing argument")
	}
	return strconv.Atoi(args[1])
}

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up, down, steps <n>, version, force <version>")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
