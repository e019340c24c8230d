package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/schoolclinic/clinic-backend/pkg/config"
	"github.com/schoolclinic/clinic-backend/pkg/database"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
)

const usage = `usage: migrate [-path dir] <command>

commands:
  up         apply all pending migrations
  down N     roll back N migrations (refused in staging and production)
  version    print the current schema version
`

func main() {
	path := flag.String("path", "", "migrations directory (defaults to stock.migrations_path)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithValidation("migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("migrate", cfg.Server.Environment)

	migrationsPath := cfg.Stock.MigrationsPath
	if *path != "" {
		migrationsPath = *path
	}

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	migrator, err := database.NewMigrator(db, migrationsPath, log)
	if err != nil {
		db.Close()
		log.Fatal().Err(err).Msg("failed to create migrator")
	}
	// Closing the migrator closes the database handle as well
	defer migrator.Close()

	if err := run(migrator, flag.Args()); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("migration command failed")
		migrator.Close()
		os.Exit(1)
	}
}

func run(m *database.Migrator, args []string) error {
	switch args[0] {
	case "up":
		return m.Up()

	case "down":
		if config.IsProductionLike() {
			return fmt.Errorf("down migrations are disabled in %s", config.GetEnvironment())
		}
		if len(args) < 2 {
			return fmt.Errorf("down requires the number of steps")
		}
		var steps int
		if _, err := fmt.Sscanf(args[1], "%d", &steps); err != nil {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		return m.Down(steps)

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
