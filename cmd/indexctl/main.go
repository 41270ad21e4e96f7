// Command indexctl is the operator-facing counterpart to indexnoded: a
// migrate subcommand that points golang-migrate at the same migrations
// directory indexnoded embeds, for operators who need to roll a schema
// version back rather than only forward. Mirrors the teacher's own split
// between a bespoke embed-based applier for runtime startup and a declared
// golang-migrate dependency for operator tooling.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/subgraphd/indexnode/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "migrate":
		runMigrate(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: indexctl migrate [-dsn DSN] [-dir PATH] [-steps N] up|down|version")
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN (defaults to DATABASE_URL)")
	dir := fs.String("dir", "internal/platform/migrations", "path to the migrations directory")
	steps := fs.Int("steps", 0, "number of steps for up/down (0 = all)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	resolvedDSN := *dsn
	if resolvedDSN == "" {
		cfg, err := config.Load()
		if err == nil {
			resolvedDSN = cfg.Database.DSN
		}
	}
	if resolvedDSN == "" {
		fmt.Fprintln(os.Stderr, "indexctl migrate: no DSN configured (pass -dsn or set DATABASE_URL)")
		os.Exit(1)
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *dir), resolvedDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexctl migrate: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch fs.Arg(0) {
	case "up":
		if *steps == 0 {
			err = m.Up()
		} else {
			err = m.Steps(*steps)
		}
	case "down":
		if *steps == 0 {
			err = m.Down()
		} else {
			err = m.Steps(-*steps)
		}
	case "version":
		version, dirty, vErr := m.Version()
		if vErr != nil {
			err = vErr
			break
		}
		fmt.Printf("version %d dirty=%v\n", version, dirty)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "indexctl migrate: %v\n", err)
		os.Exit(1)
	}
}
