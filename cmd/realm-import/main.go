// Command realm-import loads realm export files into the identity schema read
// by user-search.
//
//	realm-import --database-url postgres://... --migrate demo-realm.json demo-users-0.json.gz
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/user-search/internal/realmexport"
	"github.com/xenking/user-search/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		migrate     bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&migrate, "migrate", false, "create the identity schema before importing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] export.json[.gz]...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, migrate, flag.Args()); err != nil {
		lg.Fatal("Import failed", zap.Error(err))
	}
	lg.Info("Import completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, migrate bool, files []string) error {
	lg.Info("Reading exports", zap.Strings("files", files))
	realms, err := realmexport.Load(ctx, files)
	if err != nil {
		return errors.Wrap(err, "load exports")
	}

	pool, err := postgres.NewPool(ctx, databaseURL, false)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if migrate {
		lg.Info("Running migrations")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return err
		}
	}

	stats, err := postgres.Import(ctx, pool, realms)
	if err != nil {
		return errors.Wrap(err, "import")
	}
	lg.Info("Imported",
		zap.Int("realms", stats.Realms),
		zap.Int("groups", stats.Groups),
		zap.Int("users", stats.Users),
		zap.Int("memberships", stats.Memberships),
	)
	return nil
}
