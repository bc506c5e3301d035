package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"ecompulse.app/internal/migrate"
	"ecompulse.app/internal/obs"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("ECOMPULSE_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall deadline")
	)
	flag.Parse()
	log := obs.Logger()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or ECOMPULSE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|pending|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	mgr := migrate.NewManager(db, os.DirFS(*migrationsPath), os.DirFS(*seedsPath))

	cmd := flag.Arg(0)
	var names []string
	switch cmd {
	case "up":
		names, err = mgr.Up(ctx)
	case "seed":
		names, err = mgr.Seed(ctx)
	case "pending":
		names, err = mgr.Pending(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			log.Info("nothing to roll back")
			return
		}
		if name != "" {
			names = []string{name}
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	for _, n := range names {
		fmt.Println(n)
	}
	log.Info("migrate done", zap.String("command", cmd), zap.Int("files", len(names)))
}
