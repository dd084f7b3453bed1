package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kilit.org/internal/migrate"
	"kilit.org/ops"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("KILIT_PG_DSN"), "PostgreSQL DSN")
		fromDir = flag.String("dir", "", "Read migrations from this directory instead of the embedded copies (expects <dir>/sql and <dir>/seeds)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or KILIT_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	// The embedded copies keep the binary self-contained; -dir is for
	// trying out SQL that is not committed yet.
	var (
		fsys          fs.FS = ops.Migrations
		migrationsDir       = "migrations/sql"
		seedsDir            = "migrations/seeds"
	)
	if *fromDir != "" {
		fsys = os.DirFS(*fromDir)
		migrationsDir = "sql"
		seedsDir = "seeds"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, fsys, migrationsDir, seedsDir)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
