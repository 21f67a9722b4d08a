package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/migrate"
)

// The issuer and recorder own disjoint schemas in separate databases, so the
// runner always targets exactly one of them.
var serviceDirs = map[string]string{
	"issuer":   "ops/migrations/issuer",
	"recorder": "ops/migrations/recorder",
}

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", "", "PostgreSQL DSN (defaults to the service's EKKLESIA_*_PG_DSN)")
		service = flag.String("service", "", "Which schema to migrate: issuer or recorder")
	)
	flag.Parse()

	dir, ok := serviceDirs[*service]
	if !ok {
		log.Fatal("usage: migrate -service issuer|recorder [-dsn ...] up|status")
	}
	if *dsn == "" {
		switch *service {
		case "issuer":
			*dsn = os.Getenv("EKKLESIA_ISSUER_PG_DSN")
		case "recorder":
			*dsn = os.Getenv("EKKLESIA_RECORDER_PG_DSN")
		}
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or the service's EKKLESIA_*_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate -service issuer|recorder [-dsn ...] up|status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, dir)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
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
