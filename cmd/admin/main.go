package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/conductor/internal/infra/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres connection string")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: admin [-dsn url] up|down|status|version")
	}
	flag.Parse()
	if flag.NArg() != 1 || *dsn == "" {
		flag.Usage()
		os.Exit(2)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err := postgres.SetupGoose(); err != nil {
		panic(err)
	}

	ctx := context.Background()
	command := flag.Arg(0)
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, postgres.MigrationsDir)
	case "down":
		err = goose.DownContext(ctx, db, postgres.MigrationsDir)
	case "status":
		err = goose.StatusContext(ctx, db, postgres.MigrationsDir)
	case "version":
		err = goose.VersionContext(ctx, db, postgres.MigrationsDir)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Successfully ran %s\n", command)
}
