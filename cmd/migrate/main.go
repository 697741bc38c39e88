package main

import (
	"context"
	"database/sql"
	"flag"
	"log"

	"rifa-service/internal/config"
	"rifa-service/internal/database/migrations"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	dir := flag.String("dir", "./migrations", "directory with the SQL migration files")
	seed := flag.Bool("seed", true, "seed the ticket grid after creating the schema")
	down := flag.Bool("down", false, "roll back all migrations instead of applying them")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqldb.Close()

	if err := sqldb.PingContext(context.Background()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(db, migrations.Options{
		Dir:         *dir,
		SeedTickets: *seed,
	})
	defer runner.Close()

	if *down {
		log.Println("Rolling back all migrations...")
		if err := runner.Down(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Done.")
		return
	}

	log.Println("Applying migrations...")
	if err := runner.Run(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	version, err := runner.Version()
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	log.Printf("Done. Schema version: %d", version)
}
