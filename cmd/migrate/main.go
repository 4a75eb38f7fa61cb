package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"

	"storefront/internal/pkg/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dir := flag.String("path", "migrations", "migration files directory")
	down := flag.Bool("down", false, "roll back one step")
	force := flag.Int("force", -1, "force version (clears dirty state)")
	flag.Parse()

	config.LoadConfig()
	cfg := config.GlobalConfig.Database
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)

	m, err := migrate.New("file://"+*dir, dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	if *force >= 0 {
		if err := m.Force(*force); err != nil {
			log.Fatal("Failed to force version:", err)
		}
		log.Printf("Forced version %d", *force)
		return
	}

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			log.Fatalf("Database is dirty at version %d, fix it and rerun with -force", dirty.Version)
		}
		log.Fatal(err)
	}

	version, isDirty, _ := m.Version()
	log.Printf("Migration successful, version %d (dirty=%v)", version, isDirty)
}
