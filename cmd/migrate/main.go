package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/auth"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/config"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/store"
	appmigrations "github.com/DoubleG2s/agente-ia-contabilidade/migrations"
)

const usage = `usage:
  migrate [up]                      apply pending migrations
  migrate down                      roll back the last migration
  migrate force <version>           force the schema version
  migrate create-admin [flags]      create an admin user
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	databaseURL := strings.TrimSpace(cfg.Database.URL)
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	cmd := "up"
	args := []string{}
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	switch cmd {
	case "up", "down", "force":
		if err := runMigrations(databaseURL, cmd, args); err != nil {
			log.Fatal(err)
		}
	case "create-admin":
		if err := createAdmin(cfg, args); err != nil {
			log.Fatal(err)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func runMigrations(databaseURL, cmd string, args []string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch cmd {
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		fmt.Printf("forced version to %d\n", version)
		return nil
	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Println("rolled back one migration")
		return nil
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	fmt.Println("migrations complete")
	return nil
}

// createAdmin 创建管理员账号（首次部署时使用）
func createAdmin(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	email := fs.String("email", "", "admin email (required)")
	username := fs.String("username", "admin", "admin username")
	fullName := fs.String("name", "Administrador", "admin full name")
	password := fs.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password, at least 6 characters (or ADMIN_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*email) == "" {
		return errors.New("-email is required")
	}
	if utf8.RuneCountInString(*password) < 6 {
		return errors.New("password must have at least 6 characters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.ConnectPostgres(ctx, cfg.Database.URL, cfg.Retry.Policy())
	if err != nil {
		return err
	}
	defer pool.Close()
	users := store.NewUserStore(pool)

	taken, err := users.EmailTaken(ctx, *email, 0)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("email %s already registered", *email)
	}
	taken, err = users.UsernameTaken(ctx, *username)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("username %s already exists", *username)
	}

	hashed, err := auth.HashPassword(*password)
	if err != nil {
		return err
	}
	admin := &store.User{
		Email:          strings.TrimSpace(*email),
		Username:       *username,
		FullName:       *fullName,
		HashedPassword: hashed,
		Role:           auth.RoleAdmin,
		IsActive:       true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return err
	}

	fmt.Printf("admin %s created (id %d)\n", admin.Username, admin.ID)
	return nil
}
