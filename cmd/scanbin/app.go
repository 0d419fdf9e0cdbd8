package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/scanbin/internal/action"
	"github.com/erazemk/scanbin/internal/barcode"
	"github.com/erazemk/scanbin/internal/clock"
	"github.com/erazemk/scanbin/internal/config"
	"github.com/erazemk/scanbin/internal/db"
	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/scan"
	"github.com/erazemk/scanbin/internal/store"
	"github.com/erazemk/scanbin/internal/tree"
)

// app is the wired core shared by serve and station.
type app struct {
	db    *sql.DB
	tree  *tree.Manager
	scans *scan.Service
	close func()
}

// openDatabase opens and migrates the database at path.
func openDatabase(path string) (*sql.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// newApp opens the database and wires the tree, the action registry and
// the scan service. The caller must call app.close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	database, err := openDatabase(cfg.DB)
	if err != nil {
		return nil, err
	}
	slog.Info("database ready", "path", cfg.DB)

	a, err := wire(ctx, cfg, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, database *sql.DB) (*app, error) {
	// Existing labels carry the prefix the database was first used with.
	prefix, err := store.PinInternalPrefix(ctx, database, cfg.Barcode.InternalPrefix)
	if err != nil {
		return nil, err
	}
	if prefix != cfg.Barcode.InternalPrefix {
		slog.Warn("configured internal prefix differs from the one in use, keeping the stored one",
			"configured", cfg.Barcode.InternalPrefix, "stored", prefix)
	}

	classifier, err := barcode.NewClassifier(prefix, cfg.Barcode.ActionPrefix)
	if err != nil {
		return nil, fmt.Errorf("barcode prefixes: %w", err)
	}
	policy, err := tree.ParseDeletePolicy(cfg.Tree.DeletePolicy)
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.Session.TTLDuration()
	if err != nil {
		return nil, err
	}

	mgr := tree.NewManager(database,
		tree.WithDeletePolicy(policy),
		tree.WithInternalPrefix(classifier.InternalPrefix()),
	)
	registry, err := action.NewRegistry(action.Builtins(mgr)...)
	if err != nil {
		return nil, err
	}

	sessions, closeSessions := sessionStore(ctx, cfg.Session, ttl)
	svc := scan.NewService(classifier, mgr, registry, sessions, clock.Real{}, scan.UUIDGenerator{}, slog.Default())

	return &app{
		db:    database,
		tree:  mgr,
		scans: svc,
		close: func() {
			closeSessions()
			database.Close()
		},
	}, nil
}

// sessionStore returns the Redis store if one is configured and reachable,
// otherwise the in-memory store.
func sessionStore(ctx context.Context, cfg config.SessionConfig, ttl time.Duration) (scan.Store, func()) {
	if cfg.RedisAddr == "" {
		return scan.NewMemoryStore(ttl, clock.Real{}), func() {}
	}

	client, err := scan.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("redis unavailable, keeping scan sessions in memory", "addr", cfg.RedisAddr, "error", err)
		return scan.NewMemoryStore(ttl, clock.Real{}), func() {}
	}
	slog.Info("scan sessions stored in redis", "addr", cfg.RedisAddr)
	return scan.NewRedisStore(client, ttl), func() { client.Close() }
}

// initDatabase creates a new database at path with an admin account and
// returns the generated password. It refuses to touch an existing file.
func initDatabase(ctx context.Context, path, adminUsername string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("database file %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	database, err := openDatabase(path)
	if err != nil {
		os.Remove(path)
		return "", err
	}
	defer database.Close()

	password, err := generatePassword(16)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("generating password: %w", err)
	}

	if _, err := createUser(ctx, database, adminUsername, password, model.RoleAdmin); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("creating admin user: %w", err)
	}
	return password, nil
}

func createUser(ctx context.Context, q store.Querier, username, password, role string) (*model.User, error) {
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if err := model.ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	user, err := store.CreateUser(ctx, q, username, string(hash), role)
	if store.IsUniqueViolation(err) {
		return nil, fmt.Errorf("user %s already exists", username)
	}
	return user, err
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(dbPath, username, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
