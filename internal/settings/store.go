package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"camwatch/internal/config"
	"camwatch/internal/services"
)

// destinationKey is the per-camera key holding the transfer destination.
const destinationKey = "dest_path"

// Store manages settings persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the settings database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.SettingsDBPath())
}

// OpenPath opens the database at path.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure settings directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Value returns the value stored under group/key.
func (s *Store) Value(ctx context.Context, group, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE grp = ? AND key = ?", group, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s/%s: %w", group, key, err)
	}
	return value, true, nil
}

// SetValue stores value under group/key, replacing any previous value.
func (s *Store) SetValue(ctx context.Context, group, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (grp, key, value, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(grp, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		group, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write setting %s/%s: %w", group, key, err)
	}
	return nil
}

// Destination returns the stored destination for the named camera.
func (s *Store) Destination(ctx context.Context, deviceName string) (string, bool, error) {
	return s.Value(ctx, strings.TrimSpace(deviceName), destinationKey)
}

// SetDestination stores the destination for the named camera. The path must
// be absolute.
func (s *Store) SetDestination(ctx context.Context, deviceName, path string) error {
	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		return services.Wrap(services.ErrValidation, "settings", "set destination", "device name required", nil)
	}
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) {
		return services.Wrap(services.ErrValidation, "settings", "set destination", fmt.Sprintf("destination %q must be absolute", path), nil)
	}
	return s.SetValue(ctx, deviceName, destinationKey, filepath.Clean(path))
}

// ResolveDestination returns the stored destination or fallback when none is
// stored. An empty result means no destination is available.
func (s *Store) ResolveDestination(ctx context.Context, deviceName, fallback string) (string, error) {
	value, ok, err := s.Destination(ctx, deviceName)
	if err != nil {
		return "", err
	}
	if ok && strings.TrimSpace(value) != "" {
		return value, nil
	}
	return strings.TrimSpace(fallback), nil
}
