package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// Setting keys.
const (
	SettingJWTSecret      = "jwt_secret"
	SettingInternalPrefix = "internal_prefix"
)

// GetSetting returns the value stored under key and whether it exists.
func GetSetting(ctx context.Context, q Querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// EnsureSetting stores value under key unless the key is already set, and
// returns whatever value is stored afterwards. INSERT OR IGNORE followed by a
// read keeps concurrent first starts from racing.
func EnsureSetting(ctx context.Context, q Querier, key, value string) (string, error) {
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value,
	); err != nil {
		return "", fmt.Errorf("storing setting %s: %w", key, err)
	}

	stored, _, err := GetSetting(ctx, q, key)
	return stored, err
}

// GetJWTSecret returns the token signing secret, generating and persisting
// one on first use.
func GetJWTSecret(ctx context.Context, q Querier) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	return EnsureSetting(ctx, q, SettingJWTSecret, hex.EncodeToString(buf))
}

// PinInternalPrefix records the internal barcode prefix the first time the
// database is used and returns the recorded one. Printed labels carry the
// prefix, so a later configuration change must not silently orphan them.
func PinInternalPrefix(ctx context.Context, q Querier, prefix string) (string, error) {
	return EnsureSetting(ctx, q, SettingInternalPrefix, prefix)
}
