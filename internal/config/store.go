package config

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/loomhq/loom/internal/model"
)

// KeyStore is the repository contract for API key records and process
// settings. Two implementations exist: the in-memory store (default, keys
// vanish on restart) and the SQLite-backed Store for durable installs.
type KeyStore interface {
	CreateKey(ctx context.Context, key *model.APIKey) error
	GetKey(ctx context.Context, id string) (*model.APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	ListKeys(ctx context.Context) ([]model.APIKey, error)
	UpdateKey(ctx context.Context, key *model.APIKey) error
	IncrementKeyUsage(ctx context.Context, id string) error
	DeleteKey(ctx context.Context, id string) error

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}

// Store manages Loom's credential state backed by SQLite. It persists API
// keys and key-value settings (instance ID, generated signing secret).
type Store struct {
	db *sqlx.DB
}

var _ KeyStore = (*Store)(nil)

// NewStore creates a new SQLite store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "loom.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// keyRow maps 1:1 to the api_keys table columns. model.APIKey carries a
// string slice of permissions that is stored as a JSON column.
type keyRow struct {
	ID              string     `db:"id"`
	Name            string     `db:"name"`
	KeyHash         string     `db:"key_hash"`
	KeyPrefix       string     `db:"key_prefix"`
	PermissionsJSON string     `db:"permissions_json"`
	Enabled         bool       `db:"enabled"`
	UsageCount      int64      `db:"usage_count"`
	UsageLimit      *int64     `db:"usage_limit"`
	ExpiresAt       *time.Time `db:"expires_at"`
	CreatedAt       time.Time  `db:"created_at"`
	LastUsedAt      *time.Time `db:"last_used_at"`
}

func keyRowFromModel(k *model.APIKey) (keyRow, error) {
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return keyRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	return keyRow{
		ID:              k.ID,
		Name:            k.Name,
		KeyHash:         k.KeyHash,
		KeyPrefix:       k.KeyPrefix,
		PermissionsJSON: string(perms),
		Enabled:         k.Enabled,
		UsageCount:      k.UsageCount,
		UsageLimit:      k.UsageLimit,
		ExpiresAt:       k.ExpiresAt,
		CreatedAt:       k.CreatedAt,
		LastUsedAt:      k.LastUsedAt,
	}, nil
}

func (r keyRow) toModel() (model.APIKey, error) {
	var perms []string
	if r.PermissionsJSON != "" {
		if err := json.Unmarshal([]byte(r.PermissionsJSON), &perms); err != nil {
			return model.APIKey{}, fmt.Errorf("unmarshal permissions: %w", err)
		}
	}
	if perms == nil {
		perms = []string{}
	}
	return model.APIKey{
		ID:          r.ID,
		Name:        r.Name,
		KeyHash:     r.KeyHash,
		KeyPrefix:   r.KeyPrefix,
		Permissions: perms,
		Enabled:     r.Enabled,
		UsageCount:  r.UsageCount,
		UsageLimit:  r.UsageLimit,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
		LastUsedAt:  r.LastUsedAt,
	}, nil
}

// CreateKey inserts a new API key record. The key_hash must already be set
// (use HashAPIKey).
func (s *Store) CreateKey(ctx context.Context, key *model.APIKey) error {
	row, err := keyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_keys
		(id, name, key_hash, key_prefix, permissions_json, enabled,
		 usage_count, usage_limit, expires_at, created_at, last_used_at)
		VALUES
		(:id, :name, :key_hash, :key_prefix, :permissions_json, :enabled,
		 :usage_count, :usage_limit, :expires_at, :created_at, :last_used_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetKey returns an API key by ID.
func (s *Store) GetKey(ctx context.Context, id string) (*model.APIKey, error) {
	var row keyRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var row keyRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE key_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListKeys returns all API keys in insertion order.
func (s *Store) ListKeys(ctx context.Context) ([]model.APIKey, error) {
	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM api_keys ORDER BY rowid"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// UpdateKey replaces the administrative fields of an existing record: name,
// permissions, enabled, limits. The ID and key hash never change after
// creation, and the usage counters are owned by IncrementKeyUsage so a
// stale read here cannot clobber concurrent metering.
func (s *Store) UpdateKey(ctx context.Context, key *model.APIKey) error {
	row, err := keyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `UPDATE api_keys SET
		name = :name, permissions_json = :permissions_json, enabled = :enabled,
		usage_limit = :usage_limit, expires_at = :expires_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementKeyUsage bumps the usage counter and last-used timestamp in a
// single statement, so concurrent requests never lose increments.
func (s *Store) IncrementKeyUsage(ctx context.Context, id string) error {
	const q = `UPDATE api_keys SET
		usage_count = usage_count + 1, last_used_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("increment api key usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment api key usage rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteKey removes an API key record by ID.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value stored under key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
