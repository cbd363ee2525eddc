package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" (SQLCipher) driver
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
)

const (
	storeDBName   = "applock.db"
	schemaVersion = 1

	secretMasterHash = "master_password_hash"

	// DefaultLogLimit is used by RecentAttempts when limit <= 0.
	DefaultLogLimit = 100
)

// Store keeps settings, the master secret hash, the locked-app registry and
// the access log in one SQLite database. With a key it is opened through
// SQLCipher; without one it uses the pure-Go driver.
type Store struct {
	db         *sql.DB
	dbPath     string
	encrypted  bool
	bcryptCost int
	now        func() time.Time
}

// StoreOptions configures OpenStore.
type StoreOptions struct {
	DataDir    string
	Key        []byte // nil opens an unencrypted database
	BcryptCost int    // 0 means bcrypt.DefaultCost
}

// OpenStore opens (or creates) the store database.
func OpenStore(opts StoreOptions) (*Store, error) {
	if err := os.MkdirAll(opts.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(opts.DataDir, storeDBName)

	var (
		db  *sql.DB
		err error
	)
	if len(opts.Key) > 0 {
		dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000",
			dbPath, hex.EncodeToString(opts.Key))
		db, err = sql.Open("sqlite3", dsn)
	} else {
		db, err = sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Verify the key (or plain file) works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	s := &Store{
		db:         db,
		dbPath:     dbPath,
		encrypted:  len(opts.Key) > 0,
		bcryptCost: cost,
		now:        time.Now,
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	_ = os.Chmod(dbPath, 0600)

	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locked_apps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_key TEXT NOT NULL,
		app_name TEXT NOT NULL,
		app_kind TEXT NOT NULL DEFAULT 'exe',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS access_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_name TEXT NOT NULL,
		app_path TEXT NOT NULL,
		access_time INTEGER NOT NULL,
		access_granted INTEGER NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		user_name TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`PRAGMA user_version = ` + strconv.Itoa(schemaVersion))
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Encrypted reports whether the database is opened through SQLCipher.
func (s *Store) Encrypted() bool { return s.encrypted }

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- domain.SettingsStore implementation ---

// GetBool returns a boolean setting, or def when unset.
func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	raw, ok, err := s.getSetting(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return v, nil
}

// GetInt returns an integer setting, or def when unset.
func (s *Store) GetInt(ctx context.Context, key string, def int) (int, error) {
	raw, ok, err := s.getSetting(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting stores a validated runtime setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := domain.ValidateSetting(key, value); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return err
}

// AllSettings returns every known setting, stored values overriding defaults.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(domain.KnownSettings))
	for k, v := range domain.KnownSettings {
		out[k] = v
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) getSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// --- domain.CredentialStore implementation ---

// SetMasterSecret replaces the stored bcrypt hash.
func (s *Store) SetMasterSecret(ctx context.Context, secret string) error {
	if secret == "" {
		return fmt.Errorf("master password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash master password: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO secrets (key, value, created_at) VALUES (?, ?, ?)`,
		secretMasterHash, string(hash), s.now().Unix())
	return err
}

// HasSecret reports whether a master secret is configured.
func (s *Store) HasSecret(ctx context.Context) (bool, error) {
	_, ok, err := s.masterHash(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrVerifier, err)
	}
	return ok, nil
}

// Verify checks candidate against the stored hash.
// Without a configured secret nothing verifies.
func (s *Store) Verify(ctx context.Context, candidate string) (bool, error) {
	hash, ok, err := s.masterHash(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrVerifier, err)
	}
	if !ok {
		return false, nil
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", domain.ErrVerifier, err)
	}
}

func (s *Store) masterHash(ctx context.Context) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, secretMasterHash).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, value != "", nil
}

// --- domain.AppStore implementation ---

// AddApp stores a new locked app.
func (s *Store) AddApp(ctx context.Context, app domain.ProtectedApp) (domain.ProtectedApp, error) {
	if policy.NormalizeKey(app.Key) == "" {
		return domain.ProtectedApp{}, fmt.Errorf("app key is required")
	}
	if app.Kind == "" {
		app.Kind = domain.AppKindExecutable
	}
	if !app.Kind.Valid() {
		return domain.ProtectedApp{}, fmt.Errorf("unknown app kind: %s", app.Kind)
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locked_apps (app_key, app_name, app_kind, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		app.Key, app.DisplayName, string(app.Kind), boolToInt(app.Active), app.CreatedAt.Unix())
	if err != nil {
		return domain.ProtectedApp{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ProtectedApp{}, err
	}
	app.ID = id
	app.CreatedAt = time.Unix(app.CreatedAt.Unix(), 0)
	return app, nil
}

// RemoveApp deletes a locked app by ID.
func (s *Store) RemoveApp(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locked_apps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// SetAppActive flips is_active for a locked app.
func (s *Store) SetAppActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE locked_apps SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// ActiveApps returns active locked apps. One SELECT, so one consistent snapshot.
func (s *Store) ActiveApps(ctx context.Context) ([]domain.ProtectedApp, error) {
	return s.queryApps(ctx, `WHERE is_active = 1`)
}

// ListApps returns every locked app.
func (s *Store) ListApps(ctx context.Context) ([]domain.ProtectedApp, error) {
	return s.queryApps(ctx, ``)
}

// IsLocked reports whether an active executable entry has this path.
func (s *Store) IsLocked(ctx context.Context, path string) (bool, error) {
	apps, err := s.ActiveApps(ctx)
	if err != nil {
		return false, err
	}
	_, ok := policy.NewIndex(apps).MatchExecutable(path)
	return ok, nil
}

func (s *Store) queryApps(ctx context.Context, where string) ([]domain.ProtectedApp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_key, app_name, app_kind, is_active, created_at
		FROM locked_apps `+where+` ORDER BY app_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]domain.ProtectedApp, 0)
	for rows.Next() {
		var (
			app     domain.ProtectedApp
			kind    string
			active  int
			created int64
		)
		if err := rows.Scan(&app.ID, &app.Key, &app.DisplayName, &kind, &active, &created); err != nil {
			return nil, err
		}
		app.Kind = domain.AppKind(kind)
		app.Active = active != 0
		app.CreatedAt = time.Unix(created, 0)
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// --- domain.AuditLog / domain.AuditReader implementation ---

// LogAttempt appends one access decision.
func (s *Store) LogAttempt(ctx context.Context, e domain.AccessLogEntry) error {
	at := e.At
	if at.IsZero() {
		at = s.now()
	}
	outcome := e.Outcome
	if outcome == "" {
		outcome = domain.OutcomeDenied
		if e.Granted {
			outcome = domain.OutcomeGranted
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_logs (app_name, app_path, access_time, access_granted, outcome, reason, user_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.AppName, e.AppPath, at.UnixMilli(), boolToInt(e.Granted), string(outcome), e.Reason, e.UserName)
	if err != nil {
		return fmt.Errorf("write access log: %w", err)
	}
	return nil
}

// RecentAttempts returns the newest entries first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]domain.AccessLogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_name, app_path, access_time, access_granted, outcome, reason, user_name
		FROM access_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AccessLogEntry, 0)
	for rows.Next() {
		var (
			e       domain.AccessLogEntry
			ms      int64
			granted int
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.AppName, &e.AppPath, &ms, &granted, &outcome, &e.Reason, &e.UserName); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		e.Granted = granted != 0
		e.Outcome = domain.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearAttempts deletes the whole access log.
func (s *Store) ClearAttempts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM access_logs`)
	return err
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrAppNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure Store implements the store interfaces.
var (
	_ domain.AppStore        = (*Store)(nil)
	_ domain.SettingsStore   = (*Store)(nil)
	_ domain.CredentialStore = (*Store)(nil)
	_ domain.AuditLog        = (*Store)(nil)
	_ domain.AuditReader     = (*Store)(nil)
)
