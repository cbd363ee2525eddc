package infra

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	backupManifestName = "manifest.json"
	backupKeyName      = "applock.key"
)

// BackupManifest describes a store backup directory.
type BackupManifest struct {
	CreatedAt time.Time `json:"created_at"`
	Encrypted bool      `json:"encrypted"`
	Database  string    `json:"database"`
	SHA256    string    `json:"sha256"`
	KeyFile   string    `json:"key_file,omitempty"`
	KeySHA256 string    `json:"key_sha256,omitempty"`
}

// Backup copies the database (and key file, for encrypted stores) into dir
// and writes a manifest with checksums. Writers from other processes are
// held off for the duration of the copy.
func (s *Store) Backup(ctx context.Context, dir, keyPath string) (*BackupManifest, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("failed to lock store: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "ROLLBACK") }()

	dbDst := filepath.Join(dir, storeDBName)
	if err := copyFile(s.dbPath, dbDst); err != nil {
		return nil, fmt.Errorf("failed to copy database: %w", err)
	}
	sum, err := computeSHA256(dbDst)
	if err != nil {
		return nil, err
	}

	m := &BackupManifest{
		CreatedAt: s.now().UTC(),
		Encrypted: s.encrypted,
		Database:  storeDBName,
		SHA256:    sum,
	}

	if s.encrypted && keyPath != "" {
		keyDst := filepath.Join(dir, backupKeyName)
		if err := copyFile(keyPath, keyDst); err != nil {
			return nil, fmt.Errorf("failed to copy key: %w", err)
		}
		if err := os.Chmod(keyDst, 0600); err != nil {
			return nil, err
		}
		if m.KeySHA256, err = computeSHA256(keyDst); err != nil {
			return nil, err
		}
		m.KeyFile = backupKeyName
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(filepath.Join(dir, backupManifestName), data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return m, nil
}

// VerifyBackup checks a backup directory's files against its manifest.
func VerifyBackup(dir string) (*BackupManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, backupManifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m BackupManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := verifyChecksum(filepath.Join(dir, m.Database), m.SHA256); err != nil {
		return nil, err
	}
	if m.KeyFile != "" {
		if err := verifyChecksum(filepath.Join(dir, m.KeyFile), m.KeySHA256); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func verifyChecksum(path, want string) error {
	got, err := computeSHA256(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", filepath.Base(path), got, want)
	}
	return nil
}

// computeSHA256 calculates SHA256 hash of a file
func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile copies src to dst through a synced temp file and a rename.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".applock-copy-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true
	return nil
}
