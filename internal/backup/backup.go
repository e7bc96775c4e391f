// Package backup snapshots and restores the SQLite store file. Backups are
// plain file copies named hnmirror_YYYYMMDDHHMMSS.db, so they sort by time
// lexicographically.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	prefix          = "hnmirror_"
	timestampLayout = "20060102150405"
)

var (
	// ErrNotFound is returned when the live store file or a named backup
	// does not exist.
	ErrNotFound = errors.New("backup not found")
	// ErrInvalidBackup is returned when a backup fails the SQLite
	// integrity check.
	ErrInvalidBackup = errors.New("invalid backup file")
)

// Info describes one backup file.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager creates, lists, and restores store backups.
type Manager struct {
	dbPath string
	dir    string
	keep   int
	logger *slog.Logger
}

// NewManager creates a Manager for the store file at dbPath, writing
// backups into dir and keeping at most keep of them.
func NewManager(dbPath, dir string, keep int, logger *slog.Logger) *Manager {
	if keep <= 0 {
		keep = 10
	}
	return &Manager{dbPath: dbPath, dir: dir, keep: keep, logger: logger}
}

// Create copies the live store file into a timestamped backup, prunes
// backups beyond the keep count, and returns the new backup's metadata.
func (m *Manager) Create() (*Info, error) {
	if _, err := os.Stat(m.dbPath); err != nil {
		return nil, fmt.Errorf("store file %s: %w", m.dbPath, ErrNotFound)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	name := prefix + time.Now().UTC().Format(timestampLayout) + ".db"
	path := filepath.Join(m.dir, name)
	size, err := copyFile(m.dbPath, path)
	if err != nil {
		return nil, fmt.Errorf("copy store file: %w", err)
	}
	m.logger.Info("backup created", "name", name, "size_bytes", size)

	m.prune()

	return &Info{
		Name:      name,
		Path:      path,
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// List enumerates backups newest-first. Files whose names do not carry a
// parseable timestamp are skipped.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var backups []Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		createdAt, ok := parseName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Name:      e.Name(),
			Path:      filepath.Join(m.dir, e.Name()),
			Size:      fi.Size(),
			CreatedAt: createdAt,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// Restore overwrites the live store file with the named backup. The
// current live file is snapshotted first so a bad restore is recoverable.
func (m *Manager) Restore(name string) error {
	backups, err := m.List()
	if err != nil {
		return err
	}

	var found *Info
	for i := range backups {
		if backups[i].Name == name {
			found = &backups[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("backup %s: %w", name, ErrNotFound)
	}

	if err := checkIntegrity(found.Path); err != nil {
		return fmt.Errorf("backup %s: %w", name, ErrInvalidBackup)
	}

	if _, err := os.Stat(m.dbPath); err == nil {
		safety := filepath.Join(m.dir, "pre_restore_"+time.Now().UTC().Format(timestampLayout)+".db")
		if _, err := copyFile(m.dbPath, safety); err != nil {
			return fmt.Errorf("safety copy before restore: %w", err)
		}
		m.logger.Info("safety copy created", "path", safety)
	}

	if _, err := copyFile(found.Path, m.dbPath); err != nil {
		return fmt.Errorf("restore %s: %w", name, err)
	}
	m.logger.Info("store restored", "name", name)
	return nil
}

func (m *Manager) prune() {
	backups, err := m.List()
	if err != nil {
		m.logger.Warn("prune backups failed", "error", err)
		return
	}
	for _, old := range backups[min(m.keep, len(backups)):] {
		if err := os.Remove(old.Path); err != nil {
			m.logger.Warn("remove old backup failed", "name", old.Name, "error", err)
			continue
		}
		m.logger.Info("removed old backup", "name", old.Name)
	}
}

func parseName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".db") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".db")
	t, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// checkIntegrity verifies the file is a well-formed SQLite database using
// the engine's own consistency check.
func checkIntegrity(path string) error {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		return fmt.Errorf("missing or empty file %s", path)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	var result string
	if err := db.GetContext(context.Background(), &result, "PRAGMA integrity_check"); err != nil {
		return fmt.Errorf("integrity check %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check %s: %s", path, result)
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return 0, err
	}
	return n, out.Close()
}
