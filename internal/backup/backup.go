// Package backup creates, lists and restores database snapshots. MySQL is
// dumped with mysqldump; SQLite is copied with VACUUM INTO.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"zonemarket/internal/config"
	"zonemarket/internal/logger"
)

const (
	filePrefix      = "backup_"
	timestampLayout = "2006-01-02_150405"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Backup is one snapshot file in the backup directory.
type Backup struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// HumanSize returns the size in human units, e.g. "1.2 MB".
func (b Backup) HumanSize() string {
	return humanize.Bytes(uint64(b.Size))
}

// Manager owns the backup directory of one database.
type Manager struct {
	cfg config.Config
	db  *sql.DB
	now func() time.Time

	// 外部コマンド (テストで差し替える)
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New returns a Manager. db is only needed to create SQLite backups.
func New(cfg config.Config, db *sql.DB) *Manager {
	return &Manager{cfg: cfg, db: db, now: time.Now, command: exec.CommandContext}
}

func (m *Manager) ext() string {
	if m.cfg.DBDriver == "sqlite3" {
		return ".db"
	}
	return ".sql"
}

// fileName builds backup_[name_]<timestamp><ext>.
func (m *Manager) fileName(name string) string {
	ts := m.now().UTC().Format(timestampLayout)
	if name == "" {
		return filePrefix + ts + m.ext()
	}
	return filePrefix + name + "_" + ts + m.ext()
}

// Create writes a new snapshot and prunes old ones beyond the configured keep count.
func (m *Manager) Create(ctx context.Context, name string) (*Backup, error) {
	if name != "" && !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid backup name %q: use letters, digits, '-' or '_'", name)
	}
	if err := os.MkdirAll(m.cfg.BackupDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "backup.Create.MkdirAll")
	}
	path := filepath.Join(m.cfg.BackupDir, m.fileName(name))

	var err error
	switch m.cfg.DBDriver {
	case "sqlite3":
		err = m.vacuumInto(ctx, path)
	case "mysql":
		err = m.mysqldump(ctx, path)
	default:
		err = fmt.Errorf("unsupported driver %q", m.cfg.DBDriver)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	b, err := stat(path)
	if err != nil {
		return nil, err
	}
	logger.Infof("[backup] ✅ Created %s (%s)", b.Name, b.HumanSize())

	removed, err := m.Prune()
	if err != nil {
		return b, err
	}
	if removed > 0 {
		logger.Infof("[backup] 🗑️ Removed %d old backups", removed)
	}
	return b, nil
}

func (m *Manager) vacuumInto(ctx context.Context, path string) error {
	if m.db == nil {
		return fmt.Errorf("no database connection")
	}
	_, err := m.db.ExecContext(ctx, "VACUUM INTO ?", path)
	return errors.Wrap(err, "backup.vacuumInto")
}

func (m *Manager) connArgs() []string {
	return []string{
		"--host=" + m.cfg.DBHost,
		"--port=" + m.cfg.DBPort,
		"--user=" + m.cfg.DBUser,
	}
}

// dumpArgs returns the mysqldump arguments for a consistent plain-SQL dump.
func (m *Manager) dumpArgs(path string) []string {
	return append(m.connArgs(), "--single-transaction", "--routines", "--result-file="+path, m.cfg.DBName)
}

func (m *Manager) passwordEnv() []string {
	// パスワードはコマンドライン引数に出さない
	return append(os.Environ(), "MYSQL_PWD="+m.cfg.DBPassword)
}

func (m *Manager) mysqldump(ctx context.Context, path string) error {
	cmd := m.command(ctx, "mysqldump", m.dumpArgs(path)...)
	cmd.Env = m.passwordEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "mysqldump: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func stat(path string) (*Backup, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "backup.stat")
	}
	created, ok := stampOf(fi.Name())
	if !ok {
		created = fi.ModTime()
	}
	return &Backup{Name: fi.Name(), Path: path, Size: fi.Size(), CreatedAt: created}, nil
}

// stampOf parses the UTC timestamp that fileName puts before the extension.
func stampOf(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if len(base) < len(timestampLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(timestampLayout, base[len(base)-len(timestampLayout):])
	return t, err == nil
}

// List returns the snapshots of the current driver, newest first.
func (m *Manager) List() ([]Backup, error) {
	matches, err := filepath.Glob(filepath.Join(m.cfg.BackupDir, filePrefix+"*"+m.ext()))
	if err != nil {
		return nil, errors.Wrap(err, "backup.List")
	}
	list := make([]Backup, 0, len(matches))
	for _, path := range matches {
		b, err := stat(path)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].Name > list[j].Name
	})
	return list, nil
}

// Prune deletes the oldest snapshots so that at most BackupKeep remain.
// A keep count of zero or less disables pruning.
func (m *Manager) Prune() (int, error) {
	keep := m.cfg.BackupKeep
	if keep <= 0 {
		return 0, nil
	}
	list, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(list) <= keep {
		return 0, nil
	}
	removed := 0
	for _, b := range list[keep:] {
		if err := os.Remove(b.Path); err != nil {
			return removed, errors.Wrap(err, "backup.Prune")
		}
		removed++
	}
	return removed, nil
}

// Resolve returns the snapshot called file in the backup directory.
func (m *Manager) Resolve(file string) (*Backup, error) {
	if file == "" || filepath.Base(file) != file {
		return nil, fmt.Errorf("invalid backup file %q", file)
	}
	b, err := stat(filepath.Join(m.cfg.BackupDir, file))
	if os.IsNotExist(errors.Cause(err)) {
		return nil, fmt.Errorf("backup not found: %s", file)
	}
	return b, err
}

// Restore overwrites the database with the snapshot called file. For SQLite
// the database file is replaced, so every connection to it must be closed.
func (m *Manager) Restore(ctx context.Context, file string) error {
	b, err := m.Resolve(file)
	if err != nil {
		return err
	}
	switch m.cfg.DBDriver {
	case "sqlite3":
		err = m.replaceFile(b.Path)
	case "mysql":
		err = m.mysqlRestore(ctx, b.Path)
	default:
		err = fmt.Errorf("unsupported driver %q", m.cfg.DBDriver)
	}
	if err != nil {
		return err
	}
	logger.Infof("[backup] ✅ Restored database from %s", b.Name)
	return nil
}

func (m *Manager) mysqlRestore(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "backup.mysqlRestore.Open")
	}
	defer f.Close()

	cmd := m.command(ctx, "mysql", append(m.connArgs(), m.cfg.DBName)...)
	cmd.Env = m.passwordEnv()
	cmd.Stdin = f
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "mysql: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// replaceFile copies src over the SQLite database through a temp file and a rename.
func (m *Manager) replaceFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "backup.replaceFile.Open")
	}
	defer in.Close()

	dst := m.cfg.DBPath
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return errors.Wrap(err, "backup.replaceFile.CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return errors.Wrap(err, "backup.replaceFile.Copy")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "backup.replaceFile.Close")
	}
	// 古い WAL が新しいファイルに適用されないように削除する
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "backup.replaceFile.RemoveWAL")
		}
	}
	return errors.Wrap(os.Rename(tmp.Name(), dst), "backup.replaceFile.Rename")
}
