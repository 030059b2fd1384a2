package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrDuplicateID indicates two files map to the same script identifier.
var ErrDuplicateID = errors.New("duplicate script identifier")

// ErrInvalidEnvironment indicates an environment name that cannot be used
// as a single seeds subdirectory.
var ErrInvalidEnvironment = errors.New("invalid environment name")

const (
	sqlSuffix  = ".sql"
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Source enumerates the scripts of one ledger scope. Implementations are
// re-read on every run; nothing is cached between runs.
type Source interface {
	Scripts(scope Scope) ([]Script, error)
}

// Dirs reads migrations from Migrations and seeds from Seeds/<environment>
// on the local file system.
type Dirs struct {
	Migrations string
	Seeds      string
}

// Scripts implements Source.
func (d Dirs) Scripts(scope Scope) ([]Script, error) {
	switch scope.Phase {
	case PhaseMigration:
		return LoadMigrations(d.Migrations)
	case PhaseSeed:
		return LoadSeeds(d.Seeds, scope.Environment)
	default:
		return nil, fmt.Errorf("unknown script phase %q", scope.Phase)
	}
}

// FSSource reads scripts from an fs.FS, e.g. an embed.FS compiled into the
// service binary. Migrations and Seeds are slash-separated paths inside FS.
type FSSource struct {
	FS         fs.FS
	Migrations string
	Seeds      string
}

// Scripts implements Source.
func (s FSSource) Scripts(scope Scope) ([]Script, error) {
	switch scope.Phase {
	case PhaseMigration:
		return LoadFS(s.FS, s.Migrations, scope)
	case PhaseSeed:
		if err := ValidateEnvironment(scope.Environment); err != nil {
			return nil, err
		}

		return LoadFS(s.FS, path.Join(s.Seeds, scope.Environment), scope)
	default:
		return nil, fmt.Errorf("unknown script phase %q", scope.Phase)
	}
}

// LoadMigrations returns the migration scripts in dir sorted by identifier.
// A missing directory yields no scripts and no error.
func LoadMigrations(dir string) ([]Script, error) {
	return loadDir(dir, Scope{Phase: PhaseMigration})
}

// LoadSeeds returns the seed scripts in dir/<env> sorted by identifier.
// A missing directory yields no scripts and no error.
func LoadSeeds(dir, env string) ([]Script, error) {
	if err := ValidateEnvironment(env); err != nil {
		return nil, err
	}

	return loadDir(filepath.Join(dir, env), Scope{Phase: PhaseSeed, Environment: env})
}

// ValidateEnvironment rejects names that would escape the seeds directory.
func ValidateEnvironment(env string) error {
	if env == "" || env == "." || env == ".." || strings.ContainsAny(env, `/\`) || !fs.ValidPath(env) {
		return fmt.Errorf("%w: %q", ErrInvalidEnvironment, env)
	}

	return nil
}

func loadDir(dir string, scope Scope) ([]Script, error) {
	if dir == "" {
		return nil, nil
	}

	scripts, err := load(os.DirFS(dir), ".", scope, func(name string) string {
		return filepath.Join(dir, name)
	})
	if err != nil {
		return nil, fmt.Errorf("reading scripts directory %s: %w", dir, err)
	}

	return scripts, nil
}

// LoadFS returns the scripts stored directly under dir in fsys, sorted by
// identifier. A missing directory yields no scripts and no error.
func LoadFS(fsys fs.FS, dir string, scope Scope) ([]Script, error) {
	if dir == "" {
		dir = "."
	}

	scripts, err := load(fsys, dir, scope, func(name string) string {
		return path.Join(dir, name)
	})
	if err != nil {
		return nil, fmt.Errorf("reading scripts directory %s: %w", dir, err)
	}

	return scripts, nil
}

func load(fsys fs.FS, dir string, scope Scope, displayPath func(string) string) ([]Script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var scripts []Script

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		id, ok := Identifier(entry.Name())
		if !ok {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading script file %s: %w", displayPath(entry.Name()), err)
		}

		body := strings.TrimSpace(string(data))

		scripts = append(scripts, Script{
			ID:          id,
			Phase:       scope.Phase,
			Environment: scope.Environment,
			Body:        body,
			Checksum:    ComputeChecksum(body),
			FilePath:    displayPath(entry.Name()),
		})
	}

	sorted := Sort(scripts)
	if err := CheckUnique(sorted); err != nil {
		return nil, err
	}

	return sorted, nil
}

// Identifier derives the script identifier from a file name. Hidden files,
// non-SQL files and .down.sql files (the manual rollback set) are not
// scripts.
func Identifier(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, sqlSuffix) {
		return "", false
	}

	if strings.HasSuffix(name, downSuffix) {
		return "", false
	}

	id := strings.TrimSuffix(name, upSuffix)
	if id == name {
		id = strings.TrimSuffix(name, sqlSuffix)
	}

	if id == "" {
		return "", false
	}

	return id, true
}
