package migration

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Entry is a raw candidate read from a Source: the file name and its body.
type Entry struct {
	Name string
	Body string
}

// Source reads migration files from a directory on an afero filesystem.
type Source struct {
	fs  afero.Fs
	dir string
}

// NewSource returns a Source reading dir on fsys. Use afero.NewMemMapFs for
// tests and afero.NewOsFs for real directories.
func NewSource(fsys afero.Fs, dir string) *Source {
	return &Source{fs: fsys, dir: dir}
}

// NewDirSource returns a Source reading dir on the OS filesystem.
func NewDirSource(dir string) *Source {
	return NewSource(afero.NewOsFs(), dir)
}

// NewEmbedSource returns a Source over an io/fs filesystem, typically an
// embed.FS compiled into the binary:
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	src := migration.NewEmbedSource(migrations, "migrations")
func NewEmbedSource(fsys fs.FS, dir string) *Source {
	return NewSource(afero.FromIOFS{FS: fsys}, dir)
}

// Dir returns the directory the source reads from.
func (s *Source) Dir() string {
	return s.dir
}

// Entries lists the directory and returns every *.sql file whose name has a
// numeric sequence prefix, in directory order. Other files and
// subdirectories are left out.
//
// A directory that cannot be listed yields ErrSourceUnavailable. A listed
// file that cannot be read, or whose sequence number overflows int64,
// yields ErrDefinitionUnreadable.
func (s *Source) Entries(ctx context.Context) ([]Entry, error) {
	names, err := s.candidates()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := afero.ReadFile(s.fs, s.join(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDefinitionUnreadable, name, err)
		}
		entries = append(entries, Entry{Name: name, Body: string(body)})
	}
	return entries, nil
}

// Excluded returns the names of entries in the directory that are not
// migrations: wrong extension or no numeric prefix. Subdirectories are
// listed with a trailing slash.
func (s *Source) Excluded() ([]string, error) {
	infos, err := s.list()
	if err != nil {
		return nil, err
	}
	var excluded []string
	for _, info := range infos {
		switch {
		case info.IsDir():
			excluded = append(excluded, info.Name()+"/")
		case isMigrationFile(info.Name()), isOversizedSequence(info.Name()):
		default:
			excluded = append(excluded, info.Name())
		}
	}
	return excluded, nil
}

func (s *Source) candidates() ([]string, error) {
	infos, err := s.list()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if isOversizedSequence(info.Name()) {
			return nil, fmt.Errorf("%w: %s: sequence number does not fit in 64 bits", ErrDefinitionUnreadable, info.Name())
		}
		if !isMigrationFile(info.Name()) {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

func (s *Source) list() ([]fs.FileInfo, error) {
	info, err := s.fs.Stat(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, s.dir)
	}
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.dir, err)
	}
	return infos, nil
}

// join builds a path the underlying filesystem understands. io/fs
// filesystems only accept slash-separated paths.
func (s *Source) join(name string) string {
	if _, ok := s.fs.(afero.FromIOFS); ok {
		return path.Join(s.dir, name)
	}
	return filepath.Join(s.dir, name)
}

// isOversizedSequence reports whether name follows the migration naming
// convention but its sequence number overflows int64.
func isOversizedSequence(name string) bool {
	if !strings.EqualFold(path.Ext(name), ".sql") {
		return false
	}
	digits, ok := sequencePrefix(name)
	if !ok {
		return false
	}
	_, ok = ParseSequence(digits)
	return !ok
}

func isMigrationFile(name string) bool {
	if !strings.EqualFold(path.Ext(name), ".sql") {
		return false
	}
	_, ok := ParseSequence(name)
	return ok
}
