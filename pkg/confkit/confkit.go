// Package confkit holds the small helpers shared by every config loader:
// dotenv loading, path resolution and split config sections.
package confkit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeromicro/go-zero/core/conf"
)

// ResolvePath expands environment variables in file and joins it onto base
// unless it is already absolute.
func ResolvePath(base, file string) string {
	file = strings.TrimSpace(os.ExpandEnv(file))
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// BaseDir returns the directory holding the main config file.
func BaseDir(mainPath string) string {
	return filepath.Dir(mainPath)
}

// LoadFile decodes path into a new T with go-zero conf. With useEnv,
// ${VAR} references in the file are expanded first.
func LoadFile[T any](path string, useEnv bool) (*T, error) {
	var cfg T
	var opts []conf.Option
	if useEnv {
		opts = append(opts, conf.UseEnv())
	}
	if err := conf.Load(path, &cfg, opts...); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &cfg, nil
}

// Section points at a sub-config kept in its own file. Value is filled by
// Hydrate and never read from the root file.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate loads File, relative to base, with loader. An empty File is not an
// error; Value stays nil and callers fall back to defaults.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if strings.TrimSpace(s.File) == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}

// Or returns Value, or fallback when the section was not configured.
func (s *Section[T]) Or(fallback *T) *T {
	if s == nil || s.Value == nil {
		return fallback
	}
	return s.Value
}
