// Package loader resolves template names to template source.
package loader

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrNotFound matches every ErrTemplateNotFound with errors.Is.
var ErrNotFound = errors.New("template not found")

// Loader returns the source of a named template.
type Loader interface {
	Load(name string) (string, error)
}

// ErrTemplateNotFound is returned when no loader knows a template.
type ErrTemplateNotFound struct{ Name string }

func (e ErrTemplateNotFound) Error() string { return "template not found: " + e.Name }

func (e ErrTemplateNotFound) Is(target error) bool { return target == ErrNotFound }

// MemoryLoader serves templates from a map of name to source.
type MemoryLoader map[string]string

func (m MemoryLoader) Load(name string) (string, error) {
	if s, ok := m[name]; ok {
		return s, nil
	}
	return "", ErrTemplateNotFound{name}
}

// FSLoader reads templates below Root on an afero filesystem. Names are
// slash separated and may not leave Root.
type FSLoader struct {
	Fs   afero.Fs
	Root string
}

// NewFSLoader returns a loader reading from dir on the host filesystem.
func NewFSLoader(dir string) *FSLoader {
	return &FSLoader{Fs: afero.NewOsFs(), Root: dir}
}

func (l *FSLoader) Load(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", pkgerrors.Errorf("invalid template name %q", name)
	}
	rel := path.Clean(strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", pkgerrors.Errorf("template name %q leaves the template directory", name)
	}
	p := filepath.Join(l.Root, filepath.FromSlash(rel))

	data, err := afero.ReadFile(l.Fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrTemplateNotFound{name}
		}
		return "", pkgerrors.Wrapf(err, "can't read template %q", name)
	}
	return string(data), nil
}

// ChainLoader asks each loader in turn. Only a not found answer moves on to
// the next loader.
type ChainLoader []Loader

func (c ChainLoader) Load(name string) (string, error) {
	for _, l := range c {
		s, err := l.Load(name)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrTemplateNotFound{name}
}
