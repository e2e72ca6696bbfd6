package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

type fileManager struct {
	fs   afero.Fs
	path string
}

// NewFile stores the last published IP as a single line of text at path.
func NewFile(path string) Manager {
	return NewFileFs(afero.NewOsFs(), path)
}

// NewFileFs is NewFile on an arbitrary filesystem.
func NewFileFs(fsys afero.Fs, path string) Manager {
	return &fileManager{fs: fsys, path: path}
}

func (m *fileManager) LoadState(ctx context.Context) (State, error) {
	body, err := afero.ReadFile(m.fs, m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file %s: %w", m.path, err)
	}

	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return State{}, ErrNotFound
	}

	state := State{LastPublishedIP: ip}
	if info, err := m.fs.Stat(m.path); err == nil {
		state.UpdatedAt = info.ModTime()
	}
	return state, nil
}

// SaveState replaces the file contents whole by writing a sibling temp file
// and renaming it over the target.
func (m *fileManager) SaveState(ctx context.Context, state State) error {
	if dir := filepath.Dir(m.path); dir != "." {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir %s: %w", dir, err)
		}
	}

	tmp := m.path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, []byte(state.LastPublishedIP+"\n"), 0o644); err != nil {
		return fmt.Errorf("write state file %s: %w", tmp, err)
	}
	if err := m.fs.Rename(tmp, m.path); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("replace state file %s: %w", m.path, err)
	}
	return nil
}

func (m *fileManager) Close() error {
	return nil
}
