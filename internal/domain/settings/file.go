package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Format is an on-disk encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the encoding from the file extension; JSON is the fallback.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

func (f Format) encode(s Settings) ([]byte, error) {
	switch f {
	case FormatYAML:
		return yaml.Marshal(s)
	case FormatTOML:
		return toml.Marshal(s)
	default:
		return sonic.MarshalIndent(s, "", "  ")
	}
}

// decode reads data over the defaults so partial files keep every other key.
func (f Format) decode(data []byte) (Settings, error) {
	s := Defaults()
	var err error
	switch f {
	case FormatYAML:
		err = yaml.Unmarshal(data, &s)
	case FormatTOML:
		err = toml.Unmarshal(data, &s)
	default:
		err = sonic.Unmarshal(data, &s)
	}
	return s, err
}

// FileStore persists settings in a single file. A missing file reads as the
// defaults and is created on the first Set.
type FileStore struct {
	path   string
	format Format

	mu     sync.Mutex
	cached *Settings // Protected by mu
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, format: FormatForPath(path)}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Get implements Reader.
func (f *FileStore) Get(ctx context.Context, keys ...string) (Values, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.loadLocked()
	if err != nil {
		return nil, err
	}
	return s.Values().Select(keys...), nil
}

// Set implements Store.
func (f *FileStore) Set(ctx context.Context, partial Values) (Values, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked()
	if err != nil {
		return nil, err
	}
	next, err := current.Apply(partial)
	if err != nil {
		return nil, err
	}
	if err := f.writeLocked(next); err != nil {
		return nil, err
	}
	f.cached = &next
	return next.Values(), nil
}

// Reload drops the cache so the next read goes to disk.
func (f *FileStore) Reload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = nil
}

func (f *FileStore) loadLocked() (Settings, error) {
	if f.cached != nil {
		return *f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		s := Defaults()
		f.cached = &s
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", f.path, err)
	}

	s, err := f.format.decode(data)
	if err != nil {
		return Settings{}, fmt.Errorf("parse %s settings %s: %w", f.format, f.path, err)
	}
	f.cached = &s
	return s, nil
}

func (f *FileStore) writeLocked(s Settings) error {
	data, err := f.format.encode(s)
	if err != nil {
		return fmt.Errorf("encode %s settings: %w", f.format, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// MemoryStore keeps settings in memory.
type MemoryStore struct {
	mu       sync.Mutex
	settings Settings // Protected by mu
}

// NewMemoryStore starts from s.
func NewMemoryStore(s Settings) *MemoryStore {
	return &MemoryStore{settings: s}
}

// Get implements Reader.
func (m *MemoryStore) Get(ctx context.Context, keys ...string) (Values, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.Values().Select(keys...), nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, partial Values) (Values, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.settings.Apply(partial)
	if err != nil {
		return nil, err
	}
	m.settings = next
	return next.Values(), nil
}
