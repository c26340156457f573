// Package archive keeps a copy of every staged upload so a confirmed
// changeset can be traced back to the exact file it came from.
//
// Drivers:
//
//	fs      files under a root directory (default)
//	s3      one S3 (or S3-compatible) bucket
//	memory  process-local, for tests
//	none    archiving disabled
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Driver names an archive implementation.
type Driver string

const (
	DriverNone       Driver = "none"
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// ErrExists is returned when a key is already archived. Archives are write-once.
var ErrExists = errors.New("archive key already exists")

// Store writes archived uploads. Implements tally.UploadArchive.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Driver() Driver
}

// Config selects and configures a driver.
type Config struct {
	Driver    Driver
	FSRoot    string
	S3Bucket  string
	S3Region  string
	S3Prefix  string
	Endpoint  string // Optional, for S3-compatible services
	PathStyle bool
}

// Open returns the configured Store, or nil when archiving is disabled.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverNone:
		return nil, nil
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
}

// cleanKey rejects keys that would escape the archive root.
func cleanKey(key string) (string, error) {
	k := filepath.ToSlash(filepath.Clean("/" + key))[1:]
	if k == "" || strings.HasPrefix(k, "../") || k != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return k, nil
}

// Filesystem archives uploads under a root directory.
type Filesystem struct {
	root string
}

// NewFilesystem creates root if needed. An empty root means ./archive.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "archive"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) Driver() Driver { return DriverFilesystem }

func (f *Filesystem) Put(_ context.Context, key string, data []byte) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	path := filepath.Join(f.root, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, k)
	}
	if err != nil {
		return err
	}
	if _, err := fh.Write(data); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(f.root, filepath.FromSlash(k)))
}

// Memory is a process-local archive.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty Memory archive.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[k]; ok {
		return fmt.Errorf("%w: %s", ErrExists, k)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[k] = buf
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[k]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

// Keys lists archived keys; used by tests.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
