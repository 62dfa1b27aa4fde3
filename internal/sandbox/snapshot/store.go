// Package snapshot persists what is needed to rebuild a sandbox: the stub
// modules it loaded and the undefined members it discovered. Runtime heap
// state is not captured; restoring replays the modules on a fresh runtime.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

const ext = ".json"

var (
	ErrInvalidName = errors.New("invalid snapshot name")
	ErrNotFound    = errors.New("snapshot not found")
	ErrCompression = errors.New("unsupported compression")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Snapshot is one saved sandbox description.
type Snapshot struct {
	Name           string                    `json:"name"`
	CreatedAt      time.Time                 `json:"createdAt"`
	LoadedEnvFiles []string                  `json:"loadedEnvFiles"`
	UndefinedLogs  []proxylog.UndefinedEntry `json:"undefinedLogs"`
}

// Summary is the listing form of a snapshot.
type Summary struct {
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"createdAt"`
	EnvFilesCount  int       `json:"envFilesCount"`
	UndefinedCount int       `json:"undefinedCount"`
}

// Compression selects the export encoding.
type Compression string

const (
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
)

// ParseCompression validates a compression name; empty means gzip.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "", Gzip:
		return Gzip, nil
	case Zstd:
		return Zstd, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrCompression)
}

// Store keeps snapshots as JSON files in one directory.
type Store struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore creates a store rooted at dir. The directory is created on the
// first save.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// ValidateName rejects names that could escape the directory or hide the
// file.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+ext)
}

// Save writes snap, replacing any snapshot with the same name. A zero
// CreatedAt is set to now.
func (s *Store) Save(snap Snapshot) (Snapshot, error) {
	if err := ValidateName(snap.Name); err != nil {
		return snap, err
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.LoadedEnvFiles == nil {
		snap.LoadedEnvFiles = []string{}
	}
	if snap.UndefinedLogs == nil {
		snap.UndefinedLogs = []proxylog.UndefinedEntry{}
	}

	data, err := sonic.MarshalIndent(snap, "", "  ")
	if err != nil {
		return snap, fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return snap, err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return snap, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return snap, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return snap, err
	}
	if err := os.Rename(tmp.Name(), s.path(snap.Name)); err != nil {
		os.Remove(tmp.Name())
		return snap, err
	}

	s.logger.Info("Snapshot saved",
		zap.String("name", snap.Name),
		zap.Int("envFiles", len(snap.LoadedEnvFiles)),
		zap.Int("undefined", len(snap.UndefinedLogs)),
	)
	return snap, nil
}

// Load reads the snapshot called name.
func (s *Store) Load(name string) (Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(s.path(name))
}

func (s *Store) read(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, fmt.Errorf("%s: %w", strings.TrimSuffix(filepath.Base(path), ext), ErrNotFound)
	}
	if err != nil {
		return snap, err
	}
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

// all reads every snapshot, newest first. Unreadable files are skipped.
func (s *Store) all() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ext)
		if e.IsDir() || !ok || ValidateName(name) != nil {
			continue
		}
		snap, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable snapshot", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if snap.Name == "" {
			snap.Name = name
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// List summarizes every snapshot, newest first.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps, err := s.all()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(snaps))
	for i, snap := range snaps {
		out[i] = Summary{
			Name:           snap.Name,
			CreatedAt:      snap.CreatedAt,
			EnvFilesCount:  len(snap.LoadedEnvFiles),
			UndefinedCount: len(snap.UndefinedLogs),
		}
	}
	return out, nil
}

// Delete removes the snapshot called name.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return err
}

// Bundle is the export document.
type Bundle struct {
	ExportedAt time.Time  `json:"exportedAt"`
	Snapshots  []Snapshot `json:"snapshots"`
}

// Export writes every snapshot as one compressed JSON bundle.
func (s *Store) Export(w io.Writer, c Compression) error {
	s.mu.Lock()
	snaps, err := s.all()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return WriteCompressed(w, c, Bundle{ExportedAt: time.Now().UTC(), Snapshots: snaps})
}

// WriteCompressed encodes v as JSON through the chosen compressor.
func WriteCompressed(w io.Writer, c Compression, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}

	var zw io.WriteCloser
	switch c {
	case Gzip, "":
		zw = gzip.NewWriter(w)
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		zw = enc
	default:
		return fmt.Errorf("%q: %w", c, ErrCompression)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadBundle decodes an export produced by Export.
func ReadBundle(r io.Reader, c Compression) (Bundle, error) {
	var b Bundle
	var zr io.Reader
	switch c {
	case Gzip, "":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return b, err
		}
		defer gz.Close()
		zr = gz
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return b, err
		}
		defer dec.Close()
		zr = dec
	default:
		return b, fmt.Errorf("%q: %w", c, ErrCompression)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		return b, err
	}
	if err := sonic.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("decode export: %w", err)
	}
	return b, nil
}
