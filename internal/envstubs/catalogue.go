package envstubs

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

//go:embed defaults
var defaultFS embed.FS

// Categories in load order.
const (
	CategoryCore     = "core"
	CategoryBOM      = "bom"
	CategoryDOM      = "dom"
	CategoryWebAPI   = "webapi"
	CategoryEncoding = "encoding"
	CategoryTimer    = "timer"
	CategoryPatches  = "ai-generated"
)

var categories = []string{
	CategoryCore,
	CategoryBOM,
	CategoryDOM,
	CategoryWebAPI,
	CategoryEncoding,
	CategoryTimer,
	CategoryPatches,
}

// Files that load ahead of the rest of their category, in this order.
var leading = map[string][]string{
	CategoryCore: {"EnvMonitor.js"},
	CategoryDOM:  {"event.js", "document.js", "elements.js"},
}

// MaxFileSize caps modules written through the catalogue.
const MaxFileSize = 1 << 20

var (
	ErrNotFound   = errors.New("environment file not found")
	ErrInvalidID  = errors.New("invalid environment file identifier")
	ErrReadOnly   = errors.New("environment directory not configured")
	ErrTooLarge   = errors.New("environment file too large")
	ErrNotText    = errors.New("environment file is not text")
	ErrProtected  = errors.New("only ai-generated files can be deleted")
	ErrOutsideDir = errors.New("path escapes the environment directory")
)

// Origin tells where a module's source comes from.
type Origin string

const (
	OriginEmbedded Origin = "embedded"
	OriginDisk     Origin = "disk"
)

// Entry describes one module without its source.
type Entry struct {
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Origin   Origin    `json:"origin"`
	ModTime  time.Time `json:"modTime,omitempty"`
}

// Module is a loadable stub. Patch is set for ai-generated modules.
type Module struct {
	Entry
	Source string `json:"-"`
	Patch  *Patch `json:"patch,omitempty"`
}

// Catalogue lists, reads and writes stub modules.
type Catalogue struct {
	dir      string
	defaults fs.FS
	logger   *zap.Logger
	mu       sync.Mutex // serializes writes to dir
}

// New returns a catalogue over the embedded defaults overlaid by dir. An
// empty dir disables the overlay and every write.
func New(dir string, logger *zap.Logger) *Catalogue {
	sub, err := fs.Sub(defaultFS, "defaults")
	if err != nil {
		panic(err)
	}
	return NewWithDefaults(dir, sub, logger)
}

// NewWithDefaults is New with a custom set of default modules.
func NewWithDefaults(dir string, defaults fs.FS, logger *zap.Logger) *Catalogue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalogue{dir: dir, defaults: defaults, logger: logger}
}

// Dir returns the overlay directory.
func (c *Catalogue) Dir() string { return c.dir }

// Categories returns the category names in load order.
func Categories() []string { return append([]string{}, categories...) }

// ValidateID checks that id names a module: "category/name.js" with a
// known category.
func ValidateID(id string) error {
	if id == "" || strings.Contains(id, "\\") || path.IsAbs(id) || path.Clean(id) != id {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	category, name, ok := strings.Cut(id, "/")
	if !ok || strings.Contains(name, "/") || !knownCategory(category) {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	if !strings.HasSuffix(name, ".js") || strings.HasPrefix(name, ".") || isIndex(name) {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return nil
}

func knownCategory(c string) bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

func isIndex(name string) bool { return strings.HasPrefix(name, "_index.") }

// List returns every module in load order.
func (c *Catalogue) List() ([]Entry, error) {
	byID := make(map[string]Entry)

	err := fs.WalkDir(c.defaults, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || ValidateID(p) != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		byID[p] = newEntry(p, info.Size(), OriginEmbedded, time.Time{})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list embedded modules: %w", err)
	}

	disk, err := c.walkDisk()
	if err != nil {
		return nil, err
	}
	for _, e := range disk {
		byID[e.ID] = e
	}

	order, err := c.patchOrder()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	sortEntries(entries, order)
	return entries, nil
}

func (c *Catalogue) walkDisk() ([]Entry, error) {
	if c.dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(c.dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var (
		mu  sync.Mutex
		out []Entry
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, c.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.dir, p)
		if err != nil {
			return nil
		}
		id := filepath.ToSlash(rel)
		if ValidateID(id) != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mu.Lock()
		out = append(out, newEntry(id, info.Size(), OriginDisk, info.ModTime()))
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", c.dir, err)
	}
	return out, nil
}

func newEntry(id string, size int64, origin Origin, mod time.Time) Entry {
	category, name, _ := strings.Cut(id, "/")
	return Entry{ID: id, Category: category, Name: name, Size: size, Origin: origin, ModTime: mod}
}

// sortEntries orders by category, then leading files, then manifest order
// for patches, then name.
func sortEntries(entries []Entry, patchOrder map[string]int) {
	catRank := make(map[string]int, len(categories))
	for i, c := range categories {
		catRank[c] = i
	}
	rank := func(e Entry) int {
		if e.Category == CategoryPatches {
			if i, ok := patchOrder[e.Name]; ok {
				return i
			}
			return len(patchOrder)
		}
		for i, name := range leading[e.Category] {
			if name == e.Name {
				return i
			}
		}
		return len(leading[e.Category])
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if catRank[a.Category] != catRank[b.Category] {
			return catRank[a.Category] < catRank[b.Category]
		}
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		return a.Name < b.Name
	})
}

// Match returns the identifiers matching a doublestar pattern such as
// "bom/**" or "dom/*.js", in load order.
func (c *Catalogue) Match(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	entries, err := c.List()
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if ok, _ := doublestar.Match(pattern, e.ID); ok {
			out = append(out, e.ID)
		}
	}
	return out, nil
}

// Read returns the source of id, preferring the overlay directory.
func (c *Catalogue) Read(id string) ([]byte, Origin, error) {
	if err := ValidateID(id); err != nil {
		return nil, "", err
	}
	if c.dir != "" {
		data, err := os.ReadFile(filepath.Join(c.dir, filepath.FromSlash(id)))
		if err == nil {
			return data, OriginDisk, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}
	data, err := fs.ReadFile(c.defaults, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, "", err
	}
	return data, OriginEmbedded, nil
}

// Modules returns every module with its source, in load order.
func (c *Catalogue) Modules() ([]Module, error) {
	entries, err := c.List()
	if err != nil {
		return nil, err
	}
	manifest, err := c.Manifest()
	if err != nil {
		return nil, err
	}
	out := make([]Module, 0, len(entries))
	for _, e := range entries {
		mod, err := c.module(e, manifest)
		if err != nil {
			c.logger.Warn("Skipping unreadable environment file", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		out = append(out, mod)
	}
	return out, nil
}

// Module returns one module with its source.
func (c *Catalogue) Module(id string) (Module, error) {
	if err := ValidateID(id); err != nil {
		return Module{}, err
	}
	manifest, err := c.Manifest()
	if err != nil {
		return Module{}, err
	}
	return c.module(newEntry(id, 0, "", time.Time{}), manifest)
}

func (c *Catalogue) module(e Entry, manifest Manifest) (Module, error) {
	data, origin, err := c.Read(e.ID)
	if err != nil {
		return Module{}, err
	}
	e.Origin = origin
	e.Size = int64(len(data))
	mod := Module{Entry: e, Source: string(data)}
	if e.Category == CategoryPatches {
		if p, ok := manifest.Find(e.Name); ok {
			mod.Patch = &p
		} else {
			mod.Patch = &Patch{File: e.Name, Enabled: true}
		}
	}
	return mod, nil
}

// Write stores a module in the overlay directory after validating its
// identifier, size and content type.
func (c *Catalogue) Write(id string, data []byte) error {
	if c.dir == "" {
		return ErrReadOnly
	}
	if err := ValidateID(id); err != nil {
		return err
	}
	if len(data) > MaxFileSize {
		return fmt.Errorf("%s: %d bytes: %w", id, len(data), ErrTooLarge)
	}
	if !isText(data) {
		return fmt.Errorf("%s: %w", id, ErrNotText)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFile(filepath.FromSlash(id), data)
}

func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// writeFile writes rel under dir through a temporary file.
func (c *Catalogue) writeFile(rel string, data []byte) error {
	full, err := c.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), full)
}

func (c *Catalogue) resolve(rel string) (string, error) {
	full := filepath.Join(c.dir, rel)
	back, err := filepath.Rel(c.dir, full)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", ErrOutsideDir
	}
	return full, nil
}

// Delete removes an operator patch from disk along with its manifest
// record.
func (c *Catalogue) Delete(id string) error {
	if c.dir == "" {
		return ErrReadOnly
	}
	if err := ValidateID(id); err != nil {
		return err
	}
	category, name, _ := strings.Cut(id, "/")
	if category != CategoryPatches {
		return fmt.Errorf("%s: %w", id, ErrProtected)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	full, err := c.resolve(filepath.FromSlash(id))
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return err
	}

	manifest, err := c.readManifest()
	if err != nil {
		return err
	}
	if manifest.Remove(name) {
		return c.saveManifest(manifest)
	}
	return nil
}
