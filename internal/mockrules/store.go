// Package mockrules persists operator mock rules and named presets in a
// YAML file and applies them to a sandbox.
package mockrules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
)

//go:embed presets.yaml
var builtinPresets []byte

var (
	ErrNotFound       = errors.New("mock rule not found")
	ErrPresetNotFound = errors.New("preset not found")
	ErrMissingPath    = errors.New("path is required")
)

// Rule is one persisted mock. Value is JavaScript source evaluated inside
// the sandbox when the rule is applied.
type Rule struct {
	ID          string    `yaml:"id" json:"id"`
	Path        string    `yaml:"path" json:"path"`
	Type        mock.Kind `yaml:"type" json:"type"`
	Value       string    `yaml:"value" json:"value"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool      `yaml:"enabled" json:"enabled"`
	CreatedAt   time.Time `yaml:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `yaml:"updated_at,omitempty" json:"updatedAt,omitempty"`
}

// PresetRule is a rule template inside a preset.
type PresetRule struct {
	Path  string    `yaml:"path" json:"path"`
	Type  mock.Kind `yaml:"type" json:"type"`
	Value string    `yaml:"value" json:"value"`
}

// Preset is a named group of rule templates.
type Preset struct {
	Name      string       `json:"name"`
	RuleCount int          `json:"ruleCount"`
	Rules     []PresetRule `json:"rules"`
}

// File is the on-disk document.
type File struct {
	Rules   []Rule                  `yaml:"rules" json:"rules"`
	Presets map[string][]PresetRule `yaml:"presets" json:"presets"`
}

// Update carries the fields Patch may change; nil leaves a field as is.
type Update struct {
	Enabled     *bool   `json:"enabled"`
	Value       *string `json:"value"`
	Description *string `json:"description"`
}

// DefaultFile returns an empty rule list with the built-in presets.
func DefaultFile() File {
	f := File{Rules: []Rule{}, Presets: map[string][]PresetRule{}}
	if err := yaml.Unmarshal(builtinPresets, &f.Presets); err != nil {
		panic(fmt.Sprintf("mockrules: built-in presets: %v", err))
	}
	return f
}

// Store reads and writes one rules file. Every operation re-reads the file
// so hand edits are picked up.
type Store struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewStore creates a store for the YAML file at path. A missing file reads
// as DefaultFile and is created on the first change.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Path returns the rules file location.
func (s *Store) Path() string { return s.path }

func (s *Store) load() (File, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultFile(), nil
	}
	if err != nil {
		return File{}, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", filepath.Base(s.path), err)
	}
	if f.Rules == nil {
		f.Rules = []Rule{}
	}
	if f.Presets == nil {
		f.Presets = map[string][]PresetRule{}
	}
	return f, nil
}

func (s *Store) save(f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
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
	return os.Rename(tmp.Name(), s.path)
}

// update loads the file, lets fn change it and saves the result.
func (s *Store) update(fn func(f *File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&f); err != nil {
		return err
	}
	return s.save(f)
}

// Load returns the whole document.
func (s *Store) Load() (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// List returns every rule in file order.
func (s *Store) List() ([]Rule, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	return f.Rules, nil
}

func normalize(r Rule) (Rule, error) {
	r.Path = strings.TrimSpace(r.Path)
	if r.Path == "" {
		return r, ErrMissingPath
	}
	if r.Type == "" {
		r.Type = mock.Property
	}
	if _, err := mock.ParseKind(string(r.Type)); err != nil || r.Type == mock.All {
		return r, fmt.Errorf("%q: %w", r.Type, mock.ErrUnknownKind)
	}
	return r, nil
}

func indexByPath(rules []Rule, path string) int {
	for i, r := range rules {
		if r.Path == path {
			return i
		}
	}
	return -1
}

func indexByID(rules []Rule, id string) int {
	for i, r := range rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Upsert adds r, or replaces the rule with the same path keeping its id and
// creation time. The stored rule is enabled. created reports whether a new
// rule was added.
func (s *Store) Upsert(r Rule) (stored Rule, created bool, err error) {
	r, err = normalize(r)
	if err != nil {
		return r, false, err
	}
	err = s.update(func(f *File) error {
		now := s.now()
		r.Enabled = true
		if i := indexByPath(f.Rules, r.Path); i >= 0 {
			r.ID = f.Rules[i].ID
			r.CreatedAt = f.Rules[i].CreatedAt
			r.UpdatedAt = now
			f.Rules[i] = r
		} else {
			r.ID = uuid.NewString()
			r.CreatedAt = now
			r.UpdatedAt = time.Time{}
			f.Rules = append(f.Rules, r)
			created = true
		}
		stored = r
		return nil
	})
	return stored, created, err
}

// Delete removes the rule with id.
func (s *Store) Delete(id string) error {
	return s.update(func(f *File) error {
		i := indexByID(f.Rules, id)
		if i < 0 {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		f.Rules = append(f.Rules[:i], f.Rules[i+1:]...)
		return nil
	})
}

// Patch changes selected fields of the rule with id.
func (s *Store) Patch(id string, u Update) (Rule, error) {
	var out Rule
	err := s.update(func(f *File) error {
		i := indexByID(f.Rules, id)
		if i < 0 {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		r := &f.Rules[i]
		if u.Enabled != nil {
			r.Enabled = *u.Enabled
		}
		if u.Value != nil {
			r.Value = *u.Value
		}
		if u.Description != nil {
			r.Description = *u.Description
		}
		r.UpdatedAt = s.now()
		out = *r
		return nil
	})
	return out, err
}

// ClearRules removes every rule and keeps the presets.
func (s *Store) ClearRules() error {
	return s.update(func(f *File) error {
		f.Rules = []Rule{}
		return nil
	})
}

// Presets lists the presets by name.
func (s *Store) Presets() ([]Preset, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Preset, 0, len(f.Presets))
	for name, rules := range f.Presets {
		out = append(out, Preset{Name: name, RuleCount: len(rules), Rules: rules})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ApplyPreset upserts every rule of the named preset, enabled.
func (s *Store) ApplyPreset(name string) (added, updated int, err error) {
	err = s.update(func(f *File) error {
		rules, ok := f.Presets[name]
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrPresetNotFound)
		}
		now := s.now()
		for _, p := range rules {
			r, err := normalize(Rule{Path: p.Path, Type: p.Type, Value: p.Value})
			if err != nil {
				return fmt.Errorf("preset %s: %w", name, err)
			}
			r.Enabled = true
			if i := indexByPath(f.Rules, r.Path); i >= 0 {
				r.ID = f.Rules[i].ID
				r.Description = f.Rules[i].Description
				r.CreatedAt = f.Rules[i].CreatedAt
				r.UpdatedAt = now
				f.Rules[i] = r
				updated++
				continue
			}
			r.ID = uuid.NewString()
			r.CreatedAt = now
			f.Rules = append(f.Rules, r)
			added++
		}
		return nil
	})
	if err == nil {
		s.logger.Info("Mock preset applied",
			zap.String("preset", name),
			zap.Int("added", added),
			zap.Int("updated", updated),
		)
	}
	return added, updated, err
}

// Import stores rules. With merge, rules whose path already exists are
// skipped; otherwise the rule list is replaced. Missing ids and creation
// times are filled in. It returns the number of rules stored.
func (s *Store) Import(rules []Rule, merge bool) (int, error) {
	n := 0
	err := s.update(func(f *File) error {
		now := s.now()
		incoming := make([]Rule, 0, len(rules))
		for _, r := range rules {
			r, err := normalize(r)
			if err != nil {
				return fmt.Errorf("import %q: %w", r.Path, err)
			}
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if r.CreatedAt.IsZero() {
				r.CreatedAt = now
			}
			incoming = append(incoming, r)
		}
		if !merge {
			f.Rules = incoming
			n = len(incoming)
			return nil
		}
		for _, r := range incoming {
			if indexByPath(f.Rules, r.Path) >= 0 {
				continue
			}
			f.Rules = append(f.Rules, r)
			n++
		}
		return nil
	})
	return n, err
}
