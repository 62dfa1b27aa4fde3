package envstubs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ManifestName is the patch index file inside ai-generated/.
const ManifestName = "_index.toml"

// Patch records one operator-supplied fix: the file that implements it,
// the property path it repairs and whether it loads.
type Patch struct {
	File        string    `toml:"file" json:"file"`
	Property    string    `toml:"property,omitempty" json:"property,omitempty"`
	Platform    string    `toml:"platform,omitempty" json:"platform,omitempty"`
	GeneratedAt time.Time `toml:"generated_at,omitempty" json:"generatedAt,omitempty"`
	Enabled     bool      `toml:"enabled" json:"enabled"`
}

// Manifest is the ordered list of patches. Order is load order.
type Manifest struct {
	Patches []Patch `toml:"patch" json:"patches"`
}

// Find returns the record for file.
func (m Manifest) Find(file string) (Patch, bool) {
	for _, p := range m.Patches {
		if p.File == file {
			return p, true
		}
	}
	return Patch{}, false
}

// Upsert replaces the record for p.File or appends it.
func (m *Manifest) Upsert(p Patch) {
	for i := range m.Patches {
		if m.Patches[i].File == p.File {
			m.Patches[i] = p
			return
		}
	}
	m.Patches = append(m.Patches, p)
}

// Remove drops the record for file and reports whether it existed.
func (m *Manifest) Remove(file string) bool {
	for i := range m.Patches {
		if m.Patches[i].File == file {
			m.Patches = append(m.Patches[:i], m.Patches[i+1:]...)
			return true
		}
	}
	return false
}

// Manifest reads the patch index, preferring the overlay directory. A
// missing index is an empty manifest.
func (c *Catalogue) Manifest() (Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readManifest()
}

func (c *Catalogue) readManifest() (Manifest, error) {
	rel := CategoryPatches + "/" + ManifestName
	var (
		data []byte
		err  error
	)
	if c.dir != "" {
		data, err = os.ReadFile(filepath.Join(c.dir, filepath.FromSlash(rel)))
	}
	if c.dir == "" || errors.Is(err, fs.ErrNotExist) {
		data, err = fs.ReadFile(c.defaults, rel)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", rel, err)
	}
	return m, nil
}

// SaveManifest writes the patch index to the overlay directory.
func (c *Catalogue) SaveManifest(m Manifest) error {
	if c.dir == "" {
		return ErrReadOnly
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveManifest(m)
}

func (c *Catalogue) saveManifest(m Manifest) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return err
	}
	return c.writeFile(filepath.Join(CategoryPatches, ManifestName), data)
}

// SetEnabled toggles a patch without touching its source.
func (c *Catalogue) SetEnabled(file string, enabled bool) error {
	if c.dir == "" {
		return ErrReadOnly
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.readManifest()
	if err != nil {
		return err
	}
	p, ok := m.Find(file)
	if !ok {
		return fmt.Errorf("%s/%s: %w", CategoryPatches, file, ErrNotFound)
	}
	p.Enabled = enabled
	m.Upsert(p)
	return c.saveManifest(m)
}

// WritePatch stores a patch file and records it in the manifest. The file
// name gets a .js suffix when missing.
func (c *Catalogue) WritePatch(p Patch, source []byte) (Patch, error) {
	if filepath.Ext(p.File) != ".js" {
		p.File += ".js"
	}
	if err := c.Write(CategoryPatches+"/"+p.File, source); err != nil {
		return Patch{}, err
	}
	if p.GeneratedAt.IsZero() {
		p.GeneratedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.readManifest()
	if err != nil {
		return Patch{}, err
	}
	m.Upsert(p)
	if err := c.saveManifest(m); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// patchOrder maps patch file names to their manifest position.
func (c *Catalogue) patchOrder() (map[string]int, error) {
	m, err := c.Manifest()
	if err != nil {
		return nil, err
	}
	order := make(map[string]int, len(m.Patches))
	for i, p := range m.Patches {
		order[p.File] = i
	}
	return order, nil
}
