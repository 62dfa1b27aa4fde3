package envstubs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func testDefaults() fstest.MapFS {
	return fstest.MapFS{
		"core/EnvMonitor.js": {Data: []byte("// core")},
		"bom/screen.js":      {Data: []byte("// screen")},
		"bom/navigator.js":   {Data: []byte("// nav")},
		"dom/elements.js":    {Data: []byte("// el")},
		"dom/document.js":    {Data: []byte("// doc")},
		"dom/event.js":       {Data: []byte("// ev")},
		"dom/aaa.js":         {Data: []byte("// aaa")},
		"timer/timeout.js":   {Data: []byte("// timer")},
		"bom/README.md":      {Data: []byte("ignored")},
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"bom/navigator.js", true},
		{"ai-generated/fix.js", true},
		{"core/EnvMonitor.js", true},
		{"", false},
		{"navigator.js", false},
		{"unknown/x.js", false},
		{"bom/x.txt", false},
		{"bom/../core/x.js", false},
		{"/bom/x.js", false},
		{"bom/sub/x.js", false},
		{"bom/.hidden.js", false},
		{"ai-generated/_index.js", false},
		{`bom\x.js`, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidID)
			}
		})
	}
}

func TestListOrder(t *testing.T) {
	c := NewWithDefaults("", testDefaults(), nil)

	entries, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"core/EnvMonitor.js",
		"bom/navigator.js",
		"bom/screen.js",
		"dom/event.js",
		"dom/document.js",
		"dom/elements.js",
		"dom/aaa.js",
		"timer/timeout.js",
	}, ids(entries))
	assert.Equal(t, OriginEmbedded, entries[0].Origin)
}

func TestEmbeddedDefaults(t *testing.T) {
	c := New("", nil)

	entries, err := c.List()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "core/EnvMonitor.js", entries[0].ID)

	var dom []string
	for _, e := range entries {
		if e.Category == CategoryDOM {
			dom = append(dom, e.Name)
		}
	}
	assert.Equal(t, []string{"event.js", "document.js", "elements.js"}, dom[:3])

	src, origin, err := c.Read("bom/navigator.js")
	require.NoError(t, err)
	assert.Equal(t, OriginEmbedded, origin)
	assert.Contains(t, string(src), "webdriver: false")
}

func TestOverlayWins(t *testing.T) {
	dir := t.TempDir()
	c := NewWithDefaults(dir, testDefaults(), nil)

	require.NoError(t, c.Write("bom/navigator.js", []byte("// patched")))
	require.NoError(t, c.Write("webapi/extra.js", []byte("// extra")))

	src, origin, err := c.Read("bom/navigator.js")
	require.NoError(t, err)
	assert.Equal(t, OriginDisk, origin)
	assert.Equal(t, "// patched", string(src))

	entries, err := c.List()
	require.NoError(t, err)
	assert.Contains(t, ids(entries), "webapi/extra.js")
	for _, e := range entries {
		if e.ID == "bom/navigator.js" {
			assert.Equal(t, OriginDisk, e.Origin)
		}
	}

	_, _, err = c.Read("bom/missing.js")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatch(t *testing.T) {
	c := NewWithDefaults("", testDefaults(), nil)

	got, err := c.Match("bom/**")
	require.NoError(t, err)
	assert.Equal(t, []string{"bom/navigator.js", "bom/screen.js"}, got)

	got, err = c.Match("*/e*.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"dom/event.js", "dom/elements.js"}, got)

	_, err = c.Match("bom/[")
	assert.Error(t, err)
}

func TestWriteValidation(t *testing.T) {
	readonly := NewWithDefaults("", testDefaults(), nil)
	assert.ErrorIs(t, readonly.Write("bom/x.js", []byte("1")), ErrReadOnly)

	c := NewWithDefaults(t.TempDir(), testDefaults(), nil)
	assert.ErrorIs(t, c.Write("bom/x.exe", []byte("1")), ErrInvalidID)
	assert.ErrorIs(t, c.Write("bom/x.js", []byte(strings.Repeat("a", MaxFileSize+1))), ErrTooLarge)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	assert.ErrorIs(t, c.Write("bom/x.js", png), ErrNotText)

	assert.NoError(t, c.Write("bom/x.js", []byte("window.x = 1;\n")))
}

func TestPatchesAndManifest(t *testing.T) {
	dir := t.TempDir()
	c := NewWithDefaults(dir, testDefaults(), nil)

	p, err := c.WritePatch(Patch{File: "zeta", Property: "navigator.webdriver", Enabled: true}, []byte("// z"))
	require.NoError(t, err)
	assert.Equal(t, "zeta.js", p.File)
	assert.False(t, p.GeneratedAt.IsZero())

	_, err = c.WritePatch(Patch{File: "alpha.js", Property: "window.chrome", Enabled: true}, []byte("// a"))
	require.NoError(t, err)
	require.NoError(t, c.Write("ai-generated/loose.js", []byte("// loose")))

	_, err = os.Stat(filepath.Join(dir, CategoryPatches, ManifestName))
	require.NoError(t, err)

	mods, err := c.Modules()
	require.NoError(t, err)
	var patches []Module
	for _, m := range mods {
		if m.Category == CategoryPatches {
			patches = append(patches, m)
		}
	}
	require.Len(t, patches, 3)
	assert.Equal(t, "zeta.js", patches[0].Name)
	assert.Equal(t, "alpha.js", patches[1].Name)
	assert.Equal(t, "loose.js", patches[2].Name)
	assert.Equal(t, "navigator.webdriver", patches[0].Patch.Property)
	assert.True(t, patches[2].Patch.Enabled)
	assert.Equal(t, "// z", patches[0].Source)

	require.NoError(t, c.SetEnabled("zeta.js", false))
	mod, err := c.Module("ai-generated/zeta.js")
	require.NoError(t, err)
	require.NotNil(t, mod.Patch)
	assert.False(t, mod.Patch.Enabled)

	assert.ErrorIs(t, c.SetEnabled("nope.js", true), ErrNotFound)
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	c := NewWithDefaults(dir, testDefaults(), nil)

	_, err := c.WritePatch(Patch{File: "fix.js", Enabled: true}, []byte("// fix"))
	require.NoError(t, err)

	assert.ErrorIs(t, c.Delete("bom/navigator.js"), ErrProtected)
	assert.ErrorIs(t, c.Delete("ai-generated/missing.js"), ErrNotFound)

	require.NoError(t, c.Delete("ai-generated/fix.js"))
	m, err := c.Manifest()
	require.NoError(t, err)
	assert.Empty(t, m.Patches)
	_, _, err = c.Read("ai-generated/fix.js")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManifestEdit(t *testing.T) {
	var m Manifest
	m.Upsert(Patch{File: "a.js", Enabled: true})
	m.Upsert(Patch{File: "b.js"})
	m.Upsert(Patch{File: "a.js", Property: "x"})

	require.Len(t, m.Patches, 2)
	p, ok := m.Find("a.js")
	assert.True(t, ok)
	assert.Equal(t, "x", p.Property)

	assert.True(t, m.Remove("a.js"))
	assert.False(t, m.Remove("a.js"))
	assert.Len(t, m.Patches, 1)
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	c := NewWithDefaults(dir, testDefaults(), nil)

	changes := make(chan []string, 4)
	w, err := c.NewWatcher(func(ids []string) { changes <- ids }, 20*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, c.Write("ai-generated/hot.js", []byte("// hot")))

	select {
	case got := <-changes:
		assert.Contains(t, got, "ai-generated/hot.js")
		for _, id := range got {
			assert.NotContains(t, id, ".tmp-")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcherNeedsDir(t *testing.T) {
	c := NewWithDefaults("", testDefaults(), nil)
	_, err := c.NewWatcher(nil, 0)
	assert.ErrorIs(t, err, ErrReadOnly)
}
