package proxylog

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedChain string

func (c fixedChain) Label() string { return string(c) }

func TestLoggerUndefinedDedup(t *testing.T) {
	l := New(0, nil)

	for i := 0; i < 5; i++ {
		l.LogAccess(Get, "window.doesNotExist", "undefined", "undefined")
		l.LogUndefined("window.doesNotExist", "")
	}

	assert.Len(t, l.Undefined(Filter{}), 1)
	assert.Len(t, l.Access(Filter{}), 5)

	stats := l.Stats()
	assert.Equal(t, 1, stats.UndefinedCount)
	assert.Equal(t, 1, stats.UnfixedCount)
	assert.Equal(t, 5, stats.AccessCount)
}

func TestLoggerEvictsOldest(t *testing.T) {
	l := New(3, nil)
	for i := 0; i < 5; i++ {
		l.LogAccess(Get, fmt.Sprintf("p%d", i), "number", "1")
	}

	entries := l.Access(Filter{})
	require.Len(t, entries, 3)
	assert.Equal(t, "p2", entries[0].Path)
	assert.Equal(t, "p4", entries[2].Path)
	assert.Equal(t, uint64(5), l.Stats().AccessTotal)
}

func TestLoggerSinceSurvivesEviction(t *testing.T) {
	l := New(2, nil)
	l.LogAccess(Get, "a", "string", "x")
	cursor := l.Cursor()

	l.LogAccess(Get, "b", "string", "x")
	l.LogCall("c", nil, "undefined", false, false)
	l.LogAccess(Get, "d", "string", "x")
	l.LogAccess(Get, "e", "string", "x")
	l.LogUndefined("f", "")

	d := l.Since(cursor)
	assert.Len(t, d.Access, 2, "only what the ring still holds")
	assert.Len(t, d.Calls, 1)
	require.Len(t, d.Undefined, 1)
	assert.Equal(t, "f", d.Undefined[0].Path)
}

func TestLoggerFilters(t *testing.T) {
	l := New(0, fixedChain("outer -> inner"))
	l.LogAccess(Get, "navigator.userAgent", "string", "Mozilla")
	l.LogAccess(Set, "document.cookie", "string", "a=1")
	l.LogUndefined("navigator.foo", "")
	l.LogUndefined("document.bar", "")
	require.True(t, l.MarkFixed("navigator.foo", FixedExternal))

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"path", Filter{PathContains: "navigator"}, 1},
		{"type", Filter{Type: Set}, 1},
		{"limit", Filter{Limit: 1}, 1},
		{"all", Filter{}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, l.Access(tt.filter), tt.want)
		})
	}

	unfixed := l.Undefined(Filter{UnfixedOnly: true})
	require.Len(t, unfixed, 1)
	assert.Equal(t, "document.bar", unfixed[0].Path)
	assert.Equal(t, "outer -> inner", unfixed[0].Chain)
}

func TestLoggerMarkFixed(t *testing.T) {
	l := New(0, nil)
	assert.False(t, l.MarkFixed("missing", FixedManual))

	l.LogUndefined("window.x", "")
	require.True(t, l.MarkFixed("window.x", FixedNone))

	e := l.Undefined(Filter{})[0]
	assert.True(t, e.Fixed)
	assert.Equal(t, FixedManual, e.FixedBy)
	assert.NotNil(t, e.FixedAt)
	assert.Equal(t, 0, l.Stats().UnfixedCount)
}

func TestLoggerRestoreAndExport(t *testing.T) {
	l := New(0, nil)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	l.LogUndefined("window.a", "")

	n := l.Restore([]UndefinedEntry{
		{Path: "window.a"},
		{Path: "window.b", Fixed: true, FixedBy: FixedExternal},
	})
	assert.Equal(t, 1, n)

	text := l.ExportUndefinedText()
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[2026-01-02T03:04:05Z] window.a", lines[0])
	assert.Contains(t, lines[1], "window.b (fixed by external)")
}

func TestLoggerClear(t *testing.T) {
	l := New(0, nil)
	l.LogAccess(Get, "a", "string", "")
	l.LogCall("b", nil, "", false, false)
	l.LogUndefined("c", "")

	require.NoError(t, l.Clear(CategoryCalls))
	assert.Equal(t, 0, l.Stats().CallCount)
	assert.Equal(t, 1, l.Stats().AccessCount)

	require.NoError(t, l.Clear(CategoryAll))
	assert.Equal(t, Stats{AccessTotal: 1, CallTotal: 1}, l.Stats())

	assert.ErrorIs(t, l.Clear("bogus"), ErrUnknownCategory)
	assert.True(t, l.LogUndefined("c", ""), "cleared paths are recorded again")
}

func TestParseCategoryAndFixer(t *testing.T) {
	c, err := ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, CategoryAll, c)

	_, err = ParseCategory("nope")
	assert.ErrorIs(t, err, ErrUnknownCategory)

	f, err := ParseFixSource("")
	require.NoError(t, err)
	assert.Equal(t, FixedManual, f)

	_, err = ParseFixSource("robot")
	assert.ErrorIs(t, err, ErrUnknownFixer)
}

func TestLoggerUndefinedHook(t *testing.T) {
	l := New(0, nil)
	var seen []string
	l.OnUndefined(func(e UndefinedEntry) { seen = append(seen, e.Path) })

	l.LogUndefined("x", "")
	l.LogUndefined("x", "")
	l.LogUndefined("y", "")

	assert.Equal(t, []string{"x", "y"}, seen)
}
