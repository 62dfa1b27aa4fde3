// Package proxylog stores what the deep proxies observe: property accesses,
// calls, and the first sighting of every missing member.
//
// A Logger belongs to one sandbox and is not safe for concurrent use; the
// owning layer serializes access.
package proxylog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxEntries caps the access and call stores.
const DefaultMaxEntries = 10000

// ChainLabeler renders the current call chain.
type ChainLabeler interface {
	Label() string
}

// Logger is an append-only, bounded in-memory log.
type Logger struct {
	access    *ring[AccessEntry]
	calls     *ring[CallEntry]
	undefined []*UndefinedEntry
	byPath    map[string]*UndefinedEntry

	chain ChainLabeler
	max   int
	seq   uint64

	accessTotal uint64
	callTotal   uint64

	onUndefined func(UndefinedEntry)
	now         func() time.Time
}

// New creates a logger keeping at most maxEntries access and call entries.
// chain may be nil.
func New(maxEntries int, chain ChainLabeler) *Logger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Logger{
		access: newRing[AccessEntry](maxEntries),
		calls:  newRing[CallEntry](maxEntries),
		byPath: make(map[string]*UndefinedEntry),
		chain:  chain,
		max:    maxEntries,
		now:    time.Now,
	}
}

// OnUndefined registers a hook invoked for every new undefined entry.
func (l *Logger) OnUndefined(fn func(UndefinedEntry)) {
	l.onUndefined = fn
}

func (l *Logger) next() (uint64, string) {
	l.seq++
	return l.seq, "log_" + strconv.FormatUint(l.seq, 10)
}

func (l *Logger) label() string {
	if l.chain == nil {
		return ""
	}
	return l.chain.Label()
}

// LogAccess records a property operation.
func (l *Logger) LogAccess(dir Direction, path, kind, value string) {
	seq, id := l.next()
	l.accessTotal++
	l.access.push(AccessEntry{
		ID:        id,
		Seq:       seq,
		Type:      dir,
		Path:      path,
		ValueKind: kind,
		Value:     value,
		Chain:     l.label(),
		Time:      l.now(),
	})
}

// LogCall records an intercepted call.
func (l *Logger) LogCall(path string, args []string, result string, failed, mocked bool) {
	seq, id := l.next()
	l.callTotal++
	l.calls.push(CallEntry{
		ID:     id,
		Seq:    seq,
		Path:   path,
		Args:   args,
		Result: result,
		Error:  failed,
		Mocked: mocked,
		Chain:  l.label(),
		Time:   l.now(),
	})
}

// LogUndefined records the first sighting of path. Later sightings are
// ignored and false is returned.
func (l *Logger) LogUndefined(path, context string) bool {
	if _, ok := l.byPath[path]; ok {
		return false
	}
	seq, _ := l.next()
	e := &UndefinedEntry{
		Seq:       seq,
		Path:      path,
		Context:   context,
		Chain:     l.label(),
		FirstSeen: l.now(),
	}
	l.undefined = append(l.undefined, e)
	l.byPath[path] = e
	if l.onUndefined != nil {
		l.onUndefined(*e)
	}
	return true
}

// MarkFixed flags path as resolved. It reports whether the path was known.
func (l *Logger) MarkFixed(path string, by FixSource) bool {
	e, ok := l.byPath[path]
	if !ok {
		return false
	}
	if by == FixedNone {
		by = FixedManual
	}
	now := l.now()
	e.Fixed = true
	e.FixedBy = by
	e.FixedAt = &now
	return true
}

// Cursor returns the sequence number of the newest entry.
func (l *Logger) Cursor() uint64 { return l.seq }

// Since returns every entry recorded after cursor.
func (l *Logger) Since(cursor uint64) Delta {
	f := Filter{Since: cursor}
	return Delta{
		Access:    l.Access(f),
		Calls:     l.Calls(f),
		Undefined: l.Undefined(f),
	}
}

// Access queries the access store, oldest first.
func (l *Logger) Access(f Filter) []AccessEntry {
	out := []AccessEntry{}
	l.access.each(func(e AccessEntry) bool {
		if e.Seq <= f.Since || (f.Type != "" && e.Type != f.Type) || !contains(e.Path, f.PathContains) {
			return true
		}
		out = append(out, e)
		return true
	})
	return tail(out, f.Limit)
}

// Calls queries the call store, oldest first.
func (l *Logger) Calls(f Filter) []CallEntry {
	out := []CallEntry{}
	l.calls.each(func(e CallEntry) bool {
		if e.Seq <= f.Since || !contains(e.Path, f.PathContains) {
			return true
		}
		out = append(out, e)
		return true
	})
	return tail(out, f.Limit)
}

// Undefined queries the undefined store in first-seen order.
func (l *Logger) Undefined(f Filter) []UndefinedEntry {
	out := []UndefinedEntry{}
	for _, e := range l.undefined {
		if e.Seq <= f.Since || (f.UnfixedOnly && e.Fixed) || !contains(e.Path, f.PathContains) {
			continue
		}
		out = append(out, *e)
	}
	return tail(out, f.Limit)
}

// Restore re-adds previously captured undefined entries, keeping their fix
// state. Paths already present are left alone.
func (l *Logger) Restore(entries []UndefinedEntry) int {
	n := 0
	for _, e := range entries {
		if _, ok := l.byPath[e.Path]; ok {
			continue
		}
		seq, _ := l.next()
		e.Seq = seq
		restored := e
		l.undefined = append(l.undefined, &restored)
		l.byPath[e.Path] = &restored
		n++
	}
	return n
}

// Clear empties one store or all of them.
func (l *Logger) Clear(c Category) error {
	switch c {
	case CategoryAccess:
		l.access.reset()
	case CategoryCalls:
		l.calls.reset()
	case CategoryUndefined:
		l.undefined = nil
		l.byPath = make(map[string]*UndefinedEntry)
	case CategoryAll:
		l.access.reset()
		l.calls.reset()
		l.undefined = nil
		l.byPath = make(map[string]*UndefinedEntry)
	default:
		return fmt.Errorf("clear %q: %w", c, ErrUnknownCategory)
	}
	return nil
}

// Stats summarizes the stores.
func (l *Logger) Stats() Stats {
	unfixed := 0
	for _, e := range l.undefined {
		if !e.Fixed {
			unfixed++
		}
	}
	return Stats{
		AccessCount:    l.access.len(),
		CallCount:      l.calls.len(),
		UndefinedCount: len(l.undefined),
		UnfixedCount:   unfixed,
		AccessTotal:    l.accessTotal,
		CallTotal:      l.callTotal,
	}
}

// ExportUndefinedText renders the undefined store one path per line.
func (l *Logger) ExportUndefinedText() string {
	var b strings.Builder
	for i, e := range l.undefined {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", e.FirstSeen.UTC().Format(time.RFC3339), e.Path)
		if e.Fixed {
			fmt.Fprintf(&b, " (fixed by %s)", e.FixedBy)
		}
	}
	return b.String()
}

func contains(path, sub string) bool {
	return sub == "" || strings.Contains(path, sub)
}

func tail[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}
