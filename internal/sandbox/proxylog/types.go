package proxylog

import (
	"errors"
	"time"
)

// Direction is the kind of property operation an access entry records.
type Direction string

const (
	Get    Direction = "get"
	Set    Direction = "set"
	Has    Direction = "has"
	Define Direction = "define"
	Delete Direction = "delete"
)

// FixSource records who supplied the stub that resolved an undefined path.
type FixSource string

const (
	FixedNone     FixSource = ""
	FixedManual   FixSource = "manual"
	FixedExternal FixSource = "external"
)

// Category selects one of the stores for Clear.
type Category string

const (
	CategoryAccess    Category = "access"
	CategoryCalls     Category = "calls"
	CategoryUndefined Category = "undefined"
	CategoryAll       Category = "all"
)

var (
	ErrUnknownCategory = errors.New("unknown log category")
	ErrUnknownFixer    = errors.New("unknown fix source")
)

// AccessEntry records one intercepted property operation.
type AccessEntry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Type      Direction `json:"type"`
	Path      string    `json:"path"`
	ValueKind string    `json:"valueType"`
	Value     string    `json:"value"`
	Chain     string    `json:"chain,omitempty"`
	Time      time.Time `json:"timestamp"`
}

// CallEntry records one intercepted call. Result holds the serialized
// return value, or the serialized error when Error is set.
type CallEntry struct {
	ID     string    `json:"id"`
	Seq    uint64    `json:"seq"`
	Path   string    `json:"path"`
	Args   []string  `json:"args"`
	Result string    `json:"result"`
	Error  bool      `json:"error,omitempty"`
	Mocked bool      `json:"mocked,omitempty"`
	Chain  string    `json:"chain,omitempty"`
	Time   time.Time `json:"timestamp"`
}

// UndefinedEntry is the first sighting of a missing member. Entries are
// unique by Path.
type UndefinedEntry struct {
	Seq       uint64     `json:"seq"`
	Path      string     `json:"path"`
	Context   string     `json:"context,omitempty"`
	Chain     string     `json:"chain,omitempty"`
	FirstSeen time.Time  `json:"timestamp"`
	Fixed     bool       `json:"fixed"`
	FixedBy   FixSource  `json:"fixedBy,omitempty"`
	FixedAt   *time.Time `json:"fixedAt,omitempty"`
}

// Filter narrows a query. Zero values disable a criterion. Limit keeps the
// most recent entries.
type Filter struct {
	PathContains string
	Type         Direction
	UnfixedOnly  bool
	Since        uint64
	Limit        int
}

// Delta is everything recorded after a cursor.
type Delta struct {
	Access    []AccessEntry    `json:"access"`
	Calls     []CallEntry      `json:"calls"`
	Undefined []UndefinedEntry `json:"undefined"`
}

// Stats summarizes the stores.
type Stats struct {
	AccessCount    int    `json:"accessCount"`
	CallCount      int    `json:"callCount"`
	UndefinedCount int    `json:"undefinedCount"`
	UnfixedCount   int    `json:"unfixedCount"`
	AccessTotal    uint64 `json:"accessTotal"`
	CallTotal      uint64 `json:"callTotal"`
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryAccess, CategoryCalls, CategoryUndefined, CategoryAll:
		return c, nil
	case "":
		return CategoryAll, nil
	}
	return "", ErrUnknownCategory
}

// ParseFixSource validates a fixer name; empty means manual.
func ParseFixSource(s string) (FixSource, error) {
	switch f := FixSource(s); f {
	case FixedManual, FixedExternal:
		return f, nil
	case FixedNone:
		return FixedManual, nil
	}
	return "", ErrUnknownFixer
}
