// Package callchain tracks the stack of in-flight intercepted calls so that
// every log entry can be stamped with the calls that produced it.
package callchain

import (
	"strings"
	"time"
)

// DefaultMaxDepth bounds the stack under runaway recursion.
const DefaultMaxDepth = 50

// Separator joins frame labels in Label.
const Separator = " -> "

// Frame is one in-flight call.
type Frame struct {
	Label string    `json:"label"`
	Time  time.Time `json:"time"`
	Depth int       `json:"depth"`
}

// Tracker is a capped LIFO stack of frames. It is owned by a single sandbox
// and is not safe for concurrent use.
type Tracker struct {
	frames  []Frame
	max     int
	dropped int
}

// New creates a tracker. A non-positive maxDepth selects DefaultMaxDepth.
func New(maxDepth int) *Tracker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Tracker{
		frames: make([]Frame, 0, maxDepth),
		max:    maxDepth,
	}
}

// Push appends a frame. When the stack is full the push is dropped, the
// outermost frames are kept, and false is returned so the caller knows not
// to pop.
func (t *Tracker) Push(label string) bool {
	if len(t.frames) >= t.max {
		t.dropped++
		return false
	}
	t.frames = append(t.frames, Frame{
		Label: label,
		Time:  time.Now(),
		Depth: len(t.frames),
	})
	return true
}

// Pop removes and returns the top frame.
func (t *Tracker) Pop() (Frame, bool) {
	if len(t.frames) == 0 {
		return Frame{}, false
	}
	top := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]
	return top, true
}

// Current returns the top frame without removing it.
func (t *Tracker) Current() (Frame, bool) {
	if len(t.frames) == 0 {
		return Frame{}, false
	}
	return t.frames[len(t.frames)-1], true
}

// Label renders the active frames in call order, outermost first.
func (t *Tracker) Label() string {
	if len(t.frames) == 0 {
		return ""
	}
	labels := make([]string, len(t.frames))
	for i, f := range t.frames {
		labels[i] = f.Label
	}
	return strings.Join(labels, Separator)
}

// Frames returns a copy of the active frames.
func (t *Tracker) Frames() []Frame {
	return append([]Frame(nil), t.frames...)
}

// Depth returns the number of active frames.
func (t *Tracker) Depth() int { return len(t.frames) }

// MaxDepth returns the configured cap.
func (t *Tracker) MaxDepth() int { return t.max }

// Dropped returns how many pushes were discarded at the cap.
func (t *Tracker) Dropped() int { return t.dropped }

// Reset empties the stack.
func (t *Tracker) Reset() {
	t.frames = t.frames[:0]
	t.dropped = 0
}
