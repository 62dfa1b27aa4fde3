package sandbox

import (
	"sort"
	"time"

	"github.com/dop251/goja"
)

type timer struct {
	id     int64
	fn     goja.Callable
	args   []goja.Value
	delay  time.Duration
	due    time.Time
	repeat bool
}

// timerQueue holds callbacks deferred by the timer stubs. They never run on
// their own: the next Execute drains whatever is due by then, in due order.
type timerQueue struct {
	next    int64
	pending map[int64]*timer
	now     func() time.Time
}

func newTimerQueue() *timerQueue {
	return &timerQueue{pending: make(map[int64]*timer), now: time.Now}
}

func (q *timerQueue) schedule(fn goja.Callable, delay time.Duration, repeat bool, args []goja.Value) int64 {
	if delay < 0 {
		delay = 0
	}
	q.next++
	q.pending[q.next] = &timer{
		id:     q.next,
		fn:     fn,
		args:   args,
		delay:  delay,
		due:    q.now().Add(delay),
		repeat: repeat,
	}
	return q.next
}

func (q *timerQueue) cancel(id int64) bool {
	if _, ok := q.pending[id]; !ok {
		return false
	}
	delete(q.pending, id)
	return true
}

func (q *timerQueue) len() int { return len(q.pending) }

func (q *timerQueue) reset() {
	q.pending = make(map[int64]*timer)
}

// drain runs every timer pending at call time once. Timers added by the
// callbacks wait for the next drain; intervals are re-armed after running.
// A run error stops the drain and is returned.
func (q *timerQueue) drain(run func(*timer) error) error {
	batch := make([]*timer, 0, len(q.pending))
	for _, t := range q.pending {
		batch = append(batch, t)
	}
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].due.Equal(batch[j].due) {
			return batch[i].id < batch[j].id
		}
		return batch[i].due.Before(batch[j].due)
	})

	for _, t := range batch {
		if _, ok := q.pending[t.id]; !ok {
			continue
		}
		if t.repeat {
			t.due = t.due.Add(t.delay)
		} else {
			delete(q.pending, t.id)
		}
		if err := run(t); err != nil {
			return err
		}
	}
	return nil
}
