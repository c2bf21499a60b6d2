// Package workload runs named scenarios on a simulated runtime so there is
// something to profile.
package workload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/simhost"
)

var ErrUnknownScenario = fmt.Errorf("%w: unknown workload scenario", errorutil.ErrInvalidArgument)

type (
	scenario func(w *Workload)

	// Workload is a set of simulated threads running a scenario until its
	// context is done.
	Workload struct {
		ctx     context.Context
		rt      *simhost.Runtime
		mu      sync.Mutex
		threads []*simhost.Thread
		funcs   map[string]frame.Handle
	}
)

var scenarios = map[string]scenario{
	"recursive":  recursive,
	"sleepy":     sleepy,
	"allocating": allocating,
	"mixed": func(w *Workload) {
		recursive(w)
		sleepy(w)
		allocating(w)
	},
}

// Names lists the available scenarios.
func Names() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the named scenario on rt. Threads run until ctx is done.
func Start(ctx context.Context, rt *simhost.Runtime, name string) (*Workload, error) {
	s, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	w := &Workload{
		ctx:   ctx,
		rt:    rt,
		funcs: make(map[string]frame.Handle),
	}
	s(w)
	return w, nil
}

// Threads returns the threads started so far.
func (w *Workload) Threads() []*simhost.Thread {
	w.mu.Lock()
	defer w.mu.Unlock()
	threads := make([]*simhost.Thread, len(w.threads))
	copy(threads, w.threads)
	return threads
}

// Wait blocks until every thread has returned.
func (w *Workload) Wait() {
	for _, t := range w.Threads() {
		t.Wait()
	}
}

func (w *Workload) fn(name, file string, line int) frame.Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.funcs[name]; ok {
		return h
	}
	h := w.rt.Func(name, file, line)
	w.funcs[name] = h
	return h
}

func (w *Workload) spawn(name string, loop func(t *simhost.Thread)) {
	t := w.rt.Go(name, func(t *simhost.Thread) {
		for w.ctx.Err() == nil {
			loop(t)
		}
	})
	w.mu.Lock()
	w.threads = append(w.threads, t)
	w.mu.Unlock()
}

// recursive descends three levels and burns CPU at the bottom.
func recursive(w *Workload) {
	run := w.fn("run", "app/worker.go", 10)
	descend := w.fn("descend", "app/worker.go", 20)
	compute := w.fn("compute", "app/worker.go", 30)

	var walk func(t *simhost.Thread, depth int)
	walk = func(t *simhost.Thread, depth int) {
		if depth == 3 {
			t.Call(compute, 31, func() {
				t.Spin(time.Millisecond)
			})
			return
		}
		t.Call(descend, 22, func() {
			walk(t, depth+1)
		})
	}
	w.spawn("recursive", func(t *simhost.Thread) {
		t.Call(run, 12, func() {
			walk(t, 0)
		})
	})
}

// sleepy alternates short bursts of work with waiting.
func sleepy(w *Workload) {
	serve := w.fn("serve", "app/server.go", 5)
	handle := w.fn("handle_request", "app/server.go", 40)
	read := w.fn("read_socket", "app/io.go", 12)

	w.spawn("sleepy", func(t *simhost.Thread) {
		t.Call(serve, 8, func() {
			t.Call(read, 14, func() {
				t.Sleep(5 * time.Millisecond)
			})
			t.Call(handle, 41, func() {
				t.Spin(500 * time.Microsecond)
			})
		})
	})
}

// allocating builds a cache, dropping every other entry.
func allocating(w *Workload) {
	build := w.fn("build_cache", "app/cache.go", 3)
	entry := w.fn("new_entry", "app/cache.go", 17)

	w.spawn("allocating", func(t *simhost.Thread) {
		t.Call(build, 6, func() {
			for i := 0; i < 16; i++ {
				t.Call(entry, 18, func() {
					obj := t.Allocate(uint64(64 * (i + 1)))
					if i%2 == 1 {
						w.rt.Release(obj)
					}
				})
			}
			t.Spin(200 * time.Microsecond)
		})
		w.rt.GC()
		t.Sleep(time.Millisecond)
	})
}
