// Package store implements the keyspace: a map of UTF-8 keys to polymorphic
// values (string, list, stream, sorted set), per-key TTL timers, blocking
// waiter queues, monotonic stream id generation, and a geohash-keyed sorted
// set used for GEO commands.
//
// Every mutation of the keyspace runs on a single goroutine (Engine.run),
// fed by a channel of closures. This is the Go shape of spec.md §5's
// "single logical lock": rather than guarding a map with a sync.Mutex, the
// map is never touched by any goroutine other than the one running the
// loop, so no lock is needed and the WRONGTYPE check plus the mutation it
// guards are always atomic together. It generalizes the teacher repo's
// Processor/Command/CommandChan actor (internal/processor/processor.go) —
// a closure per call instead of a large CommandType switch — while keeping
// the same concurrency story.
package store

import (
	"container/list"
	"sync/atomic"
	"time"
)

type task struct {
	fn   func(ks map[string]*entry)
	done chan struct{}
}

// Engine owns the keyspace and serializes all access to it.
type Engine struct {
	tasks   chan *task
	closeCh chan struct{}
	closed  chan struct{}

	changes atomic.Int64 // bumped on every successful mutation, for callers tracking dirtiness

	// listWaiters holds the FIFO of pending BLPOP callers per key (list.go).
	// It lives here rather than on listValue because a waiter can register
	// on a key before any list exists there. Only ever touched from inside
	// the engine goroutine.
	listWaiters map[string]*list.List

	// streamWaiters holds pending XREAD BLOCK callers per key (stream.go),
	// same rationale as listWaiters.
	streamWaiters map[string][]chan struct{}
}

// NewEngine starts the engine's single processing goroutine.
func NewEngine() *Engine {
	e := &Engine{
		tasks:         make(chan *task, 1024),
		closeCh:       make(chan struct{}),
		closed:        make(chan struct{}),
		listWaiters:   make(map[string]*list.List),
		streamWaiters: make(map[string][]chan struct{}),
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	ks := make(map[string]*entry)
	defer close(e.closed)
	for {
		select {
		case t := <-e.tasks:
			t.fn(ks)
			close(t.done)
		case <-e.closeCh:
			// Drain anything already queued so callers blocked in exec don't hang.
			for {
				select {
				case t := <-e.tasks:
					t.fn(ks)
					close(t.done)
				default:
					return
				}
			}
		}
	}
}

// exec runs fn on the engine goroutine and blocks until it has completed.
func (e *Engine) exec(fn func(ks map[string]*entry)) {
	t := &task{fn: fn, done: make(chan struct{})}
	e.tasks <- t
	<-t.done
}

// Close stops the engine's goroutine. Call it once: a second call panics.
// Work already queued when Close is called is drained and completes; an
// exec submitted after Close has returned is never run and blocks forever.
func (e *Engine) Close() {
	close(e.closeCh)
	<-e.closed
}

// Changes returns the number of successful mutations observed so far, for
// callers that want to track dirtiness (e.g. a future RDB auto-save).
func (e *Engine) Changes() int64 { return e.changes.Load() }

func (e *Engine) markChanged() { e.changes.Add(1) }

// now is the clock this package's expiry checks, SET PX deadlines and
// auto-generated stream ids share; kept as a var rather than a direct
// time.Now() call so tests that need deterministic expiry can override it.
var now = time.Now

// isExpired reports whether ent has passed its expiry, given the current
// time t.
func isExpired(ent *entry, t time.Time) bool {
	return ent.expiresAt != nil && t.After(*ent.expiresAt)
}

// expireIfNeeded performs lazy deletion: if key's entry has expired as of
// now, it is removed from ks and true is returned. Must run inside the
// engine goroutine (called only from within a task closure).
func expireIfNeeded(ks map[string]*entry, key string) bool {
	ent, exists := ks[key]
	if !exists {
		return false
	}
	if isExpired(ent, now()) {
		ent.stopTimer()
		delete(ks, key)
		return true
	}
	return false
}

// scheduleExpiry arms a timer that, on firing, posts a deletion task back
// onto the engine's own goroutine — never mutates ks directly from the
// timer goroutine (spec.md §9: a separate timer thread is discouraged
// because it reintroduces cross-thread keyspace mutation).
func (e *Engine) scheduleExpiry(key string, at time.Time) *time.Timer {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, func() {
		e.exec(func(ks map[string]*entry) {
			expireIfNeeded(ks, key)
		})
	})
}

// GetType returns the type name of key, or "none" if it is absent or
// expired.
func (e *Engine) GetType(key string) string {
	var kind Kind = -1
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		if ent, ok := ks[key]; ok {
			kind = ent.kind
		}
	})
	if kind == -1 {
		return "none"
	}
	return kind.String()
}

// Delete removes key, returning true if it existed (and was not already
// expired).
func (e *Engine) Delete(key string) bool {
	var existed bool
	e.exec(func(ks map[string]*entry) {
		if expireIfNeeded(ks, key) {
			return
		}
		if ent, ok := ks[key]; ok {
			ent.stopTimer()
			delete(ks, key)
			existed = true
		}
	})
	if existed {
		e.markChanged()
	}
	return existed
}

// Keys returns all non-expired keys currently in the keyspace.
func (e *Engine) Keys() []string {
	var keys []string
	e.exec(func(ks map[string]*entry) {
		t := now()
		keys = make([]string, 0, len(ks))
		for k, ent := range ks {
			if !isExpired(ent, t) {
				keys = append(keys, k)
			}
		}
	})
	return keys
}
