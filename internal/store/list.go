package store

import (
	"container/list"
	"time"
)

// listValue is the data for a List-kind entry: an ordered sequence of
// UTF-8 strings. The FIFO of waiting blockers (spec.md §3 "List value")
// lives on the Engine itself (listWaiters), keyed by key, rather than on
// this struct directly, since a waiter may register on a key before any
// list exists at it (spec.md §4.3 describes BLPOP blocking on an
// as-yet-absent key) — see the "Blocking (BLPOP)" section below.
type listValue struct {
	items []string
}

func getList(ks map[string]*entry, key string) (*listValue, error) {
	ent, ok := ks[key]
	if !ok {
		return nil, nil
	}
	if ent.kind != KindList {
		return nil, ErrWrongType
	}
	return ent.list, nil
}

func getOrCreateList(ks map[string]*entry, key string) *entry {
	ent, ok := ks[key]
	if ok {
		return ent
	}
	ent = &entry{kind: KindList, list: &listValue{}}
	ks[key] = ent
	return ent
}

// RPush appends values to the tail of key's list, creating it if absent,
// and wakes at most one waiting BLPOP getter per pushed element. Returns
// the list's new length.
func (e *Engine) RPush(key string, values ...string) (int, error) {
	var length int
	var opErr error
	e.exec(func(ks map[string]*entry) {
		if existing, ok := ks[key]; ok && existing.kind != KindList {
			opErr = ErrWrongType
			return
		}
		ent := getOrCreateList(ks, key)
		ent.list.items = append(ent.list.items, values...)
		length = len(ent.list.items)
		e.serveListWaiters(ks, key)
	})
	if opErr == nil {
		e.markChanged()
	}
	return length, opErr
}

// LPush prepends values to the head of key's list (in argument order, so
// the last value given ends up at index 0 — matching Redis LPUSH), creating
// the list if absent, and wakes waiting BLPOP getters.
func (e *Engine) LPush(key string, values ...string) (int, error) {
	var length int
	var opErr error
	e.exec(func(ks map[string]*entry) {
		if existing, ok := ks[key]; ok && existing.kind != KindList {
			opErr = ErrWrongType
			return
		}
		ent := getOrCreateList(ks, key)
		for _, v := range values {
			ent.list.items = append([]string{v}, ent.list.items...)
		}
		length = len(ent.list.items)
		e.serveListWaiters(ks, key)
	})
	if opErr == nil {
		e.markChanged()
	}
	return length, opErr
}

// LLen returns the length of key's list, or 0 if absent.
func (e *Engine) LLen(key string) (int, error) {
	var length int
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		l, err := getList(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if l != nil {
			length = len(l.items)
		}
	})
	return length, opErr
}

// LRange returns the elements in [start, stop] after Redis-style negative
// index normalization (spec.md §4.2 "LRANGE index normalization").
func (e *Engine) LRange(key string, start, stop int) ([]string, error) {
	var out []string
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		l, err := getList(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if l == nil {
			out = []string{}
			return
		}
		out = normalizeRange(l.items, start, stop)
	})
	return out, opErr
}

// normalizeRange implements spec.md §4.2's LRANGE/ZRANGE index rule:
// negative indices count from the tail, and after normalization an empty
// slice is returned when start > stop or start >= len; otherwise stop is
// clipped to len-1.
func normalizeRange[T any](items []T, start, stop int) []T {
	n := len(items)
	if n == 0 {
		return []T{}
	}
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
		if stop < 0 {
			stop = -1
		}
	}
	if start > stop || start >= n {
		return []T{}
	}
	if stop >= n {
		stop = n - 1
	}
	out := make([]T, stop-start+1)
	copy(out, items[start:stop+1])
	return out
}

// LPopOne removes and returns the first element of key's list.
func (e *Engine) LPopOne(key string) (string, bool, error) {
	var value string
	var ok bool
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		l, err := getList(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if l == nil || len(l.items) == 0 {
			return
		}
		value = l.items[0]
		l.items = l.items[1:]
		ok = true
		if len(l.items) == 0 {
			delete(ks, key)
		}
	})
	if ok {
		e.markChanged()
	}
	return value, ok, opErr
}

// LPopMany removes and returns up to count elements from the head of key's
// list.
func (e *Engine) LPopMany(key string, count int) ([]string, error) {
	var out []string
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		l, err := getList(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if l == nil || len(l.items) == 0 || count <= 0 {
			return
		}
		if count > len(l.items) {
			count = len(l.items)
		}
		out = append([]string{}, l.items[:count]...)
		l.items = l.items[count:]
		if len(l.items) == 0 {
			delete(ks, key)
		}
	})
	if len(out) > 0 {
		e.markChanged()
	}
	return out, opErr
}

// ---- Blocking (BLPOP) ----
//
// blpopWaiter is a FIFO entry shared across every key it is registered on
// (BLPOP accepts multiple keys, served in priority order). served is only
// ever read or written from inside the engine goroutine, so it needs no
// atomic/lock of its own (spec.md §9 "Blocking waiters ... survives
// cancellation and spurious wakes without element loss").
type blpopWaiter struct {
	ch    chan blpopResult
	elems map[string]*list.Element // key -> this waiter's node in that key's queue
	served bool
}

type blpopResult struct {
	key   string
	value string
}

// listWaiters is embedded in Engine via engine.go's struct; declared here
// next to the rest of the blocking machinery for locality. See engine.go.

// serveListWaiters hands elements of key's list to waiting BLPOP callers,
// oldest first, one element per wake, until either the list or the waiter
// queue is exhausted (spec.md §4.3, invariant 4 in §8). Must run inside the
// engine goroutine.
func (e *Engine) serveListWaiters(ks map[string]*entry, key string) {
	for {
		q := e.listWaiters[key]
		if q == nil || q.Len() == 0 {
			return
		}
		ent, ok := ks[key]
		if !ok || ent.kind != KindList || len(ent.list.items) == 0 {
			return
		}

		front := q.Front()
		w := front.Value.(*blpopWaiter)
		q.Remove(front)
		if q.Len() == 0 {
			delete(e.listWaiters, key)
		}

		value := ent.list.items[0]
		ent.list.items = ent.list.items[1:]
		if len(ent.list.items) == 0 {
			delete(ks, key)
		}

		w.served = true
		for k2, elem2 := range w.elems {
			if k2 == key {
				continue
			}
			if q2 := e.listWaiters[k2]; q2 != nil {
				q2.Remove(elem2)
				if q2.Len() == 0 {
					delete(e.listWaiters, k2)
				}
			}
		}
		w.elems = nil
		w.ch <- blpopResult{key: key, value: value}
	}
}

func popFirstAvailable(ks map[string]*entry, keys []string) (string, string, bool) {
	for _, key := range keys {
		expireIfNeeded(ks, key)
		ent, ok := ks[key]
		if !ok || ent.kind != KindList || len(ent.list.items) == 0 {
			continue
		}
		value := ent.list.items[0]
		ent.list.items = ent.list.items[1:]
		if len(ent.list.items) == 0 {
			delete(ks, key)
		}
		return key, value, true
	}
	return "", "", false
}

// BLPop blocks until an element is available on one of keys (checked in
// order), timeout elapses (timeout == 0 means wait forever), or cancel
// fires — closed by the caller when its connection is going away (spec.md
// §5 "Cancellation": "pending BLPOP/XREAD waiters on that connection are
// cancelled and must propagate cancellation up to the caller so their
// entries are cleanly removed from the waiter queue"). It is spurious-wake
// and cancellation safe: on timeout or cancel it atomically checks whether
// a push already delivered a result in the same instant, so no element is
// ever silently dropped (spec.md §4.3).
func (e *Engine) BLPop(keys []string, timeout time.Duration, cancel <-chan struct{}) (key, value string, ok bool) {
	w := &blpopWaiter{ch: make(chan blpopResult, 1), elems: make(map[string]*list.Element, len(keys))}

	var immediate *blpopResult
	e.exec(func(ks map[string]*entry) {
		if k, v, found := popFirstAvailable(ks, keys); found {
			immediate = &blpopResult{key: k, value: v}
			return
		}
		for _, k := range keys {
			q := e.listWaiters[k]
			if q == nil {
				q = list.New()
				e.listWaiters[k] = q
			}
			w.elems[k] = q.PushBack(w)
		}
	})
	if immediate != nil {
		e.markChanged()
		return immediate.key, immediate.value, true
	}

	var timerCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerCh = t.C
	}

	select {
	case res := <-w.ch:
		e.markChanged()
		return res.key, res.value, true
	case <-timerCh:
		return e.giveUpBLPop(w)
	case <-cancel:
		return e.giveUpBLPop(w)
	}
}

// giveUpBLPop deregisters w from every key it was waiting on and returns
// whichever result it already received in the same instant, if any — shared
// by BLPop's timeout and cancellation paths so both apply the same
// no-element-lost check.
func (e *Engine) giveUpBLPop(w *blpopWaiter) (key, value string, ok bool) {
	e.exec(func(ks map[string]*entry) {
		if w.served {
			return
		}
		for k, elem := range w.elems {
			if q := e.listWaiters[k]; q != nil {
				q.Remove(elem)
				if q.Len() == 0 {
					delete(e.listWaiters, k)
				}
			}
		}
		w.elems = nil
	})
	select {
	case res := <-w.ch:
		e.markChanged()
		return res.key, res.value, true
	default:
		return "", "", false
	}
}
