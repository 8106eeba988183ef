package store

import (
	"strconv"
	"time"
)

// Set stores value under key, replacing whatever was there before
// (including a different type — overwrite is how SET on a list deletes the
// list and installs a string, per spec.md §3 "Lifecycle"). pxMillis, if
// non-nil, is the PX argument in milliseconds: <= 0 means delete-now, > 0
// schedules an expiry timer that replaces any prior one.
func (e *Engine) Set(key, value string, pxMillis *int64) {
	e.exec(func(ks map[string]*entry) {
		if old, ok := ks[key]; ok {
			old.stopTimer()
		}
		if pxMillis != nil && *pxMillis <= 0 {
			delete(ks, key)
			return
		}
		ent := &entry{kind: KindString, str: value}
		if pxMillis != nil {
			at := now().Add(time.Duration(*pxMillis) * time.Millisecond)
			ent.expiresAt = &at
			ent.timer = e.scheduleExpiry(key, at)
		}
		ks[key] = ent
	})
	e.markChanged()
}

// Get returns the string stored at key. ok is false if the key is absent,
// expired (performing lazy deletion), or holds a non-string value; in the
// last case wrongType is true.
func (e *Engine) Get(key string) (value string, ok bool, wrongType bool) {
	e.exec(func(ks map[string]*entry) {
		if expireIfNeeded(ks, key) {
			return
		}
		ent, exists := ks[key]
		if !exists {
			return
		}
		if ent.kind != KindString {
			wrongType = true
			return
		}
		value, ok = ent.str, true
	})
	return
}

// Incr increments the integer value stored at key by 1 (creating "1" if
// absent) and returns the post-increment value. It fails with ErrNotInteger
// if the stored string does not match [0-9]+ (spec.md §4.2 "INCR"), or
// ErrWrongType if key holds a non-string value.
func (e *Engine) Incr(key string) (int64, error) {
	var result int64
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		ent, exists := ks[key]
		if exists && ent.kind != KindString {
			opErr = ErrWrongType
			return
		}

		var current int64
		if exists {
			parsed, err := parseStoredInt(ent.str)
			if err != nil {
				opErr = err
				return
			}
			current = parsed
		}

		result = current + 1
		if exists {
			ent.str = strconv.FormatInt(result, 10)
		} else {
			ks[key] = &entry{kind: KindString, str: strconv.FormatInt(result, 10)}
		}
	})
	if opErr == nil {
		e.markChanged()
	}
	return result, opErr
}

// parseStoredInt parses a stored string for INCR: it must be a non-empty
// run of ASCII digits ([0-9]+); a sign or any other byte is rejected, as is
// a value that overflows int64.
func parseStoredInt(s string) (int64, error) {
	if s == "" {
		return 0, ErrNotInteger
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrNotInteger
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}
