package store

import "time"

// Kind is the polymorphic tag of a keyspace entry. Dispatching through the
// tag, rather than a dynamic downcast, keeps every mutation on a known
// concrete type (spec.md §9 "Polymorphic values").
type Kind int

const (
	KindString Kind = iota
	KindList
	KindStream
	KindZSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindStream:
		return "stream"
	case KindZSet:
		return "zset"
	default:
		return "none"
	}
}

// entry is exactly one of {string, list, stream, zset}; a key has at most
// one type (spec.md §3 "Keyspace entry" invariant).
type entry struct {
	kind Kind

	str string // valid when kind == KindString

	list   *listValue   // valid when kind == KindList
	stream *streamValue // valid when kind == KindStream
	zset   *zsetValue   // valid when kind == KindZSet

	expiresAt *time.Time  // nil means Eternal
	timer     *time.Timer // scheduled deletion callback, cancelled on overwrite
}

func (e *entry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
