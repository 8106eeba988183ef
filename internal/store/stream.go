package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// streamID is the two-part (milliseconds, sequence) identifier every stream
// entry carries, always monotonically increasing within a stream (spec.md
// §4.4 "Stream id generation").
type streamID struct {
	ts  uint64
	seq uint64
}

func (id streamID) String() string {
	return strconv.FormatUint(id.ts, 10) + "-" + strconv.FormatUint(id.seq, 10)
}

func (id streamID) isZero() bool { return id.ts == 0 && id.seq == 0 }

func compareStreamID(a, b streamID) int {
	switch {
	case a.ts != b.ts:
		if a.ts < b.ts {
			return -1
		}
		return 1
	case a.seq != b.seq:
		if a.seq < b.seq {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func parseStreamIDStrict(s string) (streamID, error) {
	ts, seq, ok := strings.Cut(s, "-")
	tsv, err := strconv.ParseUint(ts, 10, 64)
	if err != nil {
		return streamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	if !ok {
		return streamID{ts: tsv, seq: 0}, nil
	}
	seqv, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return streamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return streamID{ts: tsv, seq: seqv}, nil
}

// streamEntry is one appended record: an id plus a flat field/value list
// (preserving insertion order, matching RESP array encoding of XRANGE
// replies).
type streamEntry struct {
	id     streamID
	fields []string
}

type streamValue struct {
	entries []streamEntry
	lastID  streamID
}

func getStream(ks map[string]*entry, key string) (*streamValue, error) {
	ent, ok := ks[key]
	if !ok {
		return nil, nil
	}
	if ent.kind != KindStream {
		return nil, ErrWrongType
	}
	return ent.stream, nil
}

// XAdd appends fields under idSpec to key's stream, generating its concrete
// id per spec.md §4.4: "*" auto-generates both parts from the current time,
// "<ms>-*" auto-generates only the sequence, and "<ms>-<seq>" is taken
// literally. The id 0-0 is always rejected, and any id must exceed the
// stream's current last id.
func (e *Engine) XAdd(key string, idSpec string, fields []string) (string, error) {
	var resultID string
	var opErr error
	e.exec(func(ks map[string]*entry) {
		if existing, ok := ks[key]; ok && existing.kind != KindStream {
			opErr = ErrWrongType
			return
		}
		ent, ok := ks[key]
		if !ok {
			ent = &entry{kind: KindStream, stream: &streamValue{}}
			ks[key] = ent
		}
		sv := ent.stream

		id, err := generateStreamID(sv, idSpec)
		if err != nil {
			opErr = err
			return
		}

		sv.entries = append(sv.entries, streamEntry{id: id, fields: append([]string{}, fields...)})
		sv.lastID = id
		resultID = id.String()
		e.broadcastStreamWaiters(key)
	})
	if opErr == nil {
		e.markChanged()
	}
	return resultID, opErr
}

func generateStreamID(sv *streamValue, idSpec string) (streamID, error) {
	var id streamID

	switch {
	case idSpec == "*":
		ts := uint64(now().UnixMilli())
		seq := uint64(0)
		if len(sv.entries) > 0 && sv.lastID.ts == ts {
			seq = sv.lastID.seq + 1
		}
		id = streamID{ts: ts, seq: seq}

	case strings.HasSuffix(idSpec, "-*"):
		tsPart := strings.TrimSuffix(idSpec, "-*")
		ts, err := strconv.ParseUint(tsPart, 10, 64)
		if err != nil {
			return streamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
		}
		seq := uint64(0)
		if len(sv.entries) > 0 && sv.lastID.ts == ts {
			seq = sv.lastID.seq + 1
		}
		id = streamID{ts: ts, seq: seq}

	default:
		parsed, err := parseStreamIDStrict(idSpec)
		if err != nil {
			return streamID{}, err
		}
		id = parsed
	}

	if id.isZero() {
		return streamID{}, ErrStreamIDZero
	}
	if len(sv.entries) > 0 && compareStreamID(id, sv.lastID) <= 0 {
		return streamID{}, ErrStreamIDOrder
	}
	return id, nil
}

// parseRangeBound parses an XRANGE endpoint: "-" is the smallest possible
// id, "+" the largest, a bare timestamp defaults its sequence to 0 for a
// start bound or the maximum uint64 for an end bound (matching Redis'
// "ms" shorthand semantics), and "ms-seq" is taken literally.
func parseRangeBound(s string, isStart bool) (streamID, error) {
	switch s {
	case "-":
		return streamID{ts: 0, seq: 0}, nil
	case "+":
		return streamID{ts: ^uint64(0), seq: ^uint64(0)}, nil
	}
	if !strings.Contains(s, "-") {
		ts, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return streamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
		}
		if isStart {
			return streamID{ts: ts, seq: 0}, nil
		}
		return streamID{ts: ts, seq: ^uint64(0)}, nil
	}
	return parseStreamIDStrict(s)
}

// XRange returns entries in [startSpec, endSpec], inclusive, in id order. A
// non-negative count caps the number of entries returned.
func (e *Engine) XRange(key, startSpec, endSpec string, count int) ([]StreamEntry, error) {
	start, err := parseRangeBound(startSpec, true)
	if err != nil {
		return nil, err
	}
	end, err := parseRangeBound(endSpec, false)
	if err != nil {
		return nil, err
	}

	var out []streamEntry
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		sv, err := getStream(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if sv == nil {
			return
		}
		for _, se := range sv.entries {
			if compareStreamID(se.id, start) >= 0 && compareStreamID(se.id, end) <= 0 {
				if count >= 0 && len(out) >= count {
					break
				}
				out = append(out, se)
			}
		}
	})
	if opErr != nil {
		return nil, opErr
	}
	return toStreamEntries(out), nil
}

// StreamID is the exported form of streamID, for callers outside the
// package (the command layer) that need to construct an "after" bound for
// XRead/XReadBlock without depending on unexported fields.
type StreamID = streamID

// StreamEntry is the exported, flattened form of a stream record returned
// by XRange/XRead/XReadBlock.
type StreamEntry struct {
	ID     string
	Fields []string
}

func toStreamEntry(se streamEntry) StreamEntry {
	return StreamEntry{ID: se.id.String(), Fields: se.fields}
}

func toStreamEntries(ses []streamEntry) []StreamEntry {
	out := make([]StreamEntry, len(ses))
	for i, se := range ses {
		out[i] = toStreamEntry(se)
	}
	return out
}

// ParseStrictID parses a fully-specified "ts-seq" or "ts" stream id, as
// used by XREAD's non-"$" id arguments (spec.md §4.4 "XREAD STREAMS key
// id ... returns all entries with id strictly greater than the given
// fully-specified id").
func ParseStrictID(s string) (StreamID, error) {
	return parseStreamIDStrict(s)
}

// XLastID returns key's current last stream id, and ok=false if key is
// absent or holds no entries yet — used to resolve XREAD BLOCK's "$"
// id argument (spec.md §4.4) to a concrete starting point at call time.
func (e *Engine) XLastID(key string) (StreamID, bool, error) {
	var id streamID
	var ok bool
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		sv, err := getStream(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if sv == nil || len(sv.entries) == 0 {
			return
		}
		id, ok = sv.lastID, true
	})
	return id, ok, opErr
}

// broadcastStreamWaiters wakes every XREAD BLOCK caller registered on key by
// closing its notify channel, then clears the registration (callers that
// still find nothing new after waking re-register). Must run inside the
// engine goroutine.
func (e *Engine) broadcastStreamWaiters(key string) {
	for _, ch := range e.streamWaiters[key] {
		close(ch)
	}
	delete(e.streamWaiters, key)
}

// readNew collects, for each key, the entries strictly after the
// corresponding id in after. Must run inside the engine goroutine.
func readNew(ks map[string]*entry, keys []string, after []streamID) (map[string][]streamEntry, error) {
	result := make(map[string][]streamEntry)
	for i, key := range keys {
		expireIfNeeded(ks, key)
		sv, err := getStream(ks, key)
		if err != nil {
			return nil, err
		}
		if sv == nil {
			continue
		}
		var matched []streamEntry
		for _, se := range sv.entries {
			if compareStreamID(se.id, after[i]) > 0 {
				matched = append(matched, se)
			}
		}
		if len(matched) > 0 {
			result[key] = matched
		}
	}
	return result, nil
}

func toStreamEntryMap(m map[string][]streamEntry) map[string][]StreamEntry {
	out := make(map[string][]StreamEntry, len(m))
	for k, v := range m {
		out[k] = toStreamEntries(v)
	}
	return out
}

// XRead returns, for each key, the entries after the corresponding id in
// after — with no blocking.
func (e *Engine) XRead(keys []string, after []StreamID) (map[string][]StreamEntry, error) {
	var result map[string][]streamEntry
	var opErr error
	e.exec(func(ks map[string]*entry) {
		result, opErr = readNew(ks, keys, after)
	})
	if opErr != nil {
		return nil, opErr
	}
	return toStreamEntryMap(result), nil
}

// removeStreamWaiter deregisters ch from every key in keys, used when a
// blocked XReadBlock gives up via timeout or cancellation without ever
// being woken by broadcastStreamWaiters. Must run inside the engine
// goroutine.
func (e *Engine) removeStreamWaiter(keys []string, ch chan struct{}) {
	for _, k := range keys {
		waiters := e.streamWaiters[k]
		for i, w := range waiters {
			if w == ch {
				waiters = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(waiters) == 0 {
			delete(e.streamWaiters, k)
		} else {
			e.streamWaiters[k] = waiters
		}
	}
}

// XReadBlock is XRead's blocking form (spec.md §4.4 "XREAD BLOCK"): if no
// key currently has anything new, it waits for the next XAdd on any of them
// (or timeout, 0 meaning wait forever, or cancel firing when the calling
// connection is going away per spec.md §5 "Cancellation"), re-checking on
// every wake since a wake may belong to an unrelated key sharing the notify
// channel (spurious-wake safe).
func (e *Engine) XReadBlock(keys []string, after []StreamID, timeout time.Duration, cancel <-chan struct{}) (map[string][]StreamEntry, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		var result map[string][]streamEntry
		var opErr error
		var ch chan struct{}

		e.exec(func(ks map[string]*entry) {
			res, err := readNew(ks, keys, after)
			if err != nil {
				opErr = err
				return
			}
			if len(res) > 0 {
				result = res
				return
			}
			ch = make(chan struct{})
			for _, k := range keys {
				e.streamWaiters[k] = append(e.streamWaiters[k], ch)
			}
		})
		if opErr != nil {
			return nil, opErr
		}
		if result != nil {
			return toStreamEntryMap(result), nil
		}

		if timeout == 0 {
			select {
			case <-ch:
			case <-cancel:
				e.exec(func(ks map[string]*entry) { e.removeStreamWaiter(keys, ch) })
				return nil, nil
			}
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			e.exec(func(ks map[string]*entry) { e.removeStreamWaiter(keys, ch) })
			return nil, nil
		case <-cancel:
			e.exec(func(ks map[string]*entry) { e.removeStreamWaiter(keys, ch) })
			return nil, nil
		}
	}
}
