package store

// zsetValue is a sorted-set: a member->score dict for O(1) lookup, plus a
// skip list keeping (score, member) order for range/rank queries (spec.md
// §3 "Sorted-set value"). Adapted from the teacher repo's
// internal/storage/zset.go, which pairs the two the same way.
type zsetValue struct {
	dict map[string]float64
	sl   *skipList
}

func newZSetValue() *zsetValue {
	return &zsetValue{dict: make(map[string]float64), sl: newSkipList()}
}

func getZSet(ks map[string]*entry, key string) (*zsetValue, error) {
	ent, ok := ks[key]
	if !ok {
		return nil, nil
	}
	if ent.kind != KindZSet {
		return nil, ErrWrongType
	}
	return ent.zset, nil
}

// ZAdd inserts or updates (member, score) pairs, creating the sorted set if
// absent. Returns the number of members newly added (not counting score
// updates to existing members).
func (e *Engine) ZAdd(key string, members []ZSetMember) (int, error) {
	var added int
	var opErr error
	e.exec(func(ks map[string]*entry) {
		if existing, ok := ks[key]; ok && existing.kind != KindZSet {
			opErr = ErrWrongType
			return
		}
		ent, ok := ks[key]
		if !ok {
			ent = &entry{kind: KindZSet, zset: newZSetValue()}
			ks[key] = ent
		}
		zs := ent.zset
		for _, m := range members {
			if old, exists := zs.dict[m.Member]; exists {
				if old == m.Score {
					continue
				}
				zs.sl.delete(m.Member, old)
			} else {
				added++
			}
			zs.dict[m.Member] = m.Score
			zs.sl.insert(m.Member, m.Score)
		}
	})
	if opErr == nil && added > 0 {
		e.markChanged()
	}
	return added, opErr
}

// ZScore returns the score of member in key's sorted set, or ok=false if
// either the key or the member is absent.
func (e *Engine) ZScore(key, member string) (score float64, ok bool, opErr error) {
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		zs, err := getZSet(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if zs == nil {
			return
		}
		score, ok = zs.dict[member]
	})
	return
}

// ZRank returns the 0-based ascending-score rank of member, or ok=false if
// absent.
func (e *Engine) ZRank(key, member string) (rank int, ok bool, opErr error) {
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		zs, err := getZSet(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if zs == nil {
			return
		}
		score, exists := zs.dict[member]
		if !exists {
			return
		}
		rank = zs.sl.getRank(member, score)
		ok = true
	})
	return
}

// ZCard returns the number of members in key's sorted set, 0 if absent.
func (e *Engine) ZCard(key string) (int, error) {
	var n int
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		zs, err := getZSet(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if zs != nil {
			n = len(zs.dict)
		}
	})
	return n, opErr
}

// ZRange returns members in [start, stop] by ascending-score rank, using the
// same negative-index normalization as LRANGE (spec.md §4.2).
func (e *Engine) ZRange(key string, start, stop int) ([]ZSetMember, error) {
	var out []ZSetMember
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		zs, err := getZSet(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if zs == nil {
			out = []ZSetMember{}
			return
		}
		out = normalizeRange(zs.sl.all(), start, stop)
	})
	return out, opErr
}

// ZRangeByScore returns every member whose score falls in [min, max],
// ascending. Used internally by GEOSEARCH to list its candidates.
func (e *Engine) ZRangeByScore(key string, min, max float64) ([]ZSetMember, error) {
	var out []ZSetMember
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		zs, err := getZSet(ks, key)
		if err != nil {
			opErr = err
			return
		}
		out = []ZSetMember{}
		if zs == nil {
			return
		}
		for _, m := range zs.sl.all() {
			if m.Score >= min && m.Score <= max {
				out = append(out, m)
			}
		}
	})
	return out, opErr
}

// ZRem removes member from key's sorted set. Returns true if it was present.
func (e *Engine) ZRem(key, member string) (bool, error) {
	var removed bool
	var opErr error
	e.exec(func(ks map[string]*entry) {
		expireIfNeeded(ks, key)
		zs, err := getZSet(ks, key)
		if err != nil {
			opErr = err
			return
		}
		if zs == nil {
			return
		}
		score, exists := zs.dict[member]
		if !exists {
			return
		}
		delete(zs.dict, member)
		zs.sl.delete(member, score)
		removed = true
		if len(zs.dict) == 0 {
			delete(ks, key)
		}
	})
	if removed {
		e.markChanged()
	}
	return removed, opErr
}
