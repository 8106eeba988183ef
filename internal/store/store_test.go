package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	e := NewEngine()
	t.Cleanup(e.Close)
	return e
}

func TestStringSetGetIncr(t *testing.T) {
	e := newTestEngine(t)

	e.Set("k", "hello", nil)
	v, ok, wrongType := e.Get("k")
	require.True(t, ok)
	require.False(t, wrongType)
	require.Equal(t, "hello", v)

	n, err := e.Incr("counter")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = e.Incr("counter")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = e.Incr("k")
	require.ErrorIs(t, err, ErrNotInteger)
}

func TestTypeInvariantWrongTypeDoesNotMutate(t *testing.T) {
	e := newTestEngine(t)

	e.Set("k", "a string", nil)
	_, err := e.RPush("k", "x")
	require.ErrorIs(t, err, ErrWrongType)

	v, ok, wrongType := e.Get("k")
	require.True(t, ok)
	require.False(t, wrongType)
	require.Equal(t, "a string", v)

	_, err = e.Incr("k")
	require.ErrorIs(t, err, ErrNotInteger)
	v, _, _ = e.Get("k")
	require.Equal(t, "a string", v)
}

func TestSetOverwriteCancelsExpiry(t *testing.T) {
	e := newTestEngine(t)

	px := int64(50)
	e.Set("k", "v1", &px)
	e.Set("k", "v2", nil)

	time.Sleep(100 * time.Millisecond)
	v, ok, _ := e.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", v)
}

func TestSetNonPositivePXDeletesNow(t *testing.T) {
	e := newTestEngine(t)

	e.Set("k", "v", nil)
	zero := int64(0)
	e.Set("k", "v2", &zero)

	_, ok, _ := e.Get("k")
	require.False(t, ok)
}

func TestLRangeNormalization(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RPush("list", "a", "b", "c", "d", "e")
	require.NoError(t, err)

	out, err := e.LRange("list", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, out)

	out, err = e.LRange("list", -100, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, out)

	out, err = e.LRange("list", 3, 1)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = e.LRange("list", 10, 20)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestLPushOrdersLastArgFirst(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.LPush("list", "a", "b", "c")
	require.NoError(t, err)

	out, err := e.LRange("list", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, out)
}

func TestBLPopImmediateData(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RPush("list", "x")
	require.NoError(t, err)

	key, val, ok := e.BLPop([]string{"list"}, time.Second, nil)
	require.True(t, ok)
	require.Equal(t, "list", key)
	require.Equal(t, "x", val)
}

func TestBLPopWakesOnPush(t *testing.T) {
	e := newTestEngine(t)

	type result struct {
		key, val string
		ok       bool
	}
	resCh := make(chan result, 1)
	go func() {
		k, v, ok := e.BLPop([]string{"missing"}, 2*time.Second, nil)
		resCh <- result{k, v, ok}
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := e.RPush("missing", "late")
	require.NoError(t, err)

	select {
	case res := <-resCh:
		require.True(t, res.ok)
		require.Equal(t, "missing", res.key)
		require.Equal(t, "late", res.val)
	case <-time.After(2 * time.Second):
		t.Fatal("BLPop did not wake on push")
	}
}

func TestBLPopTimeoutReturnsNull(t *testing.T) {
	e := newTestEngine(t)

	start := time.Now()
	_, _, ok := e.BLPop([]string{"nope"}, 50*time.Millisecond, nil)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestBLPopCancelUnblocksAndDeregisters(t *testing.T) {
	e := newTestEngine(t)

	cancel := make(chan struct{})
	resCh := make(chan bool, 1)
	go func() {
		_, _, ok := e.BLPop([]string{"nope"}, 0, cancel)
		resCh <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	close(cancel)

	select {
	case ok := <-resCh:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("BLPop did not unblock on cancel")
	}

	e.exec(func(ks map[string]*entry) {
		require.Nil(t, e.listWaiters["nope"])
	})
}

func TestBLPopFairnessFIFO(t *testing.T) {
	e := newTestEngine(t)

	type result struct {
		order int
		val   string
	}
	results := make(chan result, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			_, v, ok := e.BLPop([]string{"q"}, 2*time.Second, nil)
			if ok {
				results <- result{order: i, val: v}
			}
		}()
		time.Sleep(20 * time.Millisecond) // register in a known order
	}

	_, err := e.RPush("q", "first", "second", "third")
	require.NoError(t, err)

	got := make([]string, 3)
	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			got[r.order] = r.val
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for blocked poppers")
		}
	}
	require.Equal(t, []string{"first", "second", "third"}, got)
}

func TestStreamMonotonicIDs(t *testing.T) {
	e := newTestEngine(t)

	id1, err := e.XAdd("s", "*", []string{"field", "1"})
	require.NoError(t, err)

	id2, err := e.XAdd("s", "*", []string{"field", "2"})
	require.NoError(t, err)

	first, err := ParseStrictID(id1)
	require.NoError(t, err)
	second, err := ParseStrictID(id2)
	require.NoError(t, err)
	require.Equal(t, 1, compareStreamID(second, first))
}

func TestStreamExplicitIDOrdering(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.XAdd("s", "5-5", nil)
	require.NoError(t, err)

	_, err = e.XAdd("s", "5-5", nil)
	require.ErrorIs(t, err, ErrStreamIDOrder)

	_, err = e.XAdd("s", "5-4", nil)
	require.ErrorIs(t, err, ErrStreamIDOrder)

	id, err := e.XAdd("s", "5-*", nil)
	require.NoError(t, err)
	require.Equal(t, "5-6", id)
}

func TestStreamZeroIDRejected(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.XAdd("s", "0-0", nil)
	require.ErrorIs(t, err, ErrStreamIDZero)
}

func TestXRangeInclusiveBounds(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.XAdd("s", "1-1", []string{"a", "1"})
	require.NoError(t, err)
	_, err = e.XAdd("s", "2-1", []string{"a", "2"})
	require.NoError(t, err)
	_, err = e.XAdd("s", "3-1", []string{"a", "3"})
	require.NoError(t, err)

	entries, err := e.XRange("s", "-", "+", -1)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	entries, err = e.XRange("s", "2", "2", -1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "2-1", entries[0].ID)
}

func TestXReadBlockWakesOnAdd(t *testing.T) {
	e := newTestEngine(t)

	resCh := make(chan map[string][]StreamEntry, 1)
	go func() {
		res, err := e.XReadBlock([]string{"s"}, []StreamID{{}}, 2*time.Second, nil)
		require.NoError(t, err)
		resCh <- res
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := e.XAdd("s", "*", []string{"a", "1"})
	require.NoError(t, err)

	select {
	case res := <-resCh:
		require.Contains(t, res, "s")
		require.Len(t, res["s"], 1)
	case <-time.After(2 * time.Second):
		t.Fatal("XReadBlock did not wake on XAdd")
	}
}

func TestXReadBlockCancelUnblocksAndDeregisters(t *testing.T) {
	e := newTestEngine(t)

	cancel := make(chan struct{})
	resCh := make(chan map[string][]StreamEntry, 1)
	go func() {
		res, err := e.XReadBlock([]string{"s2"}, []StreamID{{}}, 0, cancel)
		require.NoError(t, err)
		resCh <- res
	}()

	time.Sleep(50 * time.Millisecond)
	close(cancel)

	select {
	case res := <-resCh:
		require.Nil(t, res)
	case <-time.After(2 * time.Second):
		t.Fatal("XReadBlock did not unblock on cancel")
	}

	e.exec(func(ks map[string]*entry) {
		require.Empty(t, e.streamWaiters["s2"])
	})
}

func TestZAddRankRangeScore(t *testing.T) {
	e := newTestEngine(t)

	added, err := e.ZAdd("z", []ZSetMember{{Member: "a", Score: 3}, {Member: "b", Score: 1}, {Member: "c", Score: 2}})
	require.NoError(t, err)
	require.Equal(t, 3, added)

	out, err := e.ZRange("z", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, memberNames(out))

	rank, ok, err := e.ZRank("z", "c")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, rank)

	score, ok, err := e.ZScore("z", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3.0, score)
}

func TestZAddScoreUpdateReordersWithoutDoubleCounting(t *testing.T) {
	e := newTestEngine(t)

	added, err := e.ZAdd("z", []ZSetMember{{Member: "a", Score: 1}})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	added, err = e.ZAdd("z", []ZSetMember{{Member: "a", Score: 100}})
	require.NoError(t, err)
	require.Equal(t, 0, added)

	card, err := e.ZCard("z")
	require.NoError(t, err)
	require.Equal(t, 1, card)

	score, _, err := e.ZScore("z", "a")
	require.NoError(t, err)
	require.Equal(t, 100.0, score)
}

func memberNames(members []ZSetMember) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Member
	}
	return out
}

func TestGeoEncodeDecodeRoundTripsApproximately(t *testing.T) {
	lat, lon := 40.7128, -74.0060 // New York
	hash := geohashEncode(lat, lon)
	gotLat, gotLon := geohashDecode(hash)

	require.InDelta(t, lat, gotLat, 0.001)
	require.InDelta(t, lon, gotLon, 0.001)
}

func TestGeoAddRejectsOutOfBounds(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.GeoAdd("geo", []GeoPoint{{Longitude: 200, Latitude: 0, Member: "bad"}})
	require.EqualError(t, err, "ERR invalid longitude,latitude pair 200,0")

	_, err = e.GeoAdd("geo", []GeoPoint{{Longitude: 0, Latitude: 86, Member: "bad"}})
	require.EqualError(t, err, "ERR invalid longitude,latitude pair 0,86")
}

func TestGeoDistKnownCities(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.GeoAdd("geo", []GeoPoint{
		{Longitude: -122.4194, Latitude: 37.7749, Member: "SF"},
		{Longitude: -73.9857, Latitude: 40.7484, Member: "NYC"},
	})
	require.NoError(t, err)

	dist, ok, err := e.GeoDist("geo", "SF", "NYC")
	require.NoError(t, err)
	require.True(t, ok)
	// True distance is roughly 4,130 km; geohash quantization allows slack.
	require.InDelta(t, 4_130_000, dist, 50_000)
}

func TestGeoSearchByRadiusFindsNearbyExcludesFar(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.GeoAdd("geo", []GeoPoint{
		{Longitude: -122.4194, Latitude: 37.7749, Member: "SF"},
		{Longitude: -122.2712, Latitude: 37.8044, Member: "Oakland"},
		{Longitude: -73.9857, Latitude: 40.7484, Member: "NYC"},
	})
	require.NoError(t, err)

	results, err := e.GeoSearchByRadius("geo", -122.4194, 37.7749, 20_000)
	require.NoError(t, err)

	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Member
	}
	require.Contains(t, names, "SF")
	require.Contains(t, names, "Oakland")
	require.NotContains(t, names, "NYC")
}

func TestKeysAndDeleteAndGetType(t *testing.T) {
	e := newTestEngine(t)

	e.Set("a", "1", nil)
	_, err := e.RPush("b", "x")
	require.NoError(t, err)

	require.Equal(t, "string", e.GetType("a"))
	require.Equal(t, "list", e.GetType("b"))
	require.Equal(t, "none", e.GetType("missing"))

	keys := e.Keys()
	require.ElementsMatch(t, []string{"a", "b"}, keys)

	require.True(t, e.Delete("a"))
	require.False(t, e.Delete("a"))
}
