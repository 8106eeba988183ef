package rdbload

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redisd/internal/store"
)

// lengthPrefixed encodes s using the 6-bit length form (fine for the short
// strings these tests use).
func lengthPrefixed(s string) []byte {
	if len(s) >= 0x40 {
		panic("test string too long for 6-bit length encoding")
	}
	return append([]byte{byte(len(s))}, []byte(s)...)
}

func writeTestRDB(t *testing.T, dir, name string, body []byte) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.Write(body)
	buf.WriteByte(opEOF)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

func TestLoadMissingFileIsEmptyKeyspace(t *testing.T) {
	eng := store.NewEngine()
	defer eng.Close()

	err := Load(t.TempDir(), "dump.rdb", eng)
	require.NoError(t, err)
	assert.Empty(t, eng.Keys())
}

func TestLoadMalformedFileIsEmptyKeyspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dump.rdb"), []byte("not an rdb file"), 0o644))

	eng := store.NewEngine()
	defer eng.Close()

	err := Load(dir, "dump.rdb", eng)
	require.NoError(t, err)
	assert.Empty(t, eng.Keys())
}

func TestLoadPlainStringEntry(t *testing.T) {
	dir := t.TempDir()
	var body bytes.Buffer
	body.WriteByte(typeString)
	body.Write(lengthPrefixed("greeting"))
	body.Write(lengthPrefixed("hello"))
	writeTestRDB(t, dir, "dump.rdb", body.Bytes())

	eng := store.NewEngine()
	defer eng.Close()

	require.NoError(t, Load(dir, "dump.rdb", eng))
	val, ok, wrongType := eng.Get("greeting")
	require.True(t, ok)
	require.False(t, wrongType)
	assert.Equal(t, "hello", val)
}

func TestLoadSkipsAuxAndSelectDBAndResizeDB(t *testing.T) {
	dir := t.TempDir()
	var body bytes.Buffer
	body.WriteByte(opAux)
	body.Write(lengthPrefixed("redis-ver"))
	body.Write(lengthPrefixed("7.2.0"))
	body.WriteByte(opSelectDB)
	body.WriteByte(0x00)
	body.WriteByte(opResizeDB)
	body.WriteByte(0x01)
	body.WriteByte(0x00)
	body.WriteByte(typeString)
	body.Write(lengthPrefixed("k"))
	body.Write(lengthPrefixed("v"))
	writeTestRDB(t, dir, "dump.rdb", body.Bytes())

	eng := store.NewEngine()
	defer eng.Close()

	require.NoError(t, Load(dir, "dump.rdb", eng))
	val, ok, _ := eng.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestLoadExpiredEntryIsSkipped(t *testing.T) {
	dir := t.TempDir()
	var body bytes.Buffer
	body.WriteByte(opExpireMillis)
	pastMs := uint64(time.Now().Add(-time.Hour).UnixMilli())
	binary.Write(&body, binary.LittleEndian, pastMs)
	body.WriteByte(typeString)
	body.Write(lengthPrefixed("expired"))
	body.Write(lengthPrefixed("gone"))
	writeTestRDB(t, dir, "dump.rdb", body.Bytes())

	eng := store.NewEngine()
	defer eng.Close()

	require.NoError(t, Load(dir, "dump.rdb", eng))
	_, ok, _ := eng.Get("expired")
	assert.False(t, ok)
}

func TestLoadUnexpiredEntryWithSecondsForm(t *testing.T) {
	dir := t.TempDir()
	var body bytes.Buffer
	body.WriteByte(opExpireSeconds)
	futureSecs := uint32(time.Now().Add(time.Hour).Unix())
	binary.Write(&body, binary.LittleEndian, futureSecs)
	body.WriteByte(typeString)
	body.Write(lengthPrefixed("alive"))
	body.Write(lengthPrefixed("still-here"))
	writeTestRDB(t, dir, "dump.rdb", body.Bytes())

	eng := store.NewEngine()
	defer eng.Close()

	require.NoError(t, Load(dir, "dump.rdb", eng))
	val, ok, _ := eng.Get("alive")
	require.True(t, ok)
	assert.Equal(t, "still-here", val)
}

func TestLoadSpecialIntegerEncodedString(t *testing.T) {
	dir := t.TempDir()
	var body bytes.Buffer
	body.WriteByte(typeString)
	body.Write(lengthPrefixed("counter"))
	// special-form C0: one-byte signed integer, value -5.
	body.WriteByte(0xC0)
	body.WriteByte(byte(int8(-5)))
	writeTestRDB(t, dir, "dump.rdb", body.Bytes())

	eng := store.NewEngine()
	defer eng.Close()

	require.NoError(t, Load(dir, "dump.rdb", eng))
	val, ok, _ := eng.Get("counter")
	require.True(t, ok)
	assert.Equal(t, "-5", val)
}
