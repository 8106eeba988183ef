package resp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, f *Frame) {
	t.Helper()
	encoded := f.Bytes()
	got, n, err := Parse(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, encoded, got.Bytes())
}

func TestRoundTrip(t *testing.T) {
	roundTrip(t, NewSimpleString("OK"))
	roundTrip(t, NewError("ERR boom"))
	roundTrip(t, NewInteger(42))
	roundTrip(t, NewInteger(-7))
	roundTrip(t, NewBulkString("hello"))
	roundTrip(t, NewBulkString(""))
	roundTrip(t, NewNullBulkString())
	roundTrip(t, NewNullArray())
	roundTrip(t, StringArray("SET", "k", "v"))
	roundTrip(t, NewArray(NewInteger(1), NewBulkString("a"), NewArray(NewSimpleString("x"))))
}

func TestFragmentationNeverPartiallyConsumes(t *testing.T) {
	full := StringArray("SET", "key", "value").Bytes()
	for i := 0; i < len(full); i++ {
		prefix := full[:i]
		_, n, err := Parse(prefix)
		if err == nil {
			t.Fatalf("prefix of length %d unexpectedly parsed", i)
		}
		require.Equal(t, 0, n)
		require.ErrorIs(t, err, ErrNeedMore)
	}
	frame, n, err := Parse(full)
	require.NoError(t, err)
	require.Equal(t, len(full), n)
	args, ok := frame.Args()
	require.True(t, ok)
	require.Equal(t, []string{"SET", "key", "value"}, args)
}

func TestMalformedNeverNeedMore(t *testing.T) {
	_, _, err := Parse([]byte("*2\r\n$3\r\nabc\r\n%oops\r\n"))
	require.ErrorIs(t, err, ErrMalformed)

	_, _, err = Parse([]byte("$-2\r\n"))
	require.ErrorIs(t, err, ErrMalformed)

	_, _, err = Parse([]byte(":notanumber\r\n"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFileDumpNoTrailingCRLF(t *testing.T) {
	payload := []byte("REDIS0011...fakebody...")
	frame := NewFileDump(payload)
	encoded := frame.Bytes()
	require.False(t, len(encoded) >= 2 && encoded[len(encoded)-2] == '\r' && encoded[len(encoded)-1] == '\n',
		"file dump framing must not end in CRLF")

	got, n, err := ParseFileDump(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, payload, []byte(got.Str))

	// The generic array parser must not be fooled into accepting this shape
	// as an ordinary bulk string (it will report NeedMore forever since the
	// trailing CRLF it expects never arrives).
	_, _, err = Parse(encoded)
	require.ErrorIs(t, err, ErrNeedMore)
}

func TestNeedMoreAcrossEveryPrefixOfNestedArray(t *testing.T) {
	full := NewArray(
		NewInteger(1),
		NewBulkString("nested"),
		NewArray(NewSimpleString("ok"), NewNullBulkString()),
	).Bytes()
	for i := 0; i < len(full); i++ {
		_, _, err := Parse(full[:i])
		require.ErrorIs(t, err, ErrNeedMore)
	}
}
