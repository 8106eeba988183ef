package resp

import "strconv"

// Bytes returns the canonical wire encoding of f, computing and caching it
// on first call. Bytes is idempotent: repeated calls return the same slice.
func (f *Frame) Bytes() []byte {
	if f.encoded != nil {
		return f.encoded
	}
	f.encoded = encode(f)
	return f.encoded
}

func encode(f *Frame) []byte {
	switch f.Kind {
	case SimpleString:
		return encodeLine('+', f.Str)
	case Error:
		return encodeLine('-', f.Str)
	case Integer:
		return encodeLine(':', strconv.FormatInt(f.Int, 10))
	case BulkString:
		if f.Null {
			return []byte("$-1\r\n")
		}
		return encodeBulk(f.Str)
	case Array:
		if f.Null {
			return []byte("*-1\r\n")
		}
		buf := make([]byte, 0, 16)
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(f.Items)), 10)
		buf = append(buf, '\r', '\n')
		for _, item := range f.Items {
			buf = append(buf, item.Bytes()...)
		}
		return buf
	case FileDump:
		buf := make([]byte, 0, len(f.Str)+16)
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(f.Str)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, f.Str...)
		return buf
	default:
		return nil
	}
}

func encodeLine(prefix byte, s string) []byte {
	buf := make([]byte, 0, len(s)+3)
	buf = append(buf, prefix)
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	return buf
}

func encodeBulk(s string) []byte {
	buf := make([]byte, 0, len(s)+16)
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	return buf
}
