// Package rdbload implements the startup RDB snapshot loader spec.md §6
// describes: the standard Redis RDB header and length-encoding rules,
// restricted to string entries with optional expiration (the only value
// type the on-disk format needs to carry for this server).
//
// Grounded on the teacher repo's internal/rdb/reader.go for the opcode
// sequence and length-encoding switch, trimmed of the teacher's list/hash/
// set value types (this server's RDB subset is strings-only per spec.md
// §6) and its CRC64 checksum trailer (spec.md's format ends at the EOF
// opcode with no checksum).
package rdbload

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"redisd/internal/store"
)

const (
	opAux           = 0xFA
	opSelectDB      = 0xFE
	opResizeDB      = 0xFB
	opExpireSeconds = 0xFD
	opExpireMillis  = 0xFC
	opEOF           = 0xFF

	typeString = 0x00
)

// Load reads <dir>/<dbfilename>, if present, and bulk-loads its string
// entries into eng. A missing file leaves the keyspace empty. A file that
// fails to parse is not a startup error either: the error is discarded,
// entries read before the failure stay loaded and the rest are skipped —
// spec.md §9's explicit decision to keep the original's silent-on-malformed
// behavior (see DESIGN.md).
func Load(dir, dbfilename string, eng *store.Engine) error {
	path := filepath.Join(dir, dbfilename)
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	_ = loadFrom(bufio.NewReader(f), eng)
	return nil
}

func loadFrom(r *bufio.Reader, eng *store.Engine) error {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	if string(header[:5]) != "REDIS" {
		return fmt.Errorf("rdbload: bad magic %q", header[:5])
	}

	now := time.Now()

	for {
		typeByte, err := r.ReadByte()
		if err != nil {
			return err
		}

		var expiresAt *time.Time
		switch typeByte {
		case opEOF:
			return nil

		case opAux:
			if _, err := readString(r); err != nil {
				return err
			}
			if _, err := readString(r); err != nil {
				return err
			}
			continue

		case opSelectDB:
			if _, _, err := readLength(r); err != nil {
				return err
			}
			continue

		case opResizeDB:
			if _, _, err := readLength(r); err != nil {
				return err
			}
			if _, _, err := readLength(r); err != nil {
				return err
			}
			continue

		case opExpireSeconds:
			var secs uint32
			if err := binary.Read(r, binary.LittleEndian, &secs); err != nil {
				return err
			}
			t := time.Unix(int64(secs), 0)
			expiresAt = &t
			typeByte, err = r.ReadByte()
			if err != nil {
				return err
			}

		case opExpireMillis:
			var ms uint64
			if err := binary.Read(r, binary.LittleEndian, &ms); err != nil {
				return err
			}
			t := time.UnixMilli(int64(ms))
			expiresAt = &t
			typeByte, err = r.ReadByte()
			if err != nil {
				return err
			}
		}

		if typeByte != typeString {
			return fmt.Errorf("rdbload: unsupported entry type %#x", typeByte)
		}

		key, err := readString(r)
		if err != nil {
			return err
		}
		value, err := readString(r)
		if err != nil {
			return err
		}

		if expiresAt != nil {
			if !expiresAt.After(now) {
				continue
			}
			remaining := expiresAt.Sub(now).Milliseconds()
			eng.Set(key, value, &remaining)
			continue
		}
		eng.Set(key, value, nil)
	}
}

// readLength implements spec.md §6's four-way length prefix: 6-bit,
// 14-bit big-endian, 32-bit big-endian, or a "special" encoding (the C0/C1/
// C2 integer forms), in which case the returned length is the 6-bit
// special-form selector rather than a byte count.
func readLength(r *bufio.Reader) (length uint64, special bool, err error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}
	switch first >> 6 {
	case 0:
		return uint64(first & 0x3F), false, nil
	case 1:
		second, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(first&0x3F)<<8 | uint64(second), false, nil
	case 2:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, false, err
		}
		return uint64(binary.BigEndian.Uint32(buf)), false, nil
	default:
		return uint64(first & 0x3F), true, nil
	}
}

// readString reads a length-prefixed string, or (for the special C0/C1/C2
// forms) a little-endian integer formatted as its decimal string.
func readString(r *bufio.Reader) (string, error) {
	length, special, err := readLength(r)
	if err != nil {
		return "", err
	}
	if special {
		switch length {
		case 0:
			b, err := r.ReadByte()
			if err != nil {
				return "", err
			}
			return strconv.Itoa(int(int8(b))), nil
		case 1:
			buf := make([]byte, 2)
			if _, err := io.ReadFull(r, buf); err != nil {
				return "", err
			}
			return strconv.Itoa(int(int16(binary.LittleEndian.Uint16(buf)))), nil
		case 2:
			buf := make([]byte, 4)
			if _, err := io.ReadFull(r, buf); err != nil {
				return "", err
			}
			return strconv.Itoa(int(int32(binary.LittleEndian.Uint32(buf)))), nil
		default:
			return "", fmt.Errorf("rdbload: unsupported special string encoding %d", length)
		}
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
