package command

import (
	"strconv"
	"strings"
	"time"

	"redisd/internal/conn"
	"redisd/internal/resp"
	"redisd/internal/store"
)

func init() {
	register("XADD", handleXAdd)
	register("XRANGE", handleXRange)
	register("XREAD", handleXRead)
}

func handleXAdd(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) < 4 || len(cmd.Args)%2 != 0 {
		return wrongArgs("XADD"), false, false
	}
	key, idSpec := cmd.Args[0], cmd.Args[1]
	fields := cmd.Args[2:]
	id, err := d.Engine.XAdd(key, idSpec, fields)
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.NewBulkString(id), true, false
}

func handleXRange(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 3 {
		return wrongArgs("XRANGE"), false, false
	}
	entries, err := d.Engine.XRange(cmd.Args[0], cmd.Args[1], cmd.Args[2], -1)
	if err != nil {
		return errFrame(err), false, false
	}
	return streamEntriesFrame(entries), false, false
}

func streamEntriesFrame(entries []store.StreamEntry) *resp.Frame {
	items := make([]*resp.Frame, len(entries))
	for i, e := range entries {
		items[i] = resp.NewArray(resp.NewBulkString(e.ID), resp.StringArray(e.Fields...))
	}
	return resp.NewArray(items...)
}

// handleXRead implements XREAD [BLOCK ms] STREAMS key [key ...] id [id ...]
// (spec.md §4.2, §4.4). Its reply shape is an array of
// [streamKey, [[id, [field value ...]], ...]] pairs, one per stream that
// has new entries (omitted if XREAD without BLOCK found nothing).
func handleXRead(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	args := cmd.Args
	var blockMillis int64 = -1 // -1 means non-blocking
	if len(args) >= 2 && strings.ToUpper(args[0]) == "BLOCK" {
		ms, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return errFrame(store.ErrNotInteger), false, false
		}
		blockMillis = ms
		args = args[2:]
	}
	if len(args) < 3 || strings.ToUpper(args[0]) != "STREAMS" {
		return resp.NewError("ERR syntax error"), false, false
	}
	args = args[1:]
	if len(args)%2 != 0 {
		return resp.NewError("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified"), false, false
	}
	n := len(args) / 2
	keys := args[:n]
	idSpecs := args[n:]

	after := make([]store.StreamID, n)
	for i, spec := range idSpecs {
		if spec == "$" {
			id, _, err := d.Engine.XLastID(keys[i])
			if err != nil {
				return errFrame(err), false, false
			}
			after[i] = id
			continue
		}
		id, err := store.ParseStrictID(spec)
		if err != nil {
			return errFrame(err), false, false
		}
		after[i] = id
	}

	var results map[string][]store.StreamEntry
	var err error
	if blockMillis < 0 {
		results, err = d.Engine.XRead(keys, after)
	} else {
		timeout := time.Duration(blockMillis) * time.Millisecond
		results, err = d.Engine.XReadBlock(keys, after, timeout, c.Closing())
	}
	if err != nil {
		return errFrame(err), false, false
	}
	if len(results) == 0 {
		return resp.NewNullArray(), false, false
	}

	streamFrames := make([]*resp.Frame, 0, len(results))
	for _, key := range keys {
		entries, ok := results[key]
		if !ok {
			continue
		}
		streamFrames = append(streamFrames, resp.NewArray(resp.NewBulkString(key), streamEntriesFrame(entries)))
	}
	return resp.NewArray(streamFrames...), false, false
}
