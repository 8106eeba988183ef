package command

import (
	"strconv"
	"strings"

	"redisd/internal/conn"
	"redisd/internal/resp"
	"redisd/internal/store"
)

func init() {
	register("PING", handlePing)
	register("ECHO", handleEcho)
	register("GET", handleGet)
	register("SET", handleSet)
	register("DEL", handleDel)
	register("INCR", handleIncr)
	register("TYPE", handleType)
	register("KEYS", handleKeys)
}

func handlePing(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) == 1 {
		return resp.NewBulkString(cmd.Args[0]), false, false
	}
	return resp.NewSimpleString("PONG"), false, false
}

func handleEcho(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 1 {
		return wrongArgs("ECHO"), false, false
	}
	return resp.NewBulkString(cmd.Args[0]), false, false
}

func handleGet(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 1 {
		return wrongArgs("GET"), false, false
	}
	value, ok, wrongType := d.Engine.Get(cmd.Args[0])
	if wrongType {
		return errFrame(store.ErrWrongType), false, false
	}
	if !ok {
		return resp.NewNullBulkString(), false, false
	}
	return resp.NewBulkString(value), false, false
}

// handleSet implements SET key value [PX milliseconds] (spec.md §4.2's
// TTL semantics; spec.md scopes SET to this one option).
func handleSet(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 2 && len(cmd.Args) != 4 {
		return wrongArgs("SET"), false, false
	}
	key, value := cmd.Args[0], cmd.Args[1]
	var px *int64
	if len(cmd.Args) == 4 {
		if strings.ToUpper(cmd.Args[2]) != "PX" {
			return resp.NewError("ERR syntax error"), false, false
		}
		ms, err := strconv.ParseInt(cmd.Args[3], 10, 64)
		if err != nil {
			return errFrame(store.ErrNotInteger), false, false
		}
		px = &ms
	}
	d.Engine.Set(key, value, px)
	return resp.NewSimpleString("OK"), true, false
}

func handleDel(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) == 0 {
		return wrongArgs("DEL"), false, false
	}
	var n int64
	for _, key := range cmd.Args {
		if d.Engine.Delete(key) {
			n++
		}
	}
	return resp.NewInteger(n), n > 0, false
}

func handleIncr(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 1 {
		return wrongArgs("INCR"), false, false
	}
	n, err := d.Engine.Incr(cmd.Args[0])
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.NewInteger(n), true, false
}

func handleType(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 1 {
		return wrongArgs("TYPE"), false, false
	}
	return resp.NewSimpleString(d.Engine.GetType(cmd.Args[0])), false, false
}

func handleKeys(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	keys := d.Engine.Keys()
	return resp.StringArray(keys...), false, false
}
