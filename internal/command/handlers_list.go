package command

import (
	"strconv"
	"time"

	"redisd/internal/conn"
	"redisd/internal/resp"
	"redisd/internal/store"
)

func init() {
	register("RPUSH", handleRPush)
	register("LPUSH", handleLPush)
	register("LLEN", handleLLen)
	register("LRANGE", handleLRange)
	register("LPOP", handleLPop)
	register("BLPOP", handleBLPop)
}

func handleRPush(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) < 2 {
		return wrongArgs("RPUSH"), false, false
	}
	n, err := d.Engine.RPush(cmd.Args[0], cmd.Args[1:]...)
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.NewInteger(int64(n)), true, false
}

func handleLPush(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) < 2 {
		return wrongArgs("LPUSH"), false, false
	}
	n, err := d.Engine.LPush(cmd.Args[0], cmd.Args[1:]...)
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.NewInteger(int64(n)), true, false
}

func handleLLen(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 1 {
		return wrongArgs("LLEN"), false, false
	}
	n, err := d.Engine.LLen(cmd.Args[0])
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.NewInteger(int64(n)), false, false
}

func handleLRange(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 3 {
		return wrongArgs("LRANGE"), false, false
	}
	start, err1 := strconv.Atoi(cmd.Args[1])
	stop, err2 := strconv.Atoi(cmd.Args[2])
	if err1 != nil || err2 != nil {
		return errFrame(store.ErrNotInteger), false, false
	}
	items, err := d.Engine.LRange(cmd.Args[0], start, stop)
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.StringArray(items...), false, false
}

// handleLPop implements LPOP key [count] (spec.md §4.2 lpop_one/lpop_many).
func handleLPop(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	switch len(cmd.Args) {
	case 1:
		v, ok, err := d.Engine.LPopOne(cmd.Args[0])
		if err != nil {
			return errFrame(err), false, false
		}
		if !ok {
			return resp.NewNullBulkString(), false, false
		}
		return resp.NewBulkString(v), true, false
	case 2:
		count, err := strconv.Atoi(cmd.Args[1])
		if err != nil {
			return errFrame(store.ErrNotInteger), false, false
		}
		items, err := d.Engine.LPopMany(cmd.Args[0], count)
		if err != nil {
			return errFrame(err), false, false
		}
		if len(items) == 0 {
			return resp.NewNullArray(), false, false
		}
		return resp.StringArray(items...), true, false
	default:
		return wrongArgs("LPOP"), false, false
	}
}

// handleBLPop implements BLPOP key [key ...] timeout. timeout is seconds,
// fractional allowed, 0 meaning block forever (spec.md §4.3).
func handleBLPop(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) < 2 {
		return wrongArgs("BLPOP"), false, false
	}
	keys := cmd.Args[:len(cmd.Args)-1]
	secs, err := strconv.ParseFloat(cmd.Args[len(cmd.Args)-1], 64)
	if err != nil {
		return resp.NewError("ERR timeout is not a float or out of range"), false, false
	}
	var timeout time.Duration
	if secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	key, value, ok := d.Engine.BLPop(keys, timeout, c.Closing())
	if !ok {
		return resp.NewNullArray(), false, false
	}
	return resp.StringArray(key, value), true, false
}
