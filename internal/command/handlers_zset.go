package command

import (
	"strconv"

	"redisd/internal/conn"
	"redisd/internal/resp"
	"redisd/internal/store"
)

func init() {
	register("ZADD", handleZAdd)
	register("ZRANK", handleZRank)
	register("ZRANGE", handleZRange)
	register("ZCARD", handleZCard)
	register("ZSCORE", handleZScore)
	register("ZREM", handleZRem)
}

// handleZAdd implements ZADD key score member [score member ...] (spec.md
// §4.5). Reply is the count of members newly added (updates don't count).
func handleZAdd(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) < 3 || len(cmd.Args)%2 != 1 {
		return wrongArgs("ZADD"), false, false
	}
	key := cmd.Args[0]
	rest := cmd.Args[1:]
	members := make([]store.ZSetMember, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		score, err := strconv.ParseFloat(rest[i], 64)
		if err != nil {
			return resp.NewError("ERR value is not a valid float"), false, false
		}
		members[i/2] = store.ZSetMember{Score: score, Member: rest[i+1]}
	}
	n, err := d.Engine.ZAdd(key, members)
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.NewInteger(int64(n)), true, false
}

func handleZRank(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 2 {
		return wrongArgs("ZRANK"), false, false
	}
	rank, ok, err := d.Engine.ZRank(cmd.Args[0], cmd.Args[1])
	if err != nil {
		return errFrame(err), false, false
	}
	if !ok {
		return resp.NewNullBulkString(), false, false
	}
	return resp.NewInteger(int64(rank)), false, false
}

func handleZRange(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 3 {
		return wrongArgs("ZRANGE"), false, false
	}
	start, err1 := strconv.Atoi(cmd.Args[1])
	stop, err2 := strconv.Atoi(cmd.Args[2])
	if err1 != nil || err2 != nil {
		return errFrame(store.ErrNotInteger), false, false
	}
	members, err := d.Engine.ZRange(cmd.Args[0], start, stop)
	if err != nil {
		return errFrame(err), false, false
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Member
	}
	return resp.StringArray(names...), false, false
}

func handleZCard(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 1 {
		return wrongArgs("ZCARD"), false, false
	}
	n, err := d.Engine.ZCard(cmd.Args[0])
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.NewInteger(int64(n)), false, false
}

func handleZScore(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 2 {
		return wrongArgs("ZSCORE"), false, false
	}
	score, ok, err := d.Engine.ZScore(cmd.Args[0], cmd.Args[1])
	if err != nil {
		return errFrame(err), false, false
	}
	if !ok {
		return resp.NewNullBulkString(), false, false
	}
	return resp.NewBulkString(strconv.FormatFloat(score, 'g', -1, 64)), false, false
}

func handleZRem(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) < 2 {
		return wrongArgs("ZREM"), false, false
	}
	var n int64
	for _, member := range cmd.Args[1:] {
		removed, err := d.Engine.ZRem(cmd.Args[0], member)
		if err != nil {
			return errFrame(err), false, false
		}
		if removed {
			n++
		}
	}
	return resp.NewInteger(n), n > 0, false
}
