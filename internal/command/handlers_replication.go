package command

import (
	"strconv"

	"redisd/internal/conn"
	"redisd/internal/resp"
)

func init() {
	register("PSYNC", handlePSync)
	register("REPLCONF_LP", handleReplconfLP)
	register("REPLCONF_CAPA", handleReplconfCapa)
	register("REPLCONF_GETACK", handleReplconfGetAck)
	register("REPLCONF_ACK", handleReplconfAck)
	register("WAIT", handleWait)
}

// handlePSync implements PSYNC ? -1 (spec.md §4.8): reply with
// "+FULLRESYNC <replid> 0", then the current snapshot as a FileDump frame,
// then flip the connection into replica mode so the accept loop hands it
// off to the replica-egress loop instead of the normal command loop.
//
// The FULLRESYNC line and the dump must reach the wire in that order, and
// nothing else may be interleaved between them, so this handler writes both
// directly via c.Send and returns a nil reply — the caller must treat a nil
// reply as "already written, nothing more to send".
func handlePSync(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	info := d.Repl.Info()
	fullresync := resp.NewSimpleString("FULLRESYNC " + info.MasterReplID + " 0")
	c.Send(fullresync.Bytes())

	dump := d.Repl.BeginFullResync(c)
	c.Send(resp.NewFileDump(dump).Bytes())

	c.SetMode(conn.ModeReplica)
	return nil, false, false
}

func handleReplconfLP(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	return resp.NewSimpleString("OK"), false, false
}

func handleReplconfCapa(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	return resp.NewSimpleString("OK"), false, false
}

// handleReplconfGetAck implements REPLCONF GETACK * as received by a
// replica from its master (spec.md §4.9 step 5): the reported offset is
// bytes processed strictly before this frame.
func handleReplconfGetAck(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	offset := c.ReceivedBytes() - int64(len(cmd.Raw.Bytes()))
	return resp.StringArray("REPLCONF", "ACK", strconv.FormatInt(offset, 10)), false, true
}

// handleReplconfAck implements REPLCONF ACK <offset>, as received by the
// master on a replica's egress connection (spec.md §4.8 step 4). No reply
// is sent back.
func handleReplconfAck(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 1 {
		return nil, false, false
	}
	offset, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		return nil, false, false
	}
	d.Repl.RecordAck(c, offset)
	return nil, false, false
}

// handleWait implements WAIT numreplicas timeout_ms (spec.md §4.6).
func handleWait(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 2 {
		return wrongArgs("WAIT"), false, false
	}
	numreplicas, err1 := strconv.Atoi(cmd.Args[0])
	timeoutMillis, err2 := strconv.Atoi(cmd.Args[1])
	if err1 != nil || err2 != nil {
		return resp.NewError("ERR value is not an integer or out of range"), false, false
	}
	n := d.Repl.Wait(numreplicas, timeoutMillis)
	return resp.NewInteger(int64(n)), false, false
}
