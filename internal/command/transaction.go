package command

import (
	"redisd/internal/conn"
	"redisd/internal/resp"
)

func init() {
	register("MULTI", handleMulti)
	register("EXEC", handleExec)
	register("DISCARD", handleDiscard)
}

// dispatchTransactionMode implements spec.md §4.6's transaction table:
// EXEC and DISCARD run immediately, MULTI is rejected as nested, and
// everything else is queued and answered with +QUEUED.
func (d *Dispatcher) dispatchTransactionMode(c *conn.Conn, cmd *Command) (*resp.Frame, bool) {
	switch cmd.Name {
	case "EXEC":
		reply, shouldReplicate, _ := handleExec(d, c, cmd)
		return reply, shouldReplicate
	case "DISCARD":
		reply, shouldReplicate, _ := handleDiscard(d, c, cmd)
		return reply, shouldReplicate
	case "MULTI":
		return resp.NewError("ERR MULTI inside MULTI"), false
	default:
		c.QueueCommand(append([]string{cmd.Name}, cmd.Args...))
		return resp.NewSimpleString("QUEUED"), false
	}
}

func handleMulti(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	c.SetMode(conn.ModeTransaction)
	return resp.NewSimpleString("OK"), false, false
}

// handleExec runs every queued command in arrival order against the
// default handler table (spec.md §4.6), collecting replies into a single
// array reply. Each sub-command's own should_replicate decides whether its
// reconstructed frame is forwarded to replicas individually; EXEC itself
// is not separately re-propagated, since a replica has no notion of a
// pending transaction queue to replay it against (see DESIGN.md's
// EXEC-propagation decision).
func handleExec(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if c.Mode() != conn.ModeTransaction {
		return resp.NewError("ERR EXEC without MULTI"), false, false
	}
	queued := c.DrainQueue()
	c.SetMode(conn.ModeNormal)

	replies := make([]*resp.Frame, 0, len(queued))
	for _, args := range queued {
		sub := &Command{Name: args[0], Args: args[1:]}
		reply, shouldReplicate, _ := d.Apply(c, sub)
		replies = append(replies, reply)
		if shouldReplicate && d.Repl != nil {
			d.Repl.Propagate(resp.StringArray(append([]string{sub.Name}, sub.Args...)).Bytes())
		}
	}
	return resp.NewArray(replies...), false, false
}

func handleDiscard(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if c.Mode() != conn.ModeTransaction {
		return resp.NewError("ERR DISCARD without MULTI"), false, false
	}
	c.DrainQueue()
	c.SetMode(conn.ModeNormal)
	return resp.NewSimpleString("OK"), false, false
}
