// Package command turns decoded RESP frames into dispatched operations
// against the storage engine: argument parsing, the three per-mode
// handler tables spec.md §4.6 describes, MULTI/EXEC/DISCARD, and pub/sub
// SUBSCRIBE/PUBLISH gating.
//
// It is grounded on the teacher repo's internal/handler package (a single
// map[string]CommandFunc plus TransactionManager/BlockingManager), reshaped
// per spec.md §9's explicit direction: a small per-connection mode enum
// (see internal/conn.Mode) selecting between three tables, rather than the
// teacher's scattered pipeline/transaction booleans.
package command

import (
	"strings"

	"go.uber.org/zap"

	"redisd/internal/conn"
	"redisd/internal/resp"
	"redisd/internal/store"
)

// Command is one parsed inbound request: an uppercased, possibly
// subcommand-joined name plus its remaining arguments.
type Command struct {
	Name string
	Args []string
	Raw  *resp.Frame
}

// subcommandJoin returns the joined name and the arguments with the
// subcommand token consumed, or ok=false if name takes no subcommand
// (spec.md §4.6 "a two-token join with _ enables sub-commands").
func subcommandJoin(name string, args []string) (joined string, rest []string, ok bool) {
	if len(args) == 0 {
		return "", args, false
	}
	sub := strings.ToUpper(args[0])
	switch name {
	case "CONFIG", "ACL":
		return name + "_" + sub, args[1:], true
	case "REPLCONF":
		switch sub {
		case "LISTENING-PORT":
			return "REPLCONF_LP", args[1:], true
		case "CAPA":
			return "REPLCONF_CAPA", args[1:], true
		case "GETACK":
			return "REPLCONF_GETACK", args[1:], true
		case "ACK":
			return "REPLCONF_ACK", args[1:], true
		default:
			return "REPLCONF_" + sub, args[1:], true
		}
	default:
		return "", args, false
	}
}

// Parse turns a decoded frame into a Command. A frame that is not a
// non-empty array of bulk strings produces the synthetic "ERROR" command
// (spec.md §4.6).
func Parse(frame *resp.Frame) *Command {
	args, ok := frame.Args()
	if !ok || len(args) == 0 {
		return &Command{Name: "ERROR", Raw: frame}
	}
	name := strings.ToUpper(args[0])
	rest := args[1:]
	if joined, r, ok := subcommandJoin(name, rest); ok {
		name, rest = joined, r
	}
	return &Command{Name: name, Args: rest, Raw: frame}
}

// ReplicationHub is the master-side replication capability the default
// handler table's PSYNC/REPLCONF/WAIT handlers need. internal/replication
// implements it; command never imports replication directly, so the
// dependency points the other way (replication -> command, to drive the
// replica-side apply loop) without a cycle.
type ReplicationHub interface {
	Info() ReplicationInfo
	BeginFullResync(c *conn.Conn) []byte
	RecordAck(c *conn.Conn, offset int64)
	Wait(numreplicas, timeoutMillis int) int
	Propagate(raw []byte)
}

// ReplicationInfo is what INFO REPLICATION reports.
type ReplicationInfo struct {
	Role             string
	MasterHost       string
	MasterPort       string
	ConnectedSlaves  int
	MasterReplID     string
	MasterReplOffset int64
}

// Config carries the handful of server-wide settings CONFIG GET answers
// (spec.md's supplemented CONFIG GET behavior — see SPEC_FULL.md).
type Config struct {
	Dir        string
	DBFilename string
}

// Dispatcher routes parsed commands to handlers and owns the server-wide
// state a single connection's handlers can't: the pub/sub hub and the
// replication capability. The keyspace itself lives in store.Engine.
type Dispatcher struct {
	Engine *store.Engine
	Hub    *PubSubHub
	Repl   ReplicationHub
	Cfg    Config
	Log    *zap.SugaredLogger
}

// HandlerFunc executes one command against the dispatcher state for the
// given connection, returning the reply frame and the two booleans
// spec.md §4.6 names: shouldReplicate (forward the original frame to
// replicas) and shouldAck (reply even though replies are otherwise
// suppressed on a replica applying its master's stream).
type HandlerFunc func(d *Dispatcher, c *conn.Conn, cmd *Command) (reply *resp.Frame, shouldReplicate bool, shouldAck bool)

// subscribedAllowed is the fixed whitelist spec.md §4.6 gives the
// subscribed-mode table.
var subscribedAllowed = map[string]bool{
	"SUBSCRIBE":   true,
	"UNSUBSCRIBE": true,
	"PUBLISH":     true,
	"PING":        true,
}

// Dispatch runs cmd (already parsed from an inbound frame) against c
// according to c's current mode, returning the reply to send and whether
// the command should be propagated to replicas.
func (d *Dispatcher) Dispatch(c *conn.Conn, cmd *Command) (reply *resp.Frame, shouldReplicate bool) {
	switch c.Mode() {
	case conn.ModeTransaction:
		return d.dispatchTransactionMode(c, cmd)
	case conn.ModeSubscribed:
		return d.dispatchSubscribedMode(c, cmd)
	default:
		return d.dispatchDefault(c, cmd)
	}
}

func (d *Dispatcher) dispatchDefault(c *conn.Conn, cmd *Command) (*resp.Frame, bool) {
	handler, ok := defaultTable[cmd.Name]
	if !ok {
		return resp.NewError("ERR unknown command '" + cmd.Name + "'"), false
	}
	reply, shouldReplicate, _ := handler(d, c, cmd)
	return reply, shouldReplicate
}

func (d *Dispatcher) dispatchSubscribedMode(c *conn.Conn, cmd *Command) (*resp.Frame, bool) {
	if !subscribedAllowed[cmd.Name] {
		return resp.NewError("ERR Can't execute '" + strings.ToLower(cmd.Name) +
			"': only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context"), false
	}
	handler := defaultTable[cmd.Name]
	reply, shouldReplicate, _ := handler(d, c, cmd)
	return reply, shouldReplicate
}

// Apply runs cmd against the default table regardless of mode, used by
// EXEC (spec.md §4.6 "runs the queued commands ... against the default
// handler table") and by the replica-side apply loop (spec.md §4.9 step
// 4), which also needs shouldAck.
func (d *Dispatcher) Apply(c *conn.Conn, cmd *Command) (reply *resp.Frame, shouldReplicate bool, shouldAck bool) {
	handler, ok := defaultTable[cmd.Name]
	if !ok {
		return resp.NewError("ERR unknown command '" + cmd.Name + "'"), false, false
	}
	return handler(d, c, cmd)
}

var defaultTable map[string]HandlerFunc

func register(name string, fn HandlerFunc) {
	if defaultTable == nil {
		defaultTable = make(map[string]HandlerFunc)
	}
	defaultTable[name] = fn
}

func wrongArgs(cmd string) *resp.Frame {
	return resp.NewError("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
}

func errFrame(err error) *resp.Frame {
	return resp.NewError(err.Error())
}
