package command

import (
	"strconv"
	"strings"

	"redisd/internal/conn"
	"redisd/internal/resp"
)

func init() {
	register("CONFIG_GET", handleConfigGet)
	register("INFO", handleInfo)
	register("AUTH", handleAuth)
	register("ACL_WHOAMI", handleACLWhoAmI)
	register("ACL_GETUSER", handleACLGetUser)
	register("ACL_SETUSER", handleACLSetUser)
}

// handleConfigGet implements CONFIG GET parameter [parameter ...], scoped to
// the dir and dbfilename parameters CONFIG_GET needs to answer (spec.md's
// supplemented CONFIG GET behavior, see SPEC_FULL.md).
func handleConfigGet(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) == 0 {
		return wrongArgs("CONFIG|GET"), false, false
	}
	var items []*resp.Frame
	for _, param := range cmd.Args {
		switch strings.ToLower(param) {
		case "dir":
			items = append(items, resp.NewBulkString("dir"), resp.NewBulkString(d.Cfg.Dir))
		case "dbfilename":
			items = append(items, resp.NewBulkString("dbfilename"), resp.NewBulkString(d.Cfg.DBFilename))
		}
	}
	return resp.NewArray(items...), false, false
}

// handleInfo implements INFO [section]; only the replication section is
// populated, per spec.md §4.6's default table entry "INFO REPLICATION".
func handleInfo(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	info := d.Repl.Info()
	var b strings.Builder
	b.WriteString("# Replication\r\n")
	b.WriteString("role:" + info.Role + "\r\n")
	if info.Role == "slave" {
		b.WriteString("master_host:" + info.MasterHost + "\r\n")
		b.WriteString("master_port:" + info.MasterPort + "\r\n")
	}
	b.WriteString("connected_slaves:" + strconv.Itoa(info.ConnectedSlaves) + "\r\n")
	b.WriteString("master_replid:" + info.MasterReplID + "\r\n")
	b.WriteString("master_repl_offset:" + strconv.FormatInt(info.MasterReplOffset, 10) + "\r\n")
	return resp.NewBulkString(b.String()), false, false
}

// handleAuth is a no-op success: the server runs without password
// authentication, but clients following the standard handshake still issue
// AUTH and expect +OK rather than a connection error.
func handleAuth(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	return resp.NewSimpleString("OK"), false, false
}

func handleACLWhoAmI(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	return resp.NewBulkString("default"), false, false
}

// handleACLGetUser implements ACL GETUSER default against a single
// hardcoded built-in user (spec.md's supplemented ACL support, see
// SPEC_FULL.md).
func handleACLGetUser(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 1 || cmd.Args[0] != "default" {
		return resp.NewNullArray(), false, false
	}
	return resp.NewArray(
		resp.NewBulkString("flags"),
		resp.NewArray(resp.NewBulkString("on"), resp.NewBulkString("allkeys"), resp.NewBulkString("allcommands")),
		resp.NewBulkString("passwords"),
		resp.NewArray(),
		resp.NewBulkString("commands"),
		resp.NewBulkString("+@all"),
		resp.NewBulkString("keys"),
		resp.NewBulkString("~*"),
	), false, false
}

// handleACLSetUser is a no-op +OK: the server has exactly one built-in user
// and does not persist ACL rule changes.
func handleACLSetUser(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	return resp.NewSimpleString("OK"), false, false
}
