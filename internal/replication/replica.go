package replication

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"redisd/internal/command"
	"redisd/internal/conn"
	"redisd/internal/resp"
)

// Client is the replica-side half of replication (spec.md §4.9): dial the
// configured master, run the PING/REPLCONF/PSYNC handshake, discard the
// RDB snapshot, then apply the streamed command frames against the local
// dispatcher with replies suppressed except where should_ack is set.
//
// Grounded on the teacher's ReplicationManager.performHandshake step
// sequence, rebuilt around this repo's conn.Conn/command.Dispatcher
// instead of the teacher's own bufio-based read/write helpers and
// commandExecutor callback.
type Client struct {
	masterHost string
	masterPort string
	listenPort string
	dispatcher *command.Dispatcher
	hub        *Master // this server's own Master, updated to report role=slave
	log        *zap.SugaredLogger
}

func NewClient(masterHost, masterPort, listenPort string, d *command.Dispatcher, hub *Master, log *zap.SugaredLogger) *Client {
	return &Client{
		masterHost: masterHost,
		masterPort: masterPort,
		listenPort: listenPort,
		dispatcher: d,
		hub:        hub,
		log:        log,
	}
}

// Run dials the master and blocks applying its command stream until ctx is
// cancelled or attempts are exhausted, retrying the whole handshake with
// linear back-off (spec.md §4.9 step 1 "retry with linear back-off up to a
// bounded number of attempts, then give up").
func (cl *Client) Run(ctx context.Context) error {
	const maxAttempts = 10
	cl.hub.SetReplicaOf(cl.masterHost, cl.masterPort)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := cl.runOnce(ctx)
		if err == nil {
			return nil
		}
		cl.log.Warnw("replication link to master failed", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return fmt.Errorf("replication: giving up on master %s:%s after %d attempts", cl.masterHost, cl.masterPort, maxAttempts)
}

func (cl *Client) runOnce(ctx context.Context) error {
	addr := net.JoinHostPort(cl.masterHost, cl.masterPort)
	nc, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return err
	}
	defer nc.Close()

	var buf []byte

	if err := sendCommand(nc, "PING"); err != nil {
		return err
	}
	if f, err := readFrame(nc, &buf); err != nil {
		return err
	} else if !isSimpleString(f, "PONG") {
		return fmt.Errorf("replication: unexpected PING reply %q", f.String())
	}

	if err := sendCommand(nc, "REPLCONF", "listening-port", cl.listenPort); err != nil {
		return err
	}
	if f, err := readFrame(nc, &buf); err != nil {
		return err
	} else if !isSimpleString(f, "OK") {
		return fmt.Errorf("replication: unexpected REPLCONF listening-port reply %q", f.String())
	}

	if err := sendCommand(nc, "REPLCONF", "capa", "psync2"); err != nil {
		return err
	}
	if f, err := readFrame(nc, &buf); err != nil {
		return err
	} else if !isSimpleString(f, "OK") {
		return fmt.Errorf("replication: unexpected REPLCONF capa reply %q", f.String())
	}

	if err := sendCommand(nc, "PSYNC", "?", "-1"); err != nil {
		return err
	}
	f, err := readFrame(nc, &buf)
	if err != nil {
		return err
	}
	words := strings.Fields(f.Str)
	if f.Kind != resp.SimpleString || len(words) == 0 || words[0] != "FULLRESYNC" {
		return fmt.Errorf("replication: unexpected PSYNC reply %q", f.String())
	}

	// Read and discard the RDB snapshot (spec.md §4.9 step 3).
	_, leftover, err := conn.ReadFileDump(nc, buf)
	if err != nil {
		return err
	}

	c := conn.NewWithPrefill("replica-link", nc, cl.log, leftover)
	c.ResetByteCounters()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-c.Frames():
			if !ok {
				return c.Err()
			}
			cmd := command.Parse(frame)
			reply, _, shouldAck := cl.dispatcher.Apply(c, cmd)
			if shouldAck && reply != nil {
				c.Send(reply.Bytes())
			}
		}
	}
}

func sendCommand(nc net.Conn, args ...string) error {
	_, err := nc.Write(resp.StringArray(args...).Bytes())
	return err
}

// readFrame reads off nc, starting from whatever is already buffered in
// *buf, until one complete frame parses.
func readFrame(nc net.Conn, buf *[]byte) (*resp.Frame, error) {
	chunk := make([]byte, 4096)
	for {
		f, consumed, err := resp.Parse(*buf)
		if err == nil {
			*buf = (*buf)[consumed:]
			return f, nil
		}
		if err != resp.ErrNeedMore {
			return nil, err
		}
		n, rerr := nc.Read(chunk)
		if n > 0 {
			*buf = append(*buf, chunk[:n]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

func isSimpleString(f *resp.Frame, want string) bool {
	return f.Kind == resp.SimpleString && strings.EqualFold(f.Str, want)
}
