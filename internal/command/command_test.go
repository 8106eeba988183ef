package command

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"redisd/internal/conn"
	"redisd/internal/resp"
	"redisd/internal/store"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *conn.Conn, net.Conn) {
	t.Helper()
	engine := store.NewEngine()
	t.Cleanup(engine.Close)

	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	log := zap.NewNop().Sugar()
	c := conn.New("test-conn", server, log)

	// Drain the client side so writer goroutine never blocks on an
	// unread pipe.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	d := &Dispatcher{
		Engine: engine,
		Hub:    NewPubSubHub(),
		Cfg:    Config{Dir: ".", DBFilename: "dump.rdb"},
		Log:    log,
	}
	return d, c, client
}

func cmd(name string, args ...string) *Command {
	return &Command{Name: name, Args: args}
}

func TestSetGetRoundTrip(t *testing.T) {
	d, c, _ := newTestDispatcher(t)

	reply, replicate := d.Dispatch(c, cmd("SET", "a", "1"))
	assert.True(t, replicate)
	assert.Equal(t, resp.NewSimpleString("OK"), reply)

	reply, replicate = d.Dispatch(c, cmd("GET", "a"))
	assert.False(t, replicate)
	assert.Equal(t, resp.NewBulkString("1"), reply)
}

func TestUnknownCommand(t *testing.T) {
	d, c, _ := newTestDispatcher(t)

	reply, replicate := d.Dispatch(c, cmd("NOTACOMMAND"))
	assert.False(t, replicate)
	require.Equal(t, resp.Error, reply.Kind)
}

// TestMultiExecDiscard exercises the literal MULTI/SET/INCR/EXEC sequence
// spec.md §4.6 walks through: MULTI queues, EXEC runs the queue in order
// against the default table and returns one array reply.
func TestMultiExecDiscard(t *testing.T) {
	d, c, _ := newTestDispatcher(t)

	reply, _ := d.Dispatch(c, cmd("MULTI"))
	assert.Equal(t, resp.NewSimpleString("OK"), reply)
	assert.Equal(t, conn.ModeTransaction, c.Mode())

	reply, _ = d.Dispatch(c, cmd("SET", "a", "1"))
	assert.Equal(t, resp.NewSimpleString("QUEUED"), reply)

	reply, _ = d.Dispatch(c, cmd("INCR", "a"))
	assert.Equal(t, resp.NewSimpleString("QUEUED"), reply)

	reply, _ = d.Dispatch(c, cmd("EXEC"))
	assert.Equal(t, conn.ModeNormal, c.Mode())
	want := resp.NewArray(resp.NewSimpleString("OK"), resp.NewInteger(2))
	assert.Equal(t, want, reply)
}

func TestExecWithoutMulti(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	reply, _ := d.Dispatch(c, cmd("EXEC"))
	require.Equal(t, resp.Error, reply.Kind)
}

func TestMultiRejectsNestedMulti(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	d.Dispatch(c, cmd("MULTI"))
	reply, _ := d.Dispatch(c, cmd("MULTI"))
	require.Equal(t, resp.Error, reply.Kind)
}

func TestDiscardClearsQueue(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	d.Dispatch(c, cmd("MULTI"))
	d.Dispatch(c, cmd("SET", "a", "1"))

	reply, _ := d.Dispatch(c, cmd("DISCARD"))
	assert.Equal(t, resp.NewSimpleString("OK"), reply)
	assert.Equal(t, conn.ModeNormal, c.Mode())

	_, ok, _ := d.Engine.Get("a")
	assert.False(t, ok)
}

// TestSubscribedModeRestrictsCommands checks the subscribed-mode table's
// whitelist (spec.md §4.6): once subscribed, anything except
// (UN)SUBSCRIBE/PUBLISH/PING is rejected.
func TestSubscribedModeRestrictsCommands(t *testing.T) {
	d, c, _ := newTestDispatcher(t)

	reply, _ := d.Dispatch(c, cmd("SUBSCRIBE", "news"))
	assert.Nil(t, reply)
	assert.Equal(t, conn.ModeSubscribed, c.Mode())

	reply, _ = d.Dispatch(c, cmd("GET", "a"))
	require.Equal(t, resp.Error, reply.Kind)

	reply, _ = d.Dispatch(c, cmd("PING"))
	assert.NotNil(t, reply)
}

func TestPublishCountsSubscribers(t *testing.T) {
	d, sub1, _ := newTestDispatcher(t)
	sub2 := conn.New("sub2", mustPipeServerSide(t), zap.NewNop().Sugar())

	d.Dispatch(sub1, cmd("SUBSCRIBE", "news"))
	d.Dispatch(sub2, cmd("SUBSCRIBE", "news"))

	reply, replicate := d.Dispatch(sub1, cmd("PUBLISH", "news", "hello"))
	assert.False(t, replicate)
	assert.Equal(t, resp.NewInteger(2), reply)
}

func mustPipeServerSide(t *testing.T) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	return server
}

func TestReplconfAckRecordsOffset(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	hub := &fakeHub{}
	d.Repl = hub

	reply, replicate, _ := d.Apply(c, cmd("REPLCONF_ACK", "42"))
	assert.Nil(t, reply)
	assert.False(t, replicate)
	require.Len(t, hub.acks, 1)
	assert.EqualValues(t, 42, hub.acks[0])
}

type fakeHub struct {
	acks []int64
}

func (f *fakeHub) Info() ReplicationInfo { return ReplicationInfo{Role: "master"} }
func (f *fakeHub) BeginFullResync(c *conn.Conn) []byte { return nil }
func (f *fakeHub) RecordAck(c *conn.Conn, offset int64) { f.acks = append(f.acks, offset) }
func (f *fakeHub) Wait(numreplicas, timeoutMillis int) int { return 0 }
func (f *fakeHub) Propagate(raw []byte) {}

func TestInfoReplicationSection(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	d.Repl = &fakeHub{}

	reply, _, _ := d.Apply(c, cmd("INFO", "replication"))
	require.Equal(t, resp.BulkString, reply.Kind)
	assert.Contains(t, reply.Str, "role:master")
}

func TestConfigGetKnownParams(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	reply, _, _ := d.Apply(c, cmd("CONFIG_GET", "dir"))
	require.Equal(t, resp.Array, reply.Kind)
	require.Len(t, reply.Items, 2)
	assert.Equal(t, "dir", reply.Items[0].Str)
	assert.Equal(t, ".", reply.Items[1].Str)
}

func TestWaitNoReplicasReturnsZero(t *testing.T) {
	d, c, _ := newTestDispatcher(t)
	d.Repl = &fakeHub{}
	reply, _, _ := d.Apply(c, cmd("WAIT", "1", "100"))
	assert.Equal(t, resp.NewInteger(0), reply)
}
