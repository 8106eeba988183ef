package replication

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"redisd/internal/conn"
)

func newTestConn(t *testing.T, nc net.Conn) *conn.Conn {
	t.Helper()
	return conn.New("test-replica", nc, zap.NewNop().Sugar())
}

func pipedConnPair(t *testing.T) (server net.Conn, drainDone func()) {
	t.Helper()
	server, client := net.Pipe()
	stop := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		server.Close()
		client.Close()
	})
	return server, func() {}
}

func TestBeginFullResyncRegistersReplicaAndReturnsFallbackDump(t *testing.T) {
	m := NewMaster(zap.NewNop().Sugar(), nil)
	nc, _ := pipedConnPair(t)
	c := newTestConn(t, nc)

	dump := m.BeginFullResync(c)
	assert.Equal(t, emptyRDBPayload, dump)

	info := m.Info()
	assert.Equal(t, 1, info.ConnectedSlaves)
}

func TestBeginFullResyncUsesProvidedDumpFunc(t *testing.T) {
	called := false
	m := NewMaster(zap.NewNop().Sugar(), func() []byte {
		called = true
		return []byte("custom-snapshot")
	})
	nc, _ := pipedConnPair(t)
	c := newTestConn(t, nc)

	dump := m.BeginFullResync(c)
	assert.True(t, called)
	assert.Equal(t, []byte("custom-snapshot"), dump)
}

func TestPurgeOnConnectionClose(t *testing.T) {
	m := NewMaster(zap.NewNop().Sugar(), nil)
	server, client := net.Pipe()
	defer client.Close()
	c := newTestConn(t, server)

	m.BeginFullResync(c)
	require.Equal(t, 1, m.Info().ConnectedSlaves)

	c.Close()
	<-c.Closed()
	// purge runs in its own goroutine off c.Closed(); give it a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Info().ConnectedSlaves == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, m.Info().ConnectedSlaves)
}

func TestWaitNoReplicasReturnsZeroImmediately(t *testing.T) {
	m := NewMaster(zap.NewNop().Sugar(), nil)
	n := m.Wait(1, 100)
	assert.Equal(t, 0, n)
}

func TestWaitSatisfiedByExistingAck(t *testing.T) {
	m := NewMaster(zap.NewNop().Sugar(), nil)
	nc, _ := pipedConnPair(t)
	c := newTestConn(t, nc)
	m.BeginFullResync(c)

	m.Propagate([]byte("*1\r\n$4\r\nPING\r\n"))
	m.RecordAck(c, c.SentBytes())

	n := m.Wait(1, 500)
	assert.Equal(t, 1, n)
}

func TestWaitTimesOutWithoutAck(t *testing.T) {
	m := NewMaster(zap.NewNop().Sugar(), nil)
	nc, _ := pipedConnPair(t)
	c := newTestConn(t, nc)
	m.BeginFullResync(c)
	m.Propagate([]byte("*1\r\n$4\r\nPING\r\n"))

	start := time.Now()
	n := m.Wait(1, 200)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestInfoReportsSlaveRoleAfterSetReplicaOf(t *testing.T) {
	m := NewMaster(zap.NewNop().Sugar(), nil)
	m.SetReplicaOf("10.0.0.1", "6380")
	info := m.Info()
	assert.Equal(t, "slave", info.Role)
	assert.Equal(t, "10.0.0.1", info.MasterHost)
	assert.Equal(t, "6380", info.MasterPort)
}
