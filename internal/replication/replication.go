// Package replication implements both sides of spec.md §4.8/§4.9's
// master<->replica protocol: Master fans out propagated writes to
// connected replicas and answers WAIT; Client runs the handshake and
// command-apply loop when the server is started with --replicaof.
//
// Grounded on the teacher repo's internal/replication package (ReplicaInfo
// directory, MasterInfo handshake state machine, replid generation) but
// rebuilt against this repo's internal/conn.Conn (which already owns byte
// counters and the ack-arrived pulse) instead of the teacher's bespoke
// bufio.Reader/Writer bookkeeping, and scoped to full resync only — no
// partial-resync backlog, since spec.md never asks for one.
package replication

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"redisd/internal/command"
	"redisd/internal/conn"
	"redisd/internal/resp"
)

// emptyRDBPayload is the fixed empty-RDB snapshot spec.md §6 specifies for
// use when the server has nothing more specific to send a newly-resyncing
// replica.
var emptyRDBPayload = mustDecodeB64("UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2XAAP/wbjv+wP9aog==")

func mustDecodeB64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Master is the master-side half of replication: the directory of
// currently-attached replica connections, and the WAIT barrier over their
// acknowledged byte offsets (spec.md §4.6 "WAIT numreplicas timeout_ms",
// §4.8).
type Master struct {
	mu         sync.Mutex
	replID     string
	role       string // "master" or "slave"
	masterHost string
	masterPort string
	replicas   map[string]*conn.Conn

	log  *zap.SugaredLogger
	dump func() []byte // current snapshot payload; nil falls back to emptyRDBPayload
}

// NewMaster constructs a Master in the "master" role. dump, if non-nil, is
// called to produce the payload sent to a newly-attaching replica in place
// of the fixed empty-RDB fallback.
func NewMaster(log *zap.SugaredLogger, dump func() []byte) *Master {
	return &Master{
		replID:   strings.ReplaceAll(uuid.NewString(), "-", ""),
		role:     "master",
		replicas: make(map[string]*conn.Conn),
		log:      log,
		dump:     dump,
	}
}

// SetReplicaOf switches this Master's reported role to "slave" (used only
// for INFO REPLICATION's role/master_host/master_port fields — a replica
// still runs its own Master so a sub-replica could in principle attach,
// though spec.md's cluster scope never exercises that chain).
func (m *Master) SetReplicaOf(host, port string) {
	m.mu.Lock()
	m.role = "slave"
	m.masterHost = host
	m.masterPort = port
	m.mu.Unlock()
}

// Info implements command.ReplicationHub.
func (m *Master) Info() command.ReplicationInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return command.ReplicationInfo{
		Role:             m.role,
		MasterHost:       m.masterHost,
		MasterPort:       m.masterPort,
		ConnectedSlaves:  len(m.replicas),
		MasterReplID:     m.replID,
		MasterReplOffset: 0,
	}
}

// BeginFullResync registers c as a replica, resets its byte counters
// (spec.md §4.8 steps 2-3), and returns the snapshot payload to send as the
// FileDump frame following the FULLRESYNC reply.
func (m *Master) BeginFullResync(c *conn.Conn) []byte {
	m.mu.Lock()
	m.replicas[c.ID] = c
	m.mu.Unlock()
	c.ResetByteCounters()

	go func() {
		<-c.Closed()
		m.purge(c.ID)
	}()

	if m.dump != nil {
		return m.dump()
	}
	return emptyRDBPayload
}

func (m *Master) purge(id string) {
	m.mu.Lock()
	delete(m.replicas, id)
	m.mu.Unlock()
}

// RecordAck implements command.ReplicationHub: updates c's acknowledged
// offset on receipt of REPLCONF ACK (spec.md §4.8 step 4).
func (m *Master) RecordAck(c *conn.Conn, offset int64) {
	c.SetAckedBytes(offset)
}

// Propagate writes raw (an already-serialized inbound command frame) to
// every replica registered at the time of the call (a snapshot taken under
// the lock; the order across replicas is not defined) (spec.md §4.8
// "Propagation").
func (m *Master) Propagate(raw []byte) {
	m.mu.Lock()
	replicas := make([]*conn.Conn, 0, len(m.replicas))
	for _, rc := range m.replicas {
		replicas = append(replicas, rc)
	}
	m.mu.Unlock()

	for _, rc := range replicas {
		rc.Send(raw)
		rc.AddSentBytes(int64(len(raw)))
	}
}

// Wait implements command.ReplicationHub's WAIT (spec.md §4.6): it issues
// REPLCONF GETACK * to every replica, then blocks until numreplicas of them
// have acknowledged at least as many bytes as had been sent at the moment
// Wait was called, or timeoutMillis elapses (0 = forever).
func (m *Master) Wait(numreplicas, timeoutMillis int) int {
	m.mu.Lock()
	replicas := make([]*conn.Conn, 0, len(m.replicas))
	for _, rc := range m.replicas {
		replicas = append(replicas, rc)
	}
	m.mu.Unlock()

	if len(replicas) == 0 {
		return 0
	}

	targets := make(map[*conn.Conn]int64, len(replicas))
	for _, rc := range replicas {
		targets[rc] = rc.SentBytes()
	}

	getack := resp.StringArray("REPLCONF", "GETACK", "*").Bytes()
	for _, rc := range replicas {
		rc.Send(getack)
		rc.AddSentBytes(int64(len(getack)))
	}

	countAcked := func() int {
		n := 0
		for rc, target := range targets {
			if rc.AckedBytes() >= target {
				n++
			}
		}
		return n
	}

	if n := countAcked(); n >= numreplicas {
		return n
	}

	// A replica that disconnects mid-wait has its pending ack-future
	// cancelled by simply never being counted again: countAcked only
	// consults the byte counters captured at call time, and a wake from a
	// dead replica's watcher goroutine just triggers one more (negative)
	// recheck.
	wake := make(chan struct{}, len(replicas))
	done := make(chan struct{})
	defer close(done)
	for _, rc := range replicas {
		go func(rc *conn.Conn) {
			for {
				select {
				case <-rc.AckArrived():
					select {
					case wake <- struct{}{}:
					default:
					}
				case <-rc.Closed():
					select {
					case wake <- struct{}{}:
					default:
					}
					return
				case <-done:
					return
				}
			}
		}(rc)
	}

	var timeoutCh <-chan time.Time
	if timeoutMillis > 0 {
		timer := time.NewTimer(time.Duration(timeoutMillis) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case <-wake:
			if n := countAcked(); n >= numreplicas {
				return n
			}
		case <-timeoutCh:
			return countAcked()
		}
	}
}
