// Package server owns the accept loop, per-connection dispatch, and
// startup/shutdown sequencing: RDB load, replica-client startup, and
// signal-driven graceful shutdown (spec.md §6).
//
// Grounded on the teacher repo's internal/server/redis_server.go
// (NewRedisServer/Start/acceptConnections/handleConnection/Shutdown shape),
// trimmed of its AOF, cluster, Sentinel, and background-RDB-save machinery
// (all explicit spec.md Non-goals) and rebuilt around an errgroup instead
// of the teacher's sync.WaitGroup + shutdownChan + time.After race.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"redisd/internal/command"
	"redisd/internal/conn"
	"redisd/internal/rdbload"
	"redisd/internal/replication"
	"redisd/internal/store"
)

// Config carries the CLI-level settings cmd/redisd parses and passes down
// (spec.md §6 "CLI").
type Config struct {
	Port          int
	Dir           string
	DBFilename    string
	ReplicaOfHost string
	ReplicaOfPort string
}

// Server owns the listening socket and the shared dispatcher state every
// connection's goroutine dispatches against.
type Server struct {
	cfg Config
	log *zap.SugaredLogger

	engine     *store.Engine
	master     *replication.Master
	dispatcher *command.Dispatcher

	listener net.Listener
}

// New builds a Server, wiring its storage engine, pub/sub hub, and
// replication hub into a single Dispatcher.
func New(cfg Config, log *zap.SugaredLogger) *Server {
	engine := store.NewEngine()
	hub := command.NewPubSubHub()
	master := replication.NewMaster(log, nil)

	s := &Server{
		cfg:    cfg,
		log:    log,
		engine: engine,
		master: master,
	}
	s.dispatcher = &command.Dispatcher{
		Engine: engine,
		Hub:    hub,
		Repl:   master,
		Cfg:    command.Config{Dir: cfg.Dir, DBFilename: cfg.DBFilename},
		Log:    log,
	}
	return s
}

// Run loads the RDB snapshot, starts listening, optionally starts the
// replica client, and serves connections until ctx is cancelled (the
// SIGINT/SIGTERM-triggered graceful shutdown event, spec.md §6 "Signals").
func (s *Server) Run(ctx context.Context) error {
	if err := rdbload.Load(s.cfg.Dir, s.cfg.DBFilename, s.engine); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	s.log.Infow("listening", "port", s.cfg.Port)

	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.ReplicaOfHost != "" {
		client := replication.NewClient(s.cfg.ReplicaOfHost, s.cfg.ReplicaOfPort,
			strconv.Itoa(s.cfg.Port), s.dispatcher, s.master, s.log)
		g.Go(func() error { return client.Run(gctx) })
	}

	g.Go(func() error { return s.acceptLoop(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return nil // shutdown requested, not a failure
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConnection(ctx, nc)
	}
}

// handleConnection runs the per-connection command loop until the
// connection transitions to replica mode (spec.md §4.8 "the accept loop's
// command loop exits and the connection enters a dedicated replica-egress
// loop"), is closed, or ctx is cancelled.
func (s *Server) handleConnection(ctx context.Context, nc net.Conn) {
	id := uuid.NewString()
	c := conn.New(id, nc, s.log)
	defer c.Close()
	defer s.dispatcher.Hub.Purge(c)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Closing():
			return
		case frame, ok := <-c.Frames():
			if !ok {
				return
			}
			cmd := command.Parse(frame)
			reply, shouldReplicate := s.dispatcher.Dispatch(c, cmd)
			if reply != nil {
				c.Send(reply.Bytes())
			}
			if shouldReplicate {
				s.master.Propagate(frame.Bytes())
			}
			if c.Mode() == conn.ModeReplica {
				s.replicaEgressLoop(ctx, c)
				return
			}
		}
	}
}

// replicaEgressLoop is entered once a connection completes PSYNC (spec.md
// §4.8 step 4): the only expected inbound shape is [REPLCONF, ACK, <digits>];
// anything else is logged and skipped rather than replied to.
func (s *Server) replicaEgressLoop(ctx context.Context, c *conn.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Closing():
			return
		case frame, ok := <-c.Frames():
			if !ok {
				return
			}
			cmd := command.Parse(frame)
			if cmd.Name != "REPLCONF_ACK" {
				s.log.Debugw("unexpected frame on replica-egress connection", "id", c.ID, "cmd", cmd.Name)
				continue
			}
			s.dispatcher.Apply(c, cmd)
		}
	}
}
