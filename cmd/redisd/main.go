package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"redisd/internal/server"
)

// Grounded on the teacher's cmd/server/main.go flag-parsing/signal-handling
// shape, rewritten against spf13/pflag (the rest of this module's CLI-style
// dependency, per go.mod) instead of the standard flag package, and trimmed
// to the flags spec.md §6 "CLI" names: --port, --dir, --dbfilename,
// --replicaof.
func main() {
	port := pflag.IntP("port", "p", 6379, "port to listen on")
	dir := pflag.String("dir", ".", "directory containing the RDB file")
	dbfilename := pflag.String("dbfilename", "dump.rdb", "RDB file name")
	replicaof := pflag.String("replicaof", "", `"<host> <port>" of a master to replicate from`)
	pflag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg := server.Config{
		Port:       *port,
		Dir:        *dir,
		DBFilename: *dbfilename,
	}
	if *replicaof != "" {
		parts := strings.Fields(*replicaof)
		if len(parts) != 2 {
			log.Fatalw("invalid --replicaof value, want \"<host> <port>\"", "value", *replicaof)
		}
		cfg.ReplicaOfHost, cfg.ReplicaOfPort = parts[0], parts[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.New(cfg, log)
	log.Infow("starting redisd", "port", cfg.Port, "replicaof", *replicaof)
	if err := srv.Run(ctx); err != nil {
		log.Fatalw("server exited with error", "err", err)
	}
}
