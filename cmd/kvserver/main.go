// Command kvserver runs the in-memory key/value server (spec.md §1):
// load the optional config file named on the command line, build the
// server, and run it until SIGINT/SIGTERM, mirroring the teacher's
// cmd/main.go load-config-then-run-until-signal shape.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"kvsrv/internal/config"
	"kvsrv/internal/server"
)

func main() {
	logger := log.New(os.Stdout, "[kvsrv] ", log.LstdFlags)

	cfg := config.Default()
	if len(os.Args) > 1 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			logger.Fatalf("config: %v", err)
		}
		cfg = loaded
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatalf("server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down", sig)
		srv.Shutdown()
	}()

	if err := srv.Start(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}
