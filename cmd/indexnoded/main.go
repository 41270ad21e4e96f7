// Command indexnoded runs one indexnode process: it wires the entity store,
// chain store, mapping host, registrar, assignment provider, and HTTP/WS
// transport together and serves until terminated, mirroring the teacher's
// cmd/appserver flag-parse / config-load / start / signal-wait / shutdown
// shape.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/subgraphd/indexnode/internal/app"
	"github.com/subgraphd/indexnode/internal/config"
	"github.com/subgraphd/indexnode/pkg/logger"
)

func main() {
	nodeID := flag.String("node-id", "", "overrides NODE_ID from configuration")
	addr := flag.String("addr", "", "overrides the configured HTTP listen host:port")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *addr != "" {
		cfg.Server.Host, cfg.Server.Port = splitAddr(*addr, cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).Component("indexnoded")

	// Chain adapters, the deployment-manifest resolver, and the on-chain
	// event decoder are given external standards (spec §1 Non-goals); no
	// concrete implementation ships in this repo, so the node runs with
	// app.Dependencies' no-op fallbacks until a deployment wires real ones in.
	application, err := app.New(*cfg, app.Dependencies{}, log)
	if err != nil {
		log.WithError(err).Fatal("initialise application")
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}
	log.WithFields(map[string]any{"node_id": cfg.NodeID}).Info("indexnoded started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Fatal("shutdown")
	}
}

func splitAddr(addr string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	port := defaultPort
	if parsed, convErr := strconv.Atoi(portStr); convErr == nil {
		port = parsed
	}
	return host, port
}
