package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"empower1.com/ptcnode/internal/config"
	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/orchestrator"
)

func main() {
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	configPath := flag.String("config-path", "cmd/empower1d/config", "directory containing the YAML config")
	configName := flag.String("config-name", "default", "config file base name (without extension)")
	nodeID := flag.String("node-id", "", "this node's identifier (default: generated)")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address")
	flag.Parse()

	logger.Println("Initializing node components...")

	cfg, err := config.Load(*configPath, *configName)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	key, err := loadOrGenerateProposerKey()
	if err != nil {
		logger.Fatalf("proposer key: %v", err)
	}

	id := *nodeID
	if id == "" {
		rnd, err := crypto.RandomBytes(8)
		if err != nil {
			logger.Fatalf("generate node id: %v", err)
		}
		id = crypto.AddressFromPubKey(&key.PublicKey).String() + "-" + hexSuffix(rnd)
	}

	node, err := orchestrator.New(cfg, key, id, logger)
	if err != nil {
		logger.Fatalf("wire node: %v", err)
	}
	logger.Println("Node components wired successfully.")

	if node.Chain.Latest() == nil {
		logger.Println("Chain is empty, creating genesis block...")
		if err := node.SeedGenesis(cfg.Consensus.MinStake); err != nil {
			logger.Fatalf("seed genesis: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	node.Start(ctx)

	server := &http.Server{Addr: *listenAddr, Handler: node.Router()}
	go func() {
		logger.Printf("HTTP API listening on %s", *listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdownChannel
	logger.Printf("Caught signal: %v. Starting graceful shutdown...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown error")
	}

	cancel()
	node.Stop()
	logger.Println("Node shut down gracefully.")
}

// loadOrGenerateProposerKey generates a fresh secp256k1 key each run. A
// production deployment would instead load this from a keystore file; that
// wiring is left to the node operator's deployment tooling.
func loadOrGenerateProposerKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKeypair()
}

func hexSuffix(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}
