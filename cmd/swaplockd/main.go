// Package main provides the swaplockd daemon - a minimal P2P node.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/acuity-social/swaplock/internal/assets"
	"github.com/acuity-social/swaplock/internal/backend"
	"github.com/acuity-social/swaplock/internal/chain"
	"github.com/acuity-social/swaplock/internal/config"
	"github.com/acuity-social/swaplock/internal/directory"
	"github.com/acuity-social/swaplock/internal/escrow"
	"github.com/acuity-social/swaplock/internal/ledger"
	"github.com/acuity-social/swaplock/internal/node"
	"github.com/acuity-social/swaplock/internal/rpc"
	"github.com/acuity-social/swaplock/internal/storage"
	"github.com/acuity-social/swaplock/internal/wallet"
	"github.com/acuity-social/swaplock/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir        = flag.String("data-dir", "~/.swaplock", "Data directory")
		configFile     = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		apiAddr        = flag.String("api", "127.0.0.1:8080", "JSON-RPC API address")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("swaplockd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Determine data directory (testnet uses subdirectory)
	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	// Load or create config file
	var cfg *node.Config
	var err error

	if *configFile != "" {
		// Use specified config file
		cfg, err = node.LoadConfig(filepath.Dir(*configFile))
	} else {
		// Use default config location in data directory
		cfg, err = node.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	// Set network type
	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}

	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", node.ConfigPath(effectiveDataDir))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	dataPath := expandPath(cfg.Storage.DataDir)
	storeCfg := &storage.Config{
		DataDir: dataPath,
	}
	store, err := storage.New(storeCfg)
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	// Initialize wallet service
	walletNetwork := chain.Mainnet
	if *testnet {
		walletNetwork = chain.Testnet
	}

	// Initialize backend registry for blockchain access
	backendRegistry := backend.NewDefaultRegistry(walletNetwork)
	log.Info("Backend registry initialized", "network", walletNetwork, "backends", backendRegistry.List())

	walletService := wallet.NewService(&wallet.ServiceConfig{
		DataDir:  dataPath,
		Network:  walletNetwork,
		Backends: backendRegistry,
	})
	log.Info("Wallet service initialized", "network", walletNetwork)

	// Create node
	log.Info("Starting swaplock P2P node...")
	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	// Set up peer store persistence
	peerStoreAdapter := node.NewPeerStoreAdapter(store)
	n.SetPeerStoreAdapter(peerStoreAdapter)

	// Load persisted peers before starting
	if err := n.LoadPersistedPeers(); err != nil {
		log.Warn("Failed to load persisted peers", "error", err)
	}

	// Start node (also joins the stash-liquidity gossip topic)
	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	// Start RPC server
	rpcServer := rpc.NewServer(n, store, walletService)

	// Wire the escrow engine: hydrate live locks and stashes from the last
	// persisted snapshot, pick a TokenLedger, and register its operations
	// on the RPC method table.
	lockStore, err := store.HydrateLockStore()
	if err != nil {
		log.Fatal("Failed to hydrate lock store", "error", err)
	}
	stashBook, err := store.HydrateStashBook()
	if err != nil {
		log.Fatal("Failed to hydrate stash book", "error", err)
	}
	accountDir, err := directory.New(store)
	if err != nil {
		log.Fatal("Failed to load account directory", "error", err)
	}
	assetRegistry := assets.NewRegistry()

	callerAddr := escrow.Principal{}
	if addr, err := walletService.GetAddress("ETH", 0, 0); err == nil {
		callerAddr = common.HexToAddress(addr)
	} else {
		log.Warn("Wallet locked or has no EVM address; escrow operations will be attributed to the zero Principal until unlocked", "error", err)
	}

	chainParams := config.MainnetChainParams
	if *testnet {
		chainParams = config.TestnetChainParams
	}

	var tokenLedger escrow.TokenLedger
	if evmLedger, err := ledger.NewEVMLedgerFromWallet(ctx, walletService, "ETH", chainParams["ETH"]); err != nil {
		log.Warn("Falling back to in-memory token ledger; no chain-backed escrow settlement will occur", "error", err)
		tokenLedger = ledger.NewMemoryLedger()
	} else {
		tokenLedger = evmLedger
		log.Info("EVM token ledger wired", "chain", "ETH", "chain_id", chainParams["ETH"].ChainID)
	}

	sinks := escrow.MultiSink{storage.NewEventSink(store, rpc.NewServerEventSink(rpcServer))}
	if sg := n.StashGossip(); sg != nil {
		sinks = append(sinks, sg.EscrowSink())
	}

	engine := escrow.NewSwapEngine(lockStore, stashBook, tokenLedger, accountDir, escrow.Keccak256Hasher{}, escrow.SystemClock{},
		sinks, callerAddr)
	rpcServer.SetEscrowEngine(engine, lockStore, stashBook, assetRegistry, callerAddr)
	log.Info("Escrow engine initialized", "locks", lockStore.Len(), "caller", callerAddr.Hex())

	if err := rpcServer.Start(*apiAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	// Print node info
	printBanner(log, n, cfg, *apiAddr)

	// Set up peer connection logging and WebSocket broadcasting
	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
		// Broadcast to WebSocket clients
		if hub := rpcServer.WSHub(); hub != nil {
			hub.Broadcast(rpc.EventPeerConnected, map[string]interface{}{
				"peer_id":     p.String(),
				"total_peers": n.PeerCount(),
			})
		}
	})

	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
		// Broadcast to WebSocket clients
		if hub := rpcServer.WSHub(); hub != nil {
			hub.Broadcast(rpc.EventPeerDisconnected, map[string]interface{}{
				"peer_id":     p.String(),
				"total_peers": n.PeerCount(),
			})
		}
	})

	// Start status ticker
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	// Save peer cache before shutdown
	if err := n.SavePeerCache(); err != nil {
		log.Error("Error saving peer cache", "error", err)
	}

	// Graceful shutdown
	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *node.Config, apiAddr string) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  swaplock node (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.Network.EnableMDNS, cfg.Network.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
