package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/surfstore/surfstore/pkg/config"
	"github.com/surfstore/surfstore/pkg/consensus"
	"github.com/surfstore/surfstore/pkg/node"
	"github.com/surfstore/surfstore/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "", "path to the replica config file (max N / host host:port lines)")
	index := flag.Int("index", -1, "this replica's index into the config file's host list")
	dialTimeout := flag.Duration("dial-timeout", 2*time.Second, "per-RPC dial timeout for peer connections")
	flag.Parse()

	if *configPath == "" || *index < 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *index >= len(cfg.Addresses) {
		log.Fatalf("index %d out of range for %d configured replicas", *index, len(cfg.Addresses))
	}

	selfAddr := cfg.Addresses[*index]
	peers := make([]string, 0, len(cfg.Addresses)-1)
	for i, addr := range cfg.Addresses {
		if i != *index {
			peers = append(peers, addr)
		}
	}

	log.Printf("starting replica %s", selfAddr)
	log.Printf("peers: %v", peers)

	transport := rpc.NewGRPCTransport(*dialTimeout)
	defer transport.Close()

	nodeCfg := consensus.DefaultConfig(selfAddr, peers)
	n := node.New(nodeCfg, transport)
	n.Start()

	server, err := rpc.NewGRPCServer(selfAddr, n)
	if err != nil {
		log.Fatalf("start grpc server: %v", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			log.Printf("grpc server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")

	server.Stop()
	n.Stop()

	log.Println("shutdown complete")
}
