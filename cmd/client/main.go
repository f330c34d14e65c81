package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/surfstore/surfstore/pkg/client"
	"github.com/surfstore/surfstore/pkg/rpc"
)

func main() {
	if len(os.Args) != 4 {
		log.Fatalf("usage: %s hostport basedir blocksize", os.Args[0])
	}

	hostport := os.Args[1]
	baseDir := os.Args[2]
	blockSize, err := strconv.Atoi(os.Args[3])
	if err != nil || blockSize <= 0 {
		log.Fatalf("invalid blocksize %q", os.Args[3])
	}

	transport := rpc.NewGRPCTransport(5 * time.Second)
	defer transport.Close()

	syncer := client.NewSyncer(baseDir, blockSize, transport, hostport)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := syncer.Run(ctx); err != nil {
		log.Fatalf("sync: %v", err)
	}
}
