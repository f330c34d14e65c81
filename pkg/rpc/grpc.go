package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/surfstore/surfstore/pkg/consensus"
	"github.com/surfstore/surfstore/pkg/node"
)

// serviceName is the gRPC service path segment; with no .proto toolchain
// available this is hand-chosen rather than generated.
const serviceName = "surfstore.Replica"

// Wire request/response types for the client-facing and block-store RPCs.
// RequestVote/AppendEntries reuse the consensus package's own argument and
// reply structs directly, since the JSON codec needs no separate wire
// representation.

type updateFileRequest struct {
	Filename      string
	Version       uint64
	BlockHashList []string
}

type updateFileReply struct {
	Ok     bool
	ErrMsg string
}

type getFileInfoMapReply struct {
	Files  map[string]consensus.FileInfo
	ErrMsg string
}

type boolReply struct {
	Value bool
}

type emptyMessage struct{}

type putBlockRequest struct {
	Data []byte
}

type putBlockReply struct {
	Hash   string
	ErrMsg string
}

type getBlockRequest struct {
	Hash string
}

type getBlockReply struct {
	Data  []byte
	Found bool
}

type hasBlocksRequest struct {
	Hashes []string
}

type hasBlocksReply struct {
	Present []string
}

// grpcService adapts a *node.Node to the hand-registered grpc.ServiceDesc
// below. It is registered manually rather than through generated proto
// service code, since no protoc-generated stubs exist for this service.
type grpcService struct {
	node *node.Node
}

func (s *grpcService) requestVote(ctx context.Context, args *consensus.RequestVoteArgs) (*consensus.RequestVoteReply, error) {
	return s.node.RequestVote(args), nil
}

func (s *grpcService) appendEntries(ctx context.Context, args *consensus.AppendEntriesArgs) (*consensus.AppendEntriesReply, error) {
	return s.node.AppendEntries(args), nil
}

func (s *grpcService) updateFile(ctx context.Context, req *updateFileRequest) (*updateFileReply, error) {
	ok, err := s.node.UpdateFile(ctx, req.Filename, req.Version, req.BlockHashList)
	reply := &updateFileReply{Ok: ok}
	if err != nil {
		reply.ErrMsg = err.Error()
	}
	return reply, nil
}

func (s *grpcService) getFileInfoMap(ctx context.Context, _ *emptyMessage) (*getFileInfoMapReply, error) {
	files, err := s.node.GetFileInfoMap(ctx)
	reply := &getFileInfoMapReply{Files: files}
	if err != nil {
		reply.ErrMsg = err.Error()
	}
	return reply, nil
}

func (s *grpcService) isLeader(ctx context.Context, _ *emptyMessage) (*boolReply, error) {
	return &boolReply{Value: s.node.IsLeader()}, nil
}

func (s *grpcService) isCrashed(ctx context.Context, _ *emptyMessage) (*boolReply, error) {
	return &boolReply{Value: s.node.IsCrashed()}, nil
}

func (s *grpcService) crash(ctx context.Context, _ *emptyMessage) (*emptyMessage, error) {
	s.node.Crash()
	return &emptyMessage{}, nil
}

func (s *grpcService) restore(ctx context.Context, _ *emptyMessage) (*emptyMessage, error) {
	s.node.Restore()
	return &emptyMessage{}, nil
}

func (s *grpcService) putBlock(ctx context.Context, req *putBlockRequest) (*putBlockReply, error) {
	hash, err := s.node.PutBlock(req.Data)
	reply := &putBlockReply{Hash: hash}
	if err != nil {
		reply.ErrMsg = err.Error()
	}
	return reply, nil
}

func (s *grpcService) getBlock(ctx context.Context, req *getBlockRequest) (*getBlockReply, error) {
	data, found := s.node.GetBlock(req.Hash)
	return &getBlockReply{Data: data, Found: found}, nil
}

func (s *grpcService) hasBlocks(ctx context.Context, req *hasBlocksRequest) (*hasBlocksReply, error) {
	return &hasBlocksReply{Present: s.node.HasBlocks(req.Hashes)}, nil
}

func unaryHandler(newReq func() interface{}, call func(ctx context.Context, srv *grpcService, req interface{}) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*grpcService)
		if interceptor == nil {
			return call(ctx, s, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName}
		return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, s, req)
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: unaryHandler(
			func() interface{} { return &consensus.RequestVoteArgs{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.requestVote(ctx, req.(*consensus.RequestVoteArgs))
			})},
		{MethodName: "AppendEntries", Handler: unaryHandler(
			func() interface{} { return &consensus.AppendEntriesArgs{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.appendEntries(ctx, req.(*consensus.AppendEntriesArgs))
			})},
		{MethodName: "UpdateFile", Handler: unaryHandler(
			func() interface{} { return &updateFileRequest{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.updateFile(ctx, req.(*updateFileRequest))
			})},
		{MethodName: "GetFileInfoMap", Handler: unaryHandler(
			func() interface{} { return &emptyMessage{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.getFileInfoMap(ctx, req.(*emptyMessage))
			})},
		{MethodName: "IsLeader", Handler: unaryHandler(
			func() interface{} { return &emptyMessage{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.isLeader(ctx, req.(*emptyMessage))
			})},
		{MethodName: "IsCrashed", Handler: unaryHandler(
			func() interface{} { return &emptyMessage{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.isCrashed(ctx, req.(*emptyMessage))
			})},
		{MethodName: "Crash", Handler: unaryHandler(
			func() interface{} { return &emptyMessage{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.crash(ctx, req.(*emptyMessage))
			})},
		{MethodName: "Restore", Handler: unaryHandler(
			func() interface{} { return &emptyMessage{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.restore(ctx, req.(*emptyMessage))
			})},
		{MethodName: "PutBlock", Handler: unaryHandler(
			func() interface{} { return &putBlockRequest{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.putBlock(ctx, req.(*putBlockRequest))
			})},
		{MethodName: "GetBlock", Handler: unaryHandler(
			func() interface{} { return &getBlockRequest{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.getBlock(ctx, req.(*getBlockRequest))
			})},
		{MethodName: "HasBlocks", Handler: unaryHandler(
			func() interface{} { return &hasBlocksRequest{} },
			func(ctx context.Context, s *grpcService, req interface{}) (interface{}, error) {
				return s.hasBlocks(ctx, req.(*hasBlocksRequest))
			})},
	},
	Metadata: "surfstore.proto",
}

// GRPCServer hosts one replica's RPC surface over a real *grpc.Server.
type GRPCServer struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// NewGRPCServer listens on addr and registers n's RPC surface.
func NewGRPCServer(addr string, n *node.Node) (*GRPCServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := grpc.NewServer()
	s.RegisterService(&serviceDesc, &grpcService{node: n})

	return &GRPCServer{grpcServer: s, listener: listener}, nil
}

// Serve blocks, serving RPCs until Stop is called.
func (s *GRPCServer) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// Addr returns the address the server is listening on.
func (s *GRPCServer) Addr() string {
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the server.
func (s *GRPCServer) Stop() {
	s.grpcServer.GracefulStop()
}

// GRPCTransport is the client-side counterpart: a pool of lazily-dialed
// connections to peer/replica addresses. It implements consensus.Transport
// for peer-to-peer RPCs and Dialer/ReplicaClient for CLI clients.
type GRPCTransport struct {
	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	timeout time.Duration
}

// NewGRPCTransport creates a transport with a per-call dial/RPC timeout.
func NewGRPCTransport(timeout time.Duration) *GRPCTransport {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &GRPCTransport{conns: make(map[string]*grpc.ClientConn), timeout: timeout}
}

func (t *GRPCTransport) getConn(target string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[target]; ok {
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	t.conns[target] = conn
	return conn, nil
}

func (t *GRPCTransport) invoke(target, method string, req, reply interface{}) error {
	conn, err := t.getConn(target)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	fullMethod := fmt.Sprintf("/%s/%s", serviceName, method)
	return conn.Invoke(ctx, fullMethod, req, reply, grpc.CallContentSubtype(codecName))
}

// RequestVote implements consensus.Transport.
func (t *GRPCTransport) RequestVote(target string, args *consensus.RequestVoteArgs) (*consensus.RequestVoteReply, error) {
	var reply consensus.RequestVoteReply
	if err := t.invoke(target, "RequestVote", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// AppendEntries implements consensus.Transport.
func (t *GRPCTransport) AppendEntries(target string, args *consensus.AppendEntriesArgs) (*consensus.AppendEntriesReply, error) {
	var reply consensus.AppendEntriesReply
	if err := t.invoke(target, "AppendEntries", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Dial implements Dialer, returning a ReplicaClient that reaches target
// over the network.
func (t *GRPCTransport) Dial(target string) (ReplicaClient, error) {
	if _, err := t.getConn(target); err != nil {
		return nil, err
	}
	return &grpcReplicaClient{transport: t, target: target}, nil
}

// Close closes every pooled connection.
func (t *GRPCTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for target, conn := range t.conns {
		conn.Close()
		delete(t.conns, target)
	}
}

type grpcReplicaClient struct {
	transport *GRPCTransport
	target    string
}

func (c *grpcReplicaClient) UpdateFile(ctx context.Context, filename string, version uint64, blockHashList []string) (bool, error) {
	var reply updateFileReply
	req := &updateFileRequest{Filename: filename, Version: version, BlockHashList: blockHashList}
	if err := c.transport.invoke(c.target, "UpdateFile", req, &reply); err != nil {
		return false, err
	}
	if reply.ErrMsg != "" {
		return reply.Ok, fmt.Errorf("%s", reply.ErrMsg)
	}
	return reply.Ok, nil
}

func (c *grpcReplicaClient) GetFileInfoMap(ctx context.Context) (map[string]consensus.FileInfo, error) {
	var reply getFileInfoMapReply
	if err := c.transport.invoke(c.target, "GetFileInfoMap", &emptyMessage{}, &reply); err != nil {
		return nil, err
	}
	if reply.ErrMsg != "" {
		return nil, fmt.Errorf("%s", reply.ErrMsg)
	}
	return reply.Files, nil
}

func (c *grpcReplicaClient) IsLeader(ctx context.Context) (bool, error) {
	var reply boolReply
	err := c.transport.invoke(c.target, "IsLeader", &emptyMessage{}, &reply)
	return reply.Value, err
}

func (c *grpcReplicaClient) IsCrashed(ctx context.Context) (bool, error) {
	var reply boolReply
	err := c.transport.invoke(c.target, "IsCrashed", &emptyMessage{}, &reply)
	return reply.Value, err
}

func (c *grpcReplicaClient) Crash(ctx context.Context) error {
	return c.transport.invoke(c.target, "Crash", &emptyMessage{}, &emptyMessage{})
}

func (c *grpcReplicaClient) Restore(ctx context.Context) error {
	return c.transport.invoke(c.target, "Restore", &emptyMessage{}, &emptyMessage{})
}

func (c *grpcReplicaClient) PutBlock(ctx context.Context, data []byte) (string, error) {
	var reply putBlockReply
	if err := c.transport.invoke(c.target, "PutBlock", &putBlockRequest{Data: data}, &reply); err != nil {
		return "", err
	}
	if reply.ErrMsg != "" {
		return "", fmt.Errorf("%s", reply.ErrMsg)
	}
	return reply.Hash, nil
}

func (c *grpcReplicaClient) GetBlock(ctx context.Context, hash string) ([]byte, bool, error) {
	var reply getBlockReply
	if err := c.transport.invoke(c.target, "GetBlock", &getBlockRequest{Hash: hash}, &reply); err != nil {
		return nil, false, err
	}
	return reply.Data, reply.Found, nil
}

func (c *grpcReplicaClient) HasBlocks(ctx context.Context, hashes []string) ([]string, error) {
	var reply hasBlocksReply
	err := c.transport.invoke(c.target, "HasBlocks", &hasBlocksRequest{Hashes: hashes}, &reply)
	return reply.Present, err
}
