package comm

import (
	"context"
	"sync"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Constants

const (
	exchangeMethod = "/strand.Sync/Exchange"
	pushMethod     = "/strand.Sync/Push"
)

// Structs

// Transport moves sync messages to peers. Exchange
// is the pull leg of a sync, Push the optional push
// leg. The receiving peer is the message's To field.
type Transport interface {
	Exchange(ctx context.Context, req *SyncRequest) (*SyncResponse, error)
	Push(ctx context.Context, msg *SyncResponse) (*PushReply, error)
}

// Handler serves sync messages of peers.
type Handler interface {
	HandleSyncRequest(ctx context.Context, req *SyncRequest) (*SyncResponse, error)
	HandlePush(ctx context.Context, msg *SyncResponse) (*PushReply, error)
}

// GRPCTransport is a Transport calling the sync
// service of peers via gRPC. Connections are opened
// lazily and reused.
type GRPCTransport struct {
	lock  *sync.Mutex
	addrs map[clock.ActorID]string
	conns map[clock.ActorID]*grpc.ClientConn
	opts  []grpc.DialOption
}

// Variables

var syncServiceDesc = grpc.ServiceDesc{
	ServiceName: "strand.Sync",
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exchange",
			Handler:    exchangeHandler,
		},
		{
			MethodName: "Push",
			Handler:    pushHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "strand/sync",
}

// Functions

// RegisterSyncServer makes h serve the
// sync service on s.
func RegisterSyncServer(s *grpc.Server, h Handler) {
	s.RegisterService(&syncServiceDesc, h)
}

func exchangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(SyncRequest)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed sync request: %v", err)
	}

	call := func(ctx context.Context, req interface{}) (interface{}, error) {

		resp, err := srv.(Handler).HandleSyncRequest(ctx, req.(*SyncRequest))
		if err != nil {
			return nil, toStatus(err)
		}

		return resp, nil
	}

	if interceptor == nil {
		return call(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: exchangeMethod,
	}

	return interceptor(ctx, in, info, call)
}

func pushHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(SyncResponse)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed push: %v", err)
	}

	call := func(ctx context.Context, req interface{}) (interface{}, error) {

		reply, err := srv.(Handler).HandlePush(ctx, req.(*SyncResponse))
		if err != nil {
			return nil, toStatus(err)
		}

		return reply, nil
	}

	if interceptor == nil {
		return call(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: pushMethod,
	}

	return interceptor(ctx, in, info, call)
}

// toStatus maps handler errors to gRPC status codes.
func toStatus(err error) error {

	switch errors.Cause(err) {
	case crdt.ErrSerialization, crdt.ErrInvalidOperation:
		return status.Error(codes.InvalidArgument, err.Error())
	case ErrUnknownSession:
		return status.Error(codes.NotFound, err.Error())
	case ErrBandwidthExceeded:
		return status.Error(codes.ResourceExhausted, err.Error())
	case context.Canceled:
		return status.Error(codes.Canceled, err.Error())
	case context.DeadlineExceeded:
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	return status.Error(codes.Internal, err.Error())
}

// fromStatus maps gRPC status codes back
// to the errors of this package.
func fromStatus(err error) error {

	s, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch s.Code() {
	case codes.InvalidArgument:
		return errors.Wrap(crdt.ErrSerialization, s.Message())
	case codes.NotFound:
		return errors.Wrap(ErrUnknownSession, s.Message())
	case codes.ResourceExhausted:
		return errors.Wrap(ErrBandwidthExceeded, s.Message())
	}

	return err
}

// InitGRPCTransport returns a transport reaching each
// peer in addrs at its address. Without opts, the
// options of DialOptions are used.
func InitGRPCTransport(addrs map[clock.ActorID]string, opts ...grpc.DialOption) *GRPCTransport {

	if len(opts) == 0 {
		opts = DialOptions()
	}

	a := make(map[clock.ActorID]string, len(addrs))
	for peer, addr := range addrs {
		a[peer] = addr
	}

	return &GRPCTransport{
		lock:  new(sync.Mutex),
		addrs: a,
		conns: make(map[clock.ActorID]*grpc.ClientConn),
		opts:  opts,
	}
}

// conn returns the connection to peer.
func (t *GRPCTransport) conn(peer clock.ActorID) (*grpc.ClientConn, error) {

	t.lock.Lock()
	defer t.lock.Unlock()

	if c, found := t.conns[peer]; found {
		return c, nil
	}

	addr, found := t.addrs[peer]
	if !found {
		return nil, errors.Errorf("no address known for peer %s", peer)
	}

	c, err := grpc.NewClient(addr, t.opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to peer %s at %s failed", peer, addr)
	}
	t.conns[peer] = c

	return c, nil
}

// Exchange sends req to req.To and awaits the response.
func (t *GRPCTransport) Exchange(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {

	c, err := t.conn(req.To)
	if err != nil {
		return nil, err
	}

	resp := new(SyncResponse)

	err = c.Invoke(ctx, exchangeMethod, req, resp)
	if err != nil {
		return nil, errors.Wrapf(fromStatus(err), "exchange with %s failed", req.To)
	}

	return resp, nil
}

// Push sends msg to msg.To.
func (t *GRPCTransport) Push(ctx context.Context, msg *SyncResponse) (*PushReply, error) {

	c, err := t.conn(msg.To)
	if err != nil {
		return nil, err
	}

	reply := new(PushReply)

	err = c.Invoke(ctx, pushMethod, msg, reply)
	if err != nil {
		return nil, errors.Wrapf(fromStatus(err), "push to %s failed", msg.To)
	}

	return reply, nil
}

// Close tears down all open connections.
func (t *GRPCTransport) Close() error {

	t.lock.Lock()
	defer t.lock.Unlock()

	var first error
	for peer, c := range t.conns {

		if err := c.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "closing connection to %s failed", peer)
		}
		delete(t.conns, peer)
	}

	return first
}
