package comm

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
)

// Set the maximum number of bytes a message is allowed to
// carry to (256 * 1024 * 1024 B) + 2048 B (buffer) > 256 MiB.
// Symmetric - send and receive option.
var maxMsgSize = 268437504

// ServerOptions returns a list of gRPC server
// options the sync service is run with.
func ServerOptions() []grpc.ServerOption {

	// Idle peers between two anti-entropy rounds keep
	// their connection, pinging at most every 30s.
	enfPolicy := keepalive.EnforcementPolicy{
		MinTime:             30 * time.Second,
		PermitWithoutStream: true,
	}

	kaParams := keepalive.ServerParameters{
		Time:    30 * time.Second,
		Timeout: 20 * time.Second,
	}

	return []grpc.ServerOption{
		grpc.Creds(insecure.NewCredentials()),
		grpc.KeepaliveEnforcementPolicy(enfPolicy),
		grpc.KeepaliveParams(kaParams),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}
}

// DialOptions defines gRPC options for connections
// from a replica to the sync service of a peer.
func DialOptions() []grpc.DialOption {

	// Sync messages travel as gzipped JSON.
	callOpts := []grpc.CallOption{
		grpc.CallContentSubtype(codecName),
		grpc.UseCompressor(gzip.Name),
		grpc.MaxCallRecvMsgSize(maxMsgSize),
		grpc.MaxCallSendMsgSize(maxMsgSize),
	}

	// Must not ping more often than the peer's
	// enforcement policy permits.
	kaParams := keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             20 * time.Second,
		PermitWithoutStream: true,
	}

	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithKeepaliveParams(kaParams),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}
