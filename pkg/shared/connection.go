package shared

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

const (
	// DefaultGRPCTimeout is the default timeout for gRPC operations
	DefaultGRPCTimeout = 30 * time.Second

	// MaxConnectBackoff caps the delay between reconnection attempts
	MaxConnectBackoff = 5 * time.Second
)

// DialOptions returns the options every swarm connection is created with.
// Transport security is out of scope, so connections are always plaintext.
func DialOptions(extra ...grpc.DialOption) []grpc.DialOption {
	backoffCfg := backoff.DefaultConfig
	backoffCfg.MaxDelay = MaxConnectBackoff

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoffCfg,
			MinConnectTimeout: DefaultGRPCTimeout,
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	return append(opts, extra...)
}

// ConnectToNode creates a client connection to a swarm node. The
// connection is established lazily on first use.
func ConnectToNode(address string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(address, DialOptions(extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node %s: %w", address, err)
	}
	return conn, nil
}

// ConnectionPool keeps one connection per node address
type ConnectionPool struct {
	connections map[string]*grpc.ClientConn
	mutex       sync.RWMutex
	dialOptions []grpc.DialOption
}

// NewConnectionPool creates a pool whose connections use the extra dial options
func NewConnectionPool(extra ...grpc.DialOption) *ConnectionPool {
	return &ConnectionPool{
		connections: make(map[string]*grpc.ClientConn),
		dialOptions: extra,
	}
}

// GetConnection returns a pooled connection or creates a new one
func (p *ConnectionPool) GetConnection(address string) (*grpc.ClientConn, error) {
	p.mutex.RLock()
	conn, exists := p.connections[address]
	p.mutex.RUnlock()

	if exists && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	// Double-check after acquiring write lock
	conn, exists = p.connections[address]
	if exists && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	newConn, err := ConnectToNode(address, p.dialOptions...)
	if err != nil {
		return nil, err
	}

	p.connections[address] = newConn
	return newConn, nil
}

// Len returns the number of pooled connections
func (p *ConnectionPool) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.connections)
}

// CloseAll closes all connections in the pool
func (p *ConnectionPool) CloseAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, conn := range p.connections {
		conn.Close()
	}
	p.connections = make(map[string]*grpc.ClientConn)
}
