package vmbridge

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client dials the VM process and pairs the raw connection with an Engine
// implementation, mirroring core/common_structs.go's AIEngine: a
// *grpc.ClientConn held alongside a manually defined client interface
// rather than a generated stub. Conn is exported so a concrete Engine
// constructed elsewhere (wrapping generated protobuf stubs) can be built
// against it without this package needing to know its wire format.
type Client struct {
	Conn   *grpc.ClientConn
	Engine Engine
}

// EngineFactory builds an Engine bound to conn. cmd/kanarinode supplies
// this package's NewJSONEngine at startup; an Engine backed by generated
// protobuf stubs comes from a factory defined outside this package.
type EngineFactory func(conn *grpc.ClientConn) Engine

// Dial connects to target and builds the Engine via factory. Insecure
// transport credentials are used because the VM process is expected to run
// as a local sidecar, not across a trust boundary; callers that need TLS
// should pass their own grpc.DialOption list via DialWithOptions.
func Dial(target string, factory EngineFactory) (*Client, error) {
	return DialWithOptions(target, factory, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// DialWithOptions is Dial with caller-supplied grpc.DialOption values.
func DialWithOptions(target string, factory EngineFactory, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("vmbridge: dial %s: %w", target, err)
	}
	return &Client{Conn: conn, Engine: factory(conn)}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.Conn.Close()
}
