package vmbridge

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/kanari-network/kanarinode/internal/types"
)

const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec is a grpc encoding.Codec exchanging plain JSON bodies instead
// of protobuf wire messages, registered under the "json" content-subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return jsonCodecName }

// jsonEngine is the module's bundled default Engine: a VM reached as a
// plain JSON-over-gRPC unary service rather than one described by vendored
// protobuf stubs. A deployment pairing this node with a VM that does speak
// generated protobuf can still supply its own EngineFactory to Dial; this
// one exists so the node has a concrete, runnable Engine without the
// module vendoring a specific VM's wire definitions.
type jsonEngine struct {
	conn *grpc.ClientConn
}

// NewJSONEngine is an EngineFactory building the default JSON-over-gRPC
// Engine bound to conn.
func NewJSONEngine(conn *grpc.ClientConn) Engine {
	return &jsonEngine{conn: conn}
}

func (e *jsonEngine) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return e.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(jsonCodecName))
}

type validateAuthenticatorRequest struct {
	TxContext     TxContext
	Authenticator AuthenticatorInfo
}

func (e *jsonEngine) ValidateAuthenticator(ctx context.Context, txCtx TxContext, authenticator AuthenticatorInfo) (VerifiedTransaction, error) {
	var resp VerifiedTransaction
	req := validateAuthenticatorRequest{TxContext: txCtx, Authenticator: authenticator}
	if err := e.invoke(ctx, "/kanari.vm.Engine/ValidateAuthenticator", req, &resp); err != nil {
		return VerifiedTransaction{}, err
	}
	return resp, nil
}

func (e *jsonEngine) Execute(ctx context.Context, tx VerifiedTransaction) (RawOutput, error) {
	var resp RawOutput
	if err := e.invoke(ctx, "/kanari.vm.Engine/Execute", tx, &resp); err != nil {
		return RawOutput{}, err
	}
	return resp, nil
}

type callReadonlyRequest struct {
	Root      types.Hash
	TxContext TxContext
	Call      FunctionCall
}

func (e *jsonEngine) CallReadonly(ctx context.Context, root types.Hash, txCtx TxContext, call FunctionCall) (FunctionResult, error) {
	var resp FunctionResult
	req := callReadonlyRequest{Root: root, TxContext: txCtx, Call: call}
	if err := e.invoke(ctx, "/kanari.vm.Engine/CallReadonly", req, &resp); err != nil {
		return FunctionResult{}, err
	}
	return resp, nil
}
