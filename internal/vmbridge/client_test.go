package vmbridge

import (
	"context"
	"testing"

	"google.golang.org/grpc"

	"github.com/kanari-network/kanarinode/internal/types"
)

type stubEngine struct{ conn *grpc.ClientConn }

func (s *stubEngine) ValidateAuthenticator(ctx context.Context, txCtx TxContext, authenticator AuthenticatorInfo) (VerifiedTransaction, error) {
	return VerifiedTransaction{}, nil
}

func (s *stubEngine) Execute(ctx context.Context, tx VerifiedTransaction) (RawOutput, error) {
	return RawOutput{}, nil
}

func (s *stubEngine) CallReadonly(ctx context.Context, root types.Hash, txCtx TxContext, call FunctionCall) (FunctionResult, error) {
	return FunctionResult{}, nil
}

func TestDialBuildsEngineAgainstConn(t *testing.T) {
	var gotConn *grpc.ClientConn
	client, err := Dial("localhost:0", func(conn *grpc.ClientConn) Engine {
		gotConn = conn
		return &stubEngine{conn: conn}
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if client.Conn == nil {
		t.Fatal("expected non-nil Conn")
	}
	if gotConn != client.Conn {
		t.Fatal("factory must receive the dialed conn")
	}
	if client.Engine == nil {
		t.Fatal("expected non-nil Engine")
	}
}
