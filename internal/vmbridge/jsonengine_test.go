package vmbridge

import (
	"testing"

	"github.com/kanari-network/kanarinode/internal/types"
)

func TestJSONCodecRoundTripsFunctionCall(t *testing.T) {
	want := FunctionCall{Module: "account", Function: "transfer", Args: [][]byte{[]byte("a"), []byte("b")}}
	data, err := jsonCodec{}.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got FunctionCall
	if err := jsonCodec{}.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Module != want.Module || got.Function != want.Function || len(got.Args) != len(want.Args) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestJSONCodecRoundTripsVerifiedTransaction(t *testing.T) {
	want := VerifiedTransaction{
		Root:    types.HashBytes([]byte("root")),
		Ctx:     TxContext{TxHash: types.HashBytes([]byte("tx")), MaxGasAmount: 42},
		Call:    FunctionCall{Module: "m", Function: "f"},
		IsBlock: true,
	}
	data, err := jsonCodec{}.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got VerifiedTransaction
	if err := jsonCodec{}.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Root != want.Root || got.Ctx.TxHash != want.Ctx.TxHash || got.IsBlock != want.IsBlock {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestJSONCodecNameIsJSON(t *testing.T) {
	if jsonCodec{}.Name() != "json" {
		t.Fatalf("Name() = %q, want json", jsonCodec{}.Name())
	}
}
