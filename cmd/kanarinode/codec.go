package main

import (
	"fmt"

	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/vmbridge"
)

// rlpCodec decodes the three admissible tx-data payload shapes with the
// same RLP encoding every column family already uses (internal/store/codec),
// rather than introducing a second wire format. The sender-supplied wire
// envelope proper (an RPC façade's request body) is out of this module's
// scope per spec.md §1; this is the envelope that module's handler would
// decode before handing the payload bytes down to the pipeline.
type rlpCodec struct{}

func (rlpCodec) DecodeL2(payload []byte) (vmbridge.TxContext, vmbridge.AuthenticatorInfo, error) {
	var req struct {
		TxContext     vmbridge.TxContext
		Authenticator vmbridge.AuthenticatorInfo
	}
	if err := codec.Unmarshal(payload, &req); err != nil {
		return vmbridge.TxContext{}, vmbridge.AuthenticatorInfo{}, fmt.Errorf("decode l2 payload: %w", err)
	}
	return req.TxContext, req.Authenticator, nil
}

func (rlpCodec) DecodeL2Unsigned(payload []byte) (vmbridge.FunctionCall, uint64, error) {
	var call vmbridge.FunctionCall
	if err := codec.Unmarshal(payload, &call); err != nil {
		return vmbridge.FunctionCall{}, 0, fmt.Errorf("decode unsigned l2 payload: %w", err)
	}
	return call, uint64(len(payload)), nil
}

func (rlpCodec) DecodeL1Block(payload []byte) (vmbridge.L1Block, error) {
	var block vmbridge.L1Block
	if err := codec.Unmarshal(payload, &block); err != nil {
		return vmbridge.L1Block{}, fmt.Errorf("decode l1 block payload: %w", err)
	}
	return block, nil
}

func (rlpCodec) DecodeL1Tx(payload []byte) (vmbridge.L1Tx, error) {
	var tx vmbridge.L1Tx
	if err := codec.Unmarshal(payload, &tx); err != nil {
		return vmbridge.L1Tx{}, fmt.Errorf("decode l1 tx payload: %w", err)
	}
	return tx, nil
}
