// Package vmbridge models the pluggable smart-contract VM as an external
// collaborator reached over gRPC, per spec.md §1 ("the contract VM itself
// ... a pluggable execution engine the executor calls into"). Grounded on
// the teacher's AIEngine/AIStubClient pattern in
// orbas1-Synnergy/synnergy-network/core/ai.go and core/common_structs.go:
// a manually defined client interface plus a *grpc.ClientConn dial, with
// the concrete wire implementation injected by the caller rather than
// vendored here (the VM's own wire protocol is out of this module's
// scope; a real deployment supplies an Engine backed by generated
// protobuf stubs over that conn).
package vmbridge

import (
	"context"

	"github.com/kanari-network/kanarinode/internal/types"
)

// TxContext is the execution context handed to the VM for one transaction.
type TxContext struct {
	TxHash         types.Hash
	TxSize         uint64
	Sender         types.Address
	SequenceNumber uint64
	MaxGasAmount   uint64
}

// AuthenticatorInfo carries the sender-supplied authentication payload for
// an L2 transaction.
type AuthenticatorInfo struct {
	ValidatorID uint64
	Payload     []byte
}

// L1Block is an ingested Bitcoin (or other L1) block, addressed by chain id
// so the VM can route it to the right framework module.
type L1Block struct {
	ChainID     uint64
	BlockHeight uint64
	BlockHash   types.Hash
	Body        []byte
}

// L1Tx is an ingested L1 transaction.
type L1Tx struct {
	ChainID   uint64
	BlockHash types.Hash
	TxID      types.Hash
}

// FunctionCall is a single Move-style entry function invocation, used both
// for dry-run conversion and read-only calls.
type FunctionCall struct {
	Module   string
	Function string
	Args     [][]byte
}

// VerifiedTransaction is a transaction the VM has validated and is ready to
// execute: system calls (L1) skip auth validation entirely, per spec.md
// §4.F.
type VerifiedTransaction struct {
	Root    types.Hash
	Ctx     TxContext
	Call    FunctionCall
	IsBlock bool // true for L1 block ingestion, routed differently by some VMs
}

// RawOutput is the VM's raw execution result, before the state store
// layer turns it into a persisted StateChangeSet/TransactionExecutionInfo.
type RawOutput struct {
	Status       types.TxStatus
	GasUsed      uint64
	EventRoot    types.Hash
	IsGasUpgrade bool
	ChangeSet    types.StateChangeSet
}

// FunctionResult is the return value of a read-only function call.
type FunctionResult struct {
	ReturnValues [][]byte
}

// Engine is the boundary the executor calls into. A concrete
// implementation dials the VM process over gRPC (see Client) and
// marshals these calls onto its wire protocol; this package defines the
// contract plus one JSON-over-gRPC implementation (NewJSONEngine), matching
// the teacher's "manually defined interface" comment in core/ai.go.
type Engine interface {
	// ValidateAuthenticator runs the transaction validator and, if it
	// names one, the auth validator module for the given authenticator.
	ValidateAuthenticator(ctx context.Context, txCtx TxContext, authenticator AuthenticatorInfo) (VerifiedTransaction, error)
	// Execute runs a previously verified transaction and returns its raw
	// output.
	Execute(ctx context.Context, tx VerifiedTransaction) (RawOutput, error)
	// CallReadonly invokes a read-only entry function against root.
	CallReadonly(ctx context.Context, root types.Hash, txCtx TxContext, call FunctionCall) (FunctionResult, error)
}
