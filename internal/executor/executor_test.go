package executor

import (
	"context"
	"testing"

	"github.com/kanari-network/kanarinode/internal/kv/memdb"
	"github.com/kanari-network/kanarinode/internal/smt"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
	"github.com/kanari-network/kanarinode/internal/vmbridge"
)

// mockEngine is the Engine test double, in the same shape as the teacher's
// mockClient in tests/ai_test.go: canned responses/errors per method.
type mockEngine struct {
	validateResp vmbridge.VerifiedTransaction
	validateErr  error
	executeResp  vmbridge.RawOutput
	executeErr   error
	readonlyResp vmbridge.FunctionResult
	readonlyErr  error
	calls        []string
}

func (m *mockEngine) ValidateAuthenticator(ctx context.Context, txCtx vmbridge.TxContext, authenticator vmbridge.AuthenticatorInfo) (vmbridge.VerifiedTransaction, error) {
	m.calls = append(m.calls, "validate")
	return m.validateResp, m.validateErr
}

func (m *mockEngine) Execute(ctx context.Context, tx vmbridge.VerifiedTransaction) (vmbridge.RawOutput, error) {
	m.calls = append(m.calls, "execute")
	return m.executeResp, m.executeErr
}

func (m *mockEngine) CallReadonly(ctx context.Context, root types.Hash, txCtx vmbridge.TxContext, call vmbridge.FunctionCall) (vmbridge.FunctionResult, error) {
	m.calls = append(m.calls, "readonly:"+call.Function)
	return m.readonlyResp, m.readonlyErr
}

func newTestExecutor(t *testing.T, engine *mockEngine) *Executor {
	t.Helper()
	db := memdb.OpenEphemeral()
	e, err := New(db, engine, types.HashBytes([]byte("genesis")), nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestExecuteStoresResultAndAdvancesRoot(t *testing.T) {
	fieldKey := types.DeriveFieldKey("counter", "u64")
	objID := types.RootObjectID().ChildID(fieldKey)
	change := types.ObjectChange{
		Metadata: types.ObjectMeta{ID: objID},
		Value:    types.NewOp([]byte("v1")),
	}
	engine := &mockEngine{executeResp: vmbridge.RawOutput{
		Status:  types.TxStatusExecuted,
		GasUsed: 42,
		ChangeSet: types.StateChangeSet{
			GlobalSize: 7,
			Changes:    map[types.FieldKey]types.ObjectChange{fieldKey: change},
		},
	}}
	e := newTestExecutor(t, engine)
	genesisRoot := e.Root()

	tx := types.LedgerTransaction{
		Data:         types.TxData{Kind: types.TxDataL2, RawHash: types.HashBytes([]byte("tx"))},
		SequenceInfo: types.SequenceInfo{TxOrder: 1},
	}
	verified := vmbridge.VerifiedTransaction{Root: e.Root()}

	info, set, err := e.Execute(context.Background(), tx, verified)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if info.Status != types.TxStatusExecuted || info.GasUsed != 42 {
		t.Fatalf("unexpected execution info: %+v", info)
	}
	if set.StateRoot == genesisRoot {
		t.Fatal("state root did not advance past genesis")
	}
	if info.StateRoot != set.StateRoot {
		t.Fatalf("execution info root = %x, want %x", info.StateRoot, set.StateRoot)
	}
	if e.Root() != set.StateRoot {
		t.Fatalf("executor root = %x, want %x", e.Root(), set.StateRoot)
	}

	tree := smt.NewTree(e.smtStore)
	valueHash, proof, err := tree.GetWithProof(set.StateRoot, objID.Hash())
	if err != nil {
		t.Fatalf("GetWithProof: %v", err)
	}
	if valueHash == nil {
		t.Fatal("committed value hash missing")
	}
	if !smt.VerifyProof(set.StateRoot, objID.Hash(), valueHash, proof) {
		t.Fatal("proof did not verify against the committed root")
	}

	// The SMT leaf commits a hash of the object's full persisted state
	// (metadata included, since a metadata-only change still needs a new
	// leaf), not just the raw value bytes: recompute it from what actually
	// landed in the object store and check it matches what got committed.
	persisted, err := store.NewObjectStore(e.kvStore).Get(objID)
	if err != nil {
		t.Fatalf("ObjectStore.Get: %v", err)
	}
	if persisted == nil {
		t.Fatal("object state not persisted")
	}
	if string(persisted.Value) != string(change.Value.Value) {
		t.Fatalf("persisted value = %q, want %q", persisted.Value, change.Value.Value)
	}
	raw, err := codec.Marshal(*persisted)
	if err != nil {
		t.Fatalf("codec.Marshal: %v", err)
	}
	wantValueHash := types.HashBytes(raw)
	if *valueHash != wantValueHash {
		t.Fatalf("committed value hash = %x, want %x", *valueHash, wantValueHash)
	}

	got, err := e.txStore.GetExecutionInfo(tx.TxHash())
	if err != nil {
		t.Fatalf("GetExecutionInfo: %v", err)
	}
	if got == nil || got.GasUsed != 42 {
		t.Fatalf("execution info not persisted: %+v", got)
	}

	startup, err := e.metaStore.GetStartupInfo()
	if err != nil {
		t.Fatalf("GetStartupInfo: %v", err)
	}
	if startup == nil || startup.StateRoot != set.StateRoot || startup.Size != 7 {
		t.Fatalf("startup info not advanced: %+v", startup)
	}
}

// fakeGasUpgradeNotifier records every call, for asserting Execute wires
// IsGasUpgrade through to the notifier.
type fakeGasUpgradeNotifier struct {
	calls []types.Hash
}

func (f *fakeGasUpgradeNotifier) NotifyGasUpgrade(txHash, stateRoot types.Hash) {
	f.calls = append(f.calls, txHash)
}

func TestExecuteNotifiesGasUpgrade(t *testing.T) {
	engine := &mockEngine{executeResp: vmbridge.RawOutput{Status: types.TxStatusExecuted, IsGasUpgrade: true}}
	e := newTestExecutor(t, engine)
	notifier := &fakeGasUpgradeNotifier{}
	e.SetGasUpgradeNotifier(notifier)

	tx := types.LedgerTransaction{
		Data:         types.TxData{Kind: types.TxDataL2, RawHash: types.HashBytes([]byte("gas-upgrade-tx"))},
		SequenceInfo: types.SequenceInfo{TxOrder: 1},
	}
	if _, _, err := e.Execute(context.Background(), tx, vmbridge.VerifiedTransaction{Root: e.Root()}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != tx.TxHash() {
		t.Fatalf("notifier calls = %+v, want one call for tx_hash %x", notifier.calls, tx.TxHash())
	}
}

func TestExecuteSkipsGasUpgradeNotifyWithoutIsGasUpgrade(t *testing.T) {
	engine := &mockEngine{executeResp: vmbridge.RawOutput{Status: types.TxStatusExecuted}}
	e := newTestExecutor(t, engine)
	notifier := &fakeGasUpgradeNotifier{}
	e.SetGasUpgradeNotifier(notifier)

	tx := types.LedgerTransaction{
		Data:         types.TxData{Kind: types.TxDataL2, RawHash: types.HashBytes([]byte("no-gas-upgrade-tx"))},
		SequenceInfo: types.SequenceInfo{TxOrder: 1},
	}
	if _, _, err := e.Execute(context.Background(), tx, vmbridge.VerifiedTransaction{Root: e.Root()}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("notifier calls = %+v, want none", notifier.calls)
	}
}

func TestDryRunDoesNotPersist(t *testing.T) {
	engine := &mockEngine{executeResp: vmbridge.RawOutput{Status: types.TxStatusExecuted}}
	e := newTestExecutor(t, engine)

	if _, err := e.DryRun(context.Background(), vmbridge.VerifiedTransaction{Root: e.Root()}); err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	startup, err := e.metaStore.GetStartupInfo()
	if err != nil {
		t.Fatalf("GetStartupInfo: %v", err)
	}
	if startup != nil {
		t.Fatalf("dry run must not persist startup info, got %+v", startup)
	}
}

func TestDryRunL2TxPadsSizeAndSkipsAuthValidation(t *testing.T) {
	engine := &mockEngine{executeResp: vmbridge.RawOutput{Status: types.TxStatusExecuted}}
	e := newTestExecutor(t, engine)

	call := vmbridge.FunctionCall{Module: "account", Function: "run"}
	out, err := e.DryRunL2Tx(context.Background(), types.Address{9}, types.HashBytes([]byte("unsigned")), call, 10)
	if err != nil {
		t.Fatalf("DryRunL2Tx: %v", err)
	}
	if out.Status != types.TxStatusExecuted {
		t.Fatalf("status = %v, want executed", out.Status)
	}
	for _, c := range engine.calls {
		if c == "validate" {
			t.Fatal("DryRunL2Tx must not call ValidateAuthenticator: the tx is unsigned")
		}
	}
	startup, err := e.metaStore.GetStartupInfo()
	if err != nil {
		t.Fatalf("GetStartupInfo: %v", err)
	}
	if startup != nil {
		t.Fatalf("dry run must not persist startup info, got %+v", startup)
	}
}

func TestValidateL1BlockRoutesByChain(t *testing.T) {
	e := newTestExecutor(t, &mockEngine{})
	block := vmbridge.L1Block{ChainID: ChainIDBitcoin, BlockHeight: 100, BlockHash: types.HashBytes([]byte("b")), Body: []byte("body")}

	verified, err := e.ValidateL1Block(context.Background(), block)
	if err != nil {
		t.Fatalf("ValidateL1Block: %v", err)
	}
	if verified.Call.Module != bitcoinModule || verified.Call.Function != fnExecuteL1Block {
		t.Fatalf("unexpected call: %+v", verified.Call)
	}
	if !verified.IsBlock {
		t.Fatal("expected IsBlock = true")
	}
}

func TestValidateL1BlockRejectsUnsupportedChain(t *testing.T) {
	e := newTestExecutor(t, &mockEngine{})
	_, err := e.ValidateL1Block(context.Background(), vmbridge.L1Block{ChainID: 99})
	if err == nil {
		t.Fatal("expected error for unsupported chain")
	}
}

func TestValidateL1TxRejectsAlreadyExecuted(t *testing.T) {
	engine := &mockEngine{readonlyResp: vmbridge.FunctionResult{ReturnValues: [][]byte{{0}}}}
	e := newTestExecutor(t, engine)

	_, err := e.ValidateL1Tx(context.Background(), vmbridge.L1Tx{ChainID: ChainIDBitcoin, TxID: types.HashBytes([]byte("t"))}, false)
	if err != ErrL1TxAlreadyExecuted {
		t.Fatalf("error = %v, want ErrL1TxAlreadyExecuted", err)
	}
}

func TestValidateL1TxBypassSkipsCheck(t *testing.T) {
	engine := &mockEngine{}
	e := newTestExecutor(t, engine)

	_, err := e.ValidateL1Tx(context.Background(), vmbridge.L1Tx{ChainID: ChainIDBitcoin, TxID: types.HashBytes([]byte("t"))}, true)
	if err != nil {
		t.Fatalf("ValidateL1Tx: %v", err)
	}
	for _, c := range engine.calls {
		if c == "readonly:"+fnValidateL1Tx {
			t.Fatal("bypass should skip the readonly validator call")
		}
	}
}

func TestValidateL2TxDelegatesToEngine(t *testing.T) {
	engine := &mockEngine{validateResp: vmbridge.VerifiedTransaction{Call: vmbridge.FunctionCall{Module: "account", Function: "run"}}}
	e := newTestExecutor(t, engine)

	verified, err := e.ValidateL2Tx(context.Background(), vmbridge.TxContext{}, vmbridge.AuthenticatorInfo{})
	if err != nil {
		t.Fatalf("ValidateL2Tx: %v", err)
	}
	if verified.Root != e.Root() {
		t.Fatalf("verified root = %x, want executor root %x", verified.Root, e.Root())
	}
	if verified.Call.Function != "run" {
		t.Fatalf("unexpected call: %+v", verified.Call)
	}
}
