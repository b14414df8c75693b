package objectruntime

import (
	"errors"
	"testing"

	"github.com/kanari-network/kanarinode/internal/types"
)

// fakeResolver has nothing persisted yet: every field loads as None,
// exercising the lazy "not found" path.
type fakeResolver struct{}

func newFakeResolver() *fakeResolver { return &fakeResolver{} }

func (r *fakeResolver) GetField(stateRoot types.Hash, key types.FieldKey) (*types.ObjectState, error) {
	return nil, nil
}

func TestMoveToThenIntoChangeProducesNewOp(t *testing.T) {
	ro := None(types.RootObjectID().ChildID(types.DeriveFieldKey("balance", "u64")))
	if err := ro.MoveTo(types.Address{1}, "coin_store", []byte("100"), 10); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	change, err := ro.IntoChange(10)
	if err != nil {
		t.Fatalf("IntoChange: %v", err)
	}
	if change == nil {
		t.Fatal("expected a non-nil change")
	}
	if change.Value.Kind != types.OpNew || string(change.Value.Value) != "100" {
		t.Fatalf("unexpected value op: %+v", change.Value)
	}
	if change.Metadata.UpdatedAt != 10 {
		t.Fatalf("updated_at = %d, want 10", change.Metadata.UpdatedAt)
	}
}

func TestMoveToTwiceFails(t *testing.T) {
	ro := Fresh(types.NewObjectMeta(types.RootObjectID(), types.Address{1}, "account", 1), []byte("v1"))
	if err := ro.MoveTo(types.Address{1}, "account", []byte("v2"), 2); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("error = %v, want ErrAlreadyExists", err)
	}
}

func TestSetValueBumpsUpdatedAt(t *testing.T) {
	state := types.ObjectState{
		Metadata: types.NewObjectMeta(types.RootObjectID(), types.Address{1}, "account", 1),
		Value:    []byte("old"),
	}
	ro := Load(state)
	if err := ro.SetValue([]byte("new")); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	change, err := ro.IntoChange(5)
	if err != nil {
		t.Fatalf("IntoChange: %v", err)
	}
	if change == nil || change.Value.Kind != types.OpModify || string(change.Value.Value) != "new" {
		t.Fatalf("unexpected change: %+v", change)
	}
	if change.Metadata.UpdatedAt != 5 {
		t.Fatalf("updated_at = %d, want 5", change.Metadata.UpdatedAt)
	}
}

func TestMoveFromMarksDeleted(t *testing.T) {
	state := types.ObjectState{
		Metadata: types.NewObjectMeta(types.RootObjectID(), types.Address{1}, "account", 1),
		Value:    []byte("v"),
	}
	ro := Load(state)
	if _, err := ro.MoveFrom(); err != nil {
		t.Fatalf("MoveFrom: %v", err)
	}
	change, err := ro.IntoChange(2)
	if err != nil {
		t.Fatalf("IntoChange: %v", err)
	}
	if change == nil || change.Value.Kind != types.OpDelete {
		t.Fatalf("unexpected change: %+v", change)
	}
}

func TestBorrowObjectRules(t *testing.T) {
	ro := Fresh(types.NewObjectMeta(types.RootObjectID(), types.Address{1}, "account", 1), []byte("v"))
	if err := ro.BorrowObject(); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	if err := ro.BorrowObject(); !errors.Is(err, ErrAlreadyBorrowed) {
		t.Fatalf("second borrow error = %v, want ErrAlreadyBorrowed", err)
	}
	ro.ReleaseObject()
	if err := ro.BorrowObject(); err != nil {
		t.Fatalf("borrow after release: %v", err)
	}
}

func TestBorrowDeletedObjectFails(t *testing.T) {
	ro := None(types.RootObjectID())
	if err := ro.BorrowObject(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestTakeObjectMarksEmbeddedOnIntoChange(t *testing.T) {
	ro := Fresh(types.NewObjectMeta(types.RootObjectID().ChildID(types.DeriveFieldKey("f", "t")), types.Address{1}, "box", 1), []byte("v"))
	if err := ro.TakeObject(); err != nil {
		t.Fatalf("TakeObject: %v", err)
	}
	change, err := ro.IntoChange(9)
	if err != nil {
		t.Fatalf("IntoChange: %v", err)
	}
	if change == nil {
		t.Fatal("expected a change")
	}
	if !change.Metadata.Embedded || change.Metadata.Owner != types.SystemAddress {
		t.Fatalf("expected embedded ownership rewrite, got %+v", change.Metadata)
	}
}

func TestTakeObjectTwiceFails(t *testing.T) {
	ro := Fresh(types.NewObjectMeta(types.RootObjectID(), types.Address{1}, "box", 1), []byte("v"))
	if err := ro.TakeObject(); err != nil {
		t.Fatalf("TakeObject: %v", err)
	}
	if err := ro.TakeObject(); !errors.Is(err, ErrAlreadyTakenOrEmbedded) {
		t.Fatalf("error = %v, want ErrAlreadyTakenOrEmbedded", err)
	}
}

func TestReturnObjectRewritesOwner(t *testing.T) {
	state := types.ObjectState{
		Metadata: types.ObjectMeta{
			ID:       types.RootObjectID().ChildID(types.DeriveFieldKey("f", "t")),
			Owner:    types.SystemAddress,
			Embedded: true,
		},
		Value: []byte("v"),
	}
	ro := Load(state)
	newOwner := types.Address{7}
	if err := ro.ReturnObject(newOwner); err != nil {
		t.Fatalf("ReturnObject: %v", err)
	}
	change, err := ro.IntoChange(3)
	if err != nil {
		t.Fatalf("IntoChange: %v", err)
	}
	if change == nil || change.Metadata.Owner != newOwner {
		t.Fatalf("unexpected change: %+v", change)
	}
}

func TestAddFieldAndRemoveFieldTrackSize(t *testing.T) {
	resolver := newFakeResolver()
	parent := Fresh(types.NewObjectMeta(types.RootObjectID(), types.Address{1}, "table", 1), []byte("parent"))
	fieldKey := types.DeriveFieldKey("slot0", "u64")

	if err := parent.AddField(resolver, fieldKey, types.Address{1}, "u64", []byte("42"), 1); err != nil {
		t.Fatalf("AddField: %v", err)
	}
	if parent.Metadata().Size != 1 {
		t.Fatalf("size = %d, want 1", parent.Metadata().Size)
	}

	value, err := parent.RemoveField(resolver, fieldKey)
	if err != nil {
		t.Fatalf("RemoveField: %v", err)
	}
	if string(value) != "42" {
		t.Fatalf("removed value = %q, want 42", value)
	}
	if parent.Metadata().Size != 0 {
		t.Fatalf("size = %d, want 0", parent.Metadata().Size)
	}

	change, err := parent.IntoChange(5)
	if err != nil {
		t.Fatalf("IntoChange: %v", err)
	}
	fieldChange, ok := change.Fields[fieldKey]
	if !ok {
		t.Fatal("expected field change to be present")
	}
	if fieldChange.Value.Kind != types.OpDelete {
		t.Fatalf("field op = %v, want OpDelete", fieldChange.Value.Kind)
	}
}

func TestLoadFieldCachesAcrossCalls(t *testing.T) {
	resolver := newFakeResolver()
	parent := None(types.RootObjectID())
	fieldKey := types.DeriveFieldKey("f", "t")

	first, err := parent.LoadField(resolver, fieldKey)
	if err != nil {
		t.Fatalf("LoadField: %v", err)
	}
	second, err := parent.LoadField(resolver, fieldKey)
	if err != nil {
		t.Fatalf("LoadField: %v", err)
	}
	if first != second {
		t.Fatal("expected the same cached RuntimeObject on repeated LoadField")
	}
}

func TestIntoChangeOmitsUntouchedObject(t *testing.T) {
	state := types.ObjectState{
		Metadata: types.NewObjectMeta(types.RootObjectID(), types.Address{1}, "account", 1),
		Value:    []byte("v"),
	}
	ro := Load(state)
	change, err := ro.IntoChange(1)
	if err != nil {
		t.Fatalf("IntoChange: %v", err)
	}
	if change != nil {
		t.Fatalf("expected no change for an untouched object, got %+v", change)
	}
}
