package objectruntime

// pointerKind is the borrow/ownership state of one object's handle.
type pointerKind uint8

const (
	pointerNone pointerKind = iota
	pointerPresent
	pointerBorrowed
	pointerTakenOut
)

// objectPointer enforces the "at most one outstanding borrow, must be
// returned before the object can be taken again" rule, standing in for
// the original's Object<T> handle. wasTaken/wasReturned record whether
// take/returnPointer were ever called during this transaction, which is
// what IntoChange needs to decide whether an embedded-ownership rewrite
// happened — simpler and less error-prone than reconstructing the
// transition from the before/after kind alone.
type objectPointer struct {
	kind        pointerKind
	wasTaken    bool
	wasReturned bool
}

func newNonePointer() *objectPointer { return &objectPointer{kind: pointerNone} }

func newPresentPointer() *objectPointer { return &objectPointer{kind: pointerPresent} }

// init upgrades a None pointer to Present, called when a value is moved
// into a previously nonexistent object.
func (p *objectPointer) init() {
	if p.kind == pointerNone {
		p.kind = pointerPresent
	}
}

func (p *objectPointer) borrow() error {
	switch p.kind {
	case pointerPresent:
		p.kind = pointerBorrowed
		return nil
	case pointerBorrowed:
		return ErrAlreadyBorrowed
	default:
		return ErrAlreadyTakenOrEmbedded
	}
}

func (p *objectPointer) release() {
	if p.kind == pointerBorrowed {
		p.kind = pointerPresent
	}
}

// take removes the pointer entirely, e.g. to embed this object as a field
// value elsewhere.
func (p *objectPointer) take() error {
	switch p.kind {
	case pointerPresent:
		p.kind = pointerTakenOut
		p.wasTaken = true
		return nil
	case pointerBorrowed:
		return ErrAlreadyBorrowed
	default:
		return ErrAlreadyTakenOrEmbedded
	}
}

// returnPointer reinstates a taken-out pointer.
func (p *objectPointer) returnPointer() error {
	if p.kind != pointerTakenOut {
		return ErrNotFound
	}
	p.kind = pointerPresent
	p.wasReturned = true
	return nil
}

// pointerEffect is the net ownership rewrite IntoChange must apply.
type pointerEffect uint8

const (
	pointerEffectNone pointerEffect = iota
	pointerEffectTaken
	pointerEffectReturned
)

// intoEffect reports whether take/returnPointer were ever called this
// transaction. Both can't happen in the same transaction under the borrow
// rules (a taken-out pointer can only be returned by the one caller that
// took it, and once returned it's present again, not taken), so checking
// wasTaken first is unambiguous.
func (p *objectPointer) intoEffect() pointerEffect {
	if p.wasTaken {
		return pointerEffectTaken
	}
	if p.wasReturned {
		return pointerEffectReturned
	}
	return pointerEffectNone
}
