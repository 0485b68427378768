package soundstream

import "sync"

// OperationCallback is invoked exactly once when an Operation
// completes, unless it is cancelled first (directly or via the owning
// stream's unlink), in which case it never fires.
type OperationCallback func(success bool)

// OperationState tracks where an Operation is in its lifecycle.
type OperationState int

const (
	OperationRunning OperationState = iota
	OperationDone
	OperationCancelled
)

// Operation is a cancellable handle to a pending control command. It
// is registered with the stream that issued it and cancelled
// automatically if that stream unlinks before the reply arrives.
type Operation struct {
	mu    sync.Mutex
	state OperationState
	cb    OperationCallback
	owner *Stream
}

func newOperation(s *Stream, cb OperationCallback) *Operation {
	op := &Operation{cb: cb, owner: s}
	s.addOperation(op)
	return op
}

// complete marks the operation done and invokes its callback, unless
// it was already cancelled.
func (op *Operation) complete(success bool) {
	op.mu.Lock()
	if op.state != OperationRunning {
		op.mu.Unlock()
		return
	}
	op.state = OperationDone
	cb := op.cb
	op.mu.Unlock()

	if op.owner != nil {
		op.owner.removeOperation(op)
	}
	if cb != nil {
		cb(success)
	}
}

// Cancel cancels the operation; its callback will not be invoked,
// whether or not a reply later arrives.
func (op *Operation) Cancel() {
	op.mu.Lock()
	alreadyDone := op.state != OperationRunning
	op.state = OperationCancelled
	op.mu.Unlock()
	if !alreadyDone && op.owner != nil {
		op.owner.removeOperation(op)
	}
}

// cancelLocked is used by Stream.unlinkLocked, which already holds the
// stream's mutex and clears s.ops itself after cancelling each entry —
// it must not call back into Stream.removeOperation (that would
// deadlock on s.mu).
func (op *Operation) cancelLocked() {
	op.mu.Lock()
	op.state = OperationCancelled
	op.mu.Unlock()
}

// State returns the operation's current state.
func (op *Operation) State() OperationState {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}
