package jvm

import (
	"fmt"

	"github.com/wippyai/jvm-runtime/errors"
)

type tokenState uint8

const (
	stateClear tokenState = iota
	statePending
)

// Capability witnesses that its binding has no exception pending. Every
// operation that is unsafe to run with an exception pending either borrows
// one (read-only queries) or consumes one (calls that may throw).
//
// Tokens are single-owner: a consuming call invalidates the token it was
// given and hands back a fresh one alongside the result, or a pending
// Exception token instead. Go cannot enforce the move statically, so reuse
// of a consumed token is detected at the next call and escalated as a
// contract violation.
type Capability struct {
	env *Env
	gen uint64
}

// Exception witnesses that an exception is pending on its binding. While
// one is live, only the exception-inspection operations are legal; clearing
// it through ExceptionClear yields a fresh Capability.
type Exception struct {
	env *Env
	gen uint64
}

// Thrown is the error returned by operations that raised an exception in
// the VM. It carries the pending-exception token the caller needs in order
// to inspect, describe, or clear the exception. There is never a usable
// result alongside a Thrown.
type Thrown struct {
	Token *Exception
	Op    string
}

func (t *Thrown) Error() string {
	return fmt.Sprintf("[runtime] pending_exception: %s raised an exception", t.Op)
}

// consumeClear validates and invalidates a Clear token. After it returns,
// cap is dead; the caller must issue a replacement or transition to
// pending.
func (e *Env) consumeClear(cap *Capability, op string) {
	e.checkOwner(op)
	if cap == nil || cap.env != e {
		errors.Violate(errors.PhaseRuntime, "%s: capability token missing or owned by another binding", op)
	}
	if e.state != stateClear || cap.gen != e.gen {
		errors.Violate(errors.PhaseRuntime, "%s: capability token already consumed", op)
	}
	e.gen++
}

// borrowClear validates a Clear token without invalidating it.
func (e *Env) borrowClear(cap *Capability, op string) {
	e.checkOwner(op)
	if cap == nil || cap.env != e {
		errors.Violate(errors.PhaseRuntime, "%s: capability token missing or owned by another binding", op)
	}
	if e.state != stateClear || cap.gen != e.gen {
		errors.Violate(errors.PhaseRuntime, "%s: capability token already consumed", op)
	}
}

// consumePending validates and invalidates a pending-exception token.
func (e *Env) consumePending(exc *Exception, op string) {
	e.checkOwner(op)
	if exc == nil || exc.env != e {
		errors.Violate(errors.PhaseRuntime, "%s: exception token missing or owned by another binding", op)
	}
	if e.state != statePending || exc.gen != e.gen {
		errors.Violate(errors.PhaseRuntime, "%s: exception token already consumed", op)
	}
	e.gen++
}

// borrowPending validates a pending-exception token without invalidating it.
func (e *Env) borrowPending(exc *Exception, op string) {
	e.checkOwner(op)
	if exc == nil || exc.env != e {
		errors.Violate(errors.PhaseRuntime, "%s: exception token missing or owned by another binding", op)
	}
	if e.state != statePending || exc.gen != e.gen {
		errors.Violate(errors.PhaseRuntime, "%s: exception token already consumed", op)
	}
}

// issueClear mints the binding's next Clear token.
func (e *Env) issueClear() *Capability {
	e.state = stateClear
	return &Capability{env: e, gen: e.gen}
}

// pendingToken transitions the binding to the pending state and mints the
// matching Exception token.
func (e *Env) pendingToken() *Exception {
	e.state = statePending
	return &Exception{env: e, gen: e.gen}
}

// thrown wraps pendingToken as the error surface of a throwing call.
func (e *Env) thrown(op string) error {
	return &Thrown{Token: e.pendingToken(), Op: op}
}
