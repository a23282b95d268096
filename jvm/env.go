package jvm

import (
	"runtime"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/wippyai/jvm-runtime/errors"
	"github.com/wippyai/jvm-runtime/ffi"
	"github.com/wippyai/jvm-runtime/mutf8"
)

// Env is a per-thread binding to the VM. It owns the binding's capability
// state and is the frame within which scoped handles are valid.
//
// An Env is confined to the goroutine that created it; the underlying env
// table is only valid on that thread. Every operation checks ownership and
// escalates cross-goroutine use as a contract violation.
type Env struct {
	vm         *VM
	table      *ffi.EnvTable
	owner      int64
	gen        uint64
	state      tokenState
	frameDepth int
	owesDetach bool
	closed     bool
}

func (e *Env) checkOwner(op string) {
	if e.closed {
		errors.Violate(errors.PhaseRuntime, "%s on closed binding", op)
	}
	if g := goid.Get(); g != e.owner {
		errors.Violate(errors.PhaseRuntime,
			"%s called from goroutine %d; binding is confined to goroutine %d", op, g, e.owner)
	}
}

func (e *Env) newScoped(ref ffi.Ref) handle {
	return handle{e: e, ref: ref, class: RefScoped, frame: e.frameDepth}
}

// Close releases the binding. A pending exception at this point is a
// programmer error: the exception is surfaced through the VM's diagnostic
// output and cleared so it cannot leak across the detachment boundary,
// then the violation escalates. The thread is detached only if this
// binding performed the attachment.
func (e *Env) Close() error {
	e.checkOwner("Close")

	if e.state == statePending {
		e.table.ExceptionDescribe()
		e.table.ExceptionClear()
		e.closed = true
		e.vm.unregister(e)
		errors.Violate(errors.PhaseDetach, "binding closed with an exception pending")
	}

	e.closed = true
	e.gen++ // outstanding tokens are dead from here
	e.vm.unregister(e)

	var err error
	if e.owesDetach {
		err = errors.FromStatus(errors.PhaseDetach, "DetachCurrentThread", e.vm.table.DetachCurrentThread())
		Logger().Debug("thread detached", zap.Int64("goid", e.owner))
	}
	runtime.UnlockOSThread()
	return err
}

// Version returns the env table's interface revision, which may be newer
// than the revision the VM was created with.
func (e *Env) Version(cap *Capability) ffi.Version {
	e.borrowClear(cap, "Version")
	return e.table.GetVersion()
}

// FindClass resolves a class by its binary name in slash form, e.g.
// "java/lang/String". A null result means the VM raised an exception.
func (e *Env) FindClass(cap *Capability, name string) (*Class, *Capability, error) {
	e.consumeClear(cap, "FindClass")
	ref := e.table.FindClass(mutf8.Encode(name))
	if ref.Null() {
		return nil, nil, e.thrown("FindClass")
	}
	return &Class{e.newScoped(ref)}, e.issueClear(), nil
}

// DefineClass loads a class from raw class-file bytes under the given
// loader. A nil loader means the bootstrap loader.
func (e *Env) DefineClass(cap *Capability, name string, loader Handle, classData []byte) (*Class, *Capability, error) {
	e.consumeClear(cap, "DefineClass")
	ref := e.table.DefineClass(mutf8.Encode(name), refOf(loader), classData)
	if ref.Null() {
		return nil, nil, e.thrown("DefineClass")
	}
	return &Class{e.newScoped(ref)}, e.issueClear(), nil
}

// AllocObject allocates an instance of clazz without running any
// constructor.
func (e *Env) AllocObject(cap *Capability, clazz *Class) (*Object, *Capability, error) {
	e.consumeClear(cap, "AllocObject")
	ref := e.table.AllocObject(mustUse(clazz, "AllocObject"))
	if ref.Null() {
		return nil, nil, e.thrown("AllocObject")
	}
	return &Object{e.newScoped(ref)}, e.issueClear(), nil
}

// NewString creates a VM string from a Go string. The text crosses the
// boundary in Modified-UTF-8.
func (e *Env) NewString(cap *Capability, s string) (*Str, *Capability, error) {
	e.consumeClear(cap, "NewString")
	ref := e.table.NewStringUTF(mutf8.Encode(s))
	if e.table.ExceptionCheck() {
		return nil, nil, e.thrown("NewString")
	}
	return &Str{e.newScoped(ref)}, e.issueClear(), nil
}

// NewObjectArray creates an array of length references to clazz instances,
// every element initialized to initial (which may be nil).
func (e *Env) NewObjectArray(cap *Capability, length int, clazz *Class, initial *Object) (*ObjectArray, *Capability, error) {
	e.consumeClear(cap, "NewObjectArray")
	ref := e.table.NewObjectArray(int32(length), mustUse(clazz, "NewObjectArray"), refOf(initial))
	if ref.Null() {
		return nil, nil, e.thrown("NewObjectArray")
	}
	return &ObjectArray{e.newScoped(ref)}, e.issueClear(), nil
}

// Throw raises t as the pending exception. The binding transitions to the
// pending state whether or not the VM accepted the throw; the returned
// error reports a rejected throw.
func (e *Env) Throw(cap *Capability, t *Throwable) (*Exception, error) {
	e.consumeClear(cap, "Throw")
	status := e.table.Throw(mustUse(t, "Throw"))
	return e.pendingToken(), errors.FromStatus(errors.PhaseRuntime, "Throw", status)
}

// ThrowNew constructs an instance of clazz with the given message and
// raises it.
func (e *Env) ThrowNew(cap *Capability, clazz *Class, msg string) (*Exception, error) {
	e.consumeClear(cap, "ThrowNew")
	status := e.table.ThrowNew(mustUse(clazz, "ThrowNew"), mutf8.Encode(msg))
	return e.pendingToken(), errors.FromStatus(errors.PhaseRuntime, "ThrowNew", status)
}

// ExceptionCheck reports whether the VM has an exception pending. It is
// safe in any state and requires no token; it is the one query that can be
// used to re-synchronize after foreign code ran on this thread.
func (e *Env) ExceptionCheck() bool {
	e.checkOwner("ExceptionCheck")
	return e.table.ExceptionCheck()
}

// ExceptionOccurred returns a scoped handle to the pending exception, or
// nil if the VM reports none.
func (e *Env) ExceptionOccurred(exc *Exception) *Throwable {
	e.borrowPending(exc, "ExceptionOccurred")
	ref := e.table.ExceptionOccurred()
	if ref.Null() {
		return nil
	}
	return &Throwable{e.newScoped(ref)}
}

// ExceptionDescribe prints the pending exception and a backtrace to the
// VM's diagnostic output. The exception stays pending.
func (e *Env) ExceptionDescribe(exc *Exception) {
	e.borrowPending(exc, "ExceptionDescribe")
	e.table.ExceptionDescribe()
}

// ExceptionClear consumes the pending exception and returns a fresh Clear
// capability.
func (e *Env) ExceptionClear(exc *Exception) *Capability {
	e.consumePending(exc, "ExceptionClear")
	e.table.ExceptionClear()
	return e.issueClear()
}

// FatalError forwards an unrecoverable condition to the VM, which
// terminates the process. It does not return.
func (e *Env) FatalError(cap *Capability, msg string) {
	e.borrowClear(cap, "FatalError")
	Logger().Error("fatal error reported to vm", zap.String("msg", msg))
	e.table.FatalError(mutf8.Encode(msg))
	panic("jvm: FatalError returned")
}

// EnsureLocalCapacity asks the VM to guarantee room for at least capacity
// scoped references in the current frame.
func (e *Env) EnsureLocalCapacity(cap *Capability, capacity int) (*Capability, error) {
	e.consumeClear(cap, "EnsureLocalCapacity")
	if e.table.EnsureLocalCapacity(int32(capacity)) != errors.StatusOK {
		return nil, e.thrown("EnsureLocalCapacity")
	}
	return e.issueClear(), nil
}

// PushLocalFrame opens a new scoped-reference frame. Handles created in
// the frame die when it is popped.
func (e *Env) PushLocalFrame(cap *Capability, capacity int) (*Capability, error) {
	e.consumeClear(cap, "PushLocalFrame")
	if e.table.PushLocalFrame(int32(capacity)) != errors.StatusOK {
		return nil, e.thrown("PushLocalFrame")
	}
	e.frameDepth++
	return e.issueClear(), nil
}

// PopLocalFrame closes the current frame, invalidating every scoped handle
// created inside it. keep, if non-nil, is re-issued as a scoped handle in
// the enclosing frame and returned.
func (e *Env) PopLocalFrame(cap *Capability, keep *Object) (*Object, *Capability) {
	e.consumeClear(cap, "PopLocalFrame")
	if e.frameDepth == 0 {
		errors.Violate(errors.PhaseRef, "PopLocalFrame with no frame pushed")
	}
	ref := e.table.PopLocalFrame(refOf(keep))
	e.frameDepth--
	if ref.Null() {
		return nil, e.issueClear()
	}
	return &Object{e.newScoped(ref)}, e.issueClear()
}

// IsSameObject reports whether two handles refer to the same object.
// Either side may be nil, which compares against the VM's null.
func (e *Env) IsSameObject(cap *Capability, a, b Handle) bool {
	e.borrowClear(cap, "IsSameObject")
	return e.table.IsSameObject(refOf(a), refOf(b))
}

// IsNull reports whether h refers to the VM's null. For weak handles this
// doubles as the liveness re-check.
func (e *Env) IsNull(cap *Capability, h Handle) bool {
	e.borrowClear(cap, "IsNull")
	return e.table.IsSameObject(refOf(h), 0)
}

// IsInstanceOf reports whether obj is an instance of clazz.
func (e *Env) IsInstanceOf(cap *Capability, obj Handle, clazz *Class) bool {
	e.borrowClear(cap, "IsInstanceOf")
	return e.table.IsInstanceOf(refOf(obj), mustUse(clazz, "IsInstanceOf"))
}

// IsAssignableFrom reports whether sub can be assigned to sup.
func (e *Env) IsAssignableFrom(cap *Capability, sub, sup *Class) bool {
	e.borrowClear(cap, "IsAssignableFrom")
	return e.table.IsAssignableFrom(mustUse(sub, "IsAssignableFrom"), mustUse(sup, "IsAssignableFrom"))
}

// GetSuperclass returns clazz's superclass, or nil for java/lang/Object
// and interfaces.
func (e *Env) GetSuperclass(cap *Capability, clazz *Class) *Class {
	e.borrowClear(cap, "GetSuperclass")
	ref := e.table.GetSuperclass(mustUse(clazz, "GetSuperclass"))
	if ref.Null() {
		return nil
	}
	return &Class{e.newScoped(ref)}
}

// GetObjectClass returns the class of obj.
func (e *Env) GetObjectClass(cap *Capability, obj Handle) (*Class, *Capability, error) {
	e.consumeClear(cap, "GetObjectClass")
	ref := e.table.GetObjectClass(mustUse(obj, "GetObjectClass"))
	if e.table.ExceptionCheck() {
		return nil, nil, e.thrown("GetObjectClass")
	}
	return &Class{e.newScoped(ref)}, e.issueClear(), nil
}

// AdoptDurable wraps a raw durable reference created on another binding.
// Durable references are the one handle class that may cross threads; this
// is the receiving side of that handoff. The caller asserts that ref was
// produced by a Durable retain and has not been released.
func (e *Env) AdoptDurable(ref ffi.Ref) *Object {
	e.checkOwner("AdoptDurable")
	if ref.Null() {
		errors.Violate(errors.PhaseRef, "AdoptDurable of null reference")
	}
	return &Object{handle{e: e, ref: ref, class: RefDurable}}
}

func refOf(h Handle) ffi.Ref {
	if h == nil || h.raw() == nil {
		return 0
	}
	return h.raw().use("argument")
}
