package ffi

import (
	"fmt"

	"github.com/wippyai/jvm-runtime/errors"
)

// Version identifies an interface revision of the VM's function tables.
// The numeric layout (major in the high half, minor in the low half) is
// fixed by the ABI.
type Version uint32

const (
	Version1_1 Version = 0x00010001
	Version1_2 Version = 0x00010002
	Version1_4 Version = 0x00010004
	Version1_6 Version = 0x00010006
	Version1_7 Version = 0x00010007
	Version1_8 Version = 0x00010008

	MinVersion = Version1_1
	MaxVersion = Version1_8
)

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", uint32(v)>>16, uint32(v)&0xFFFF)
}

// Supported reports whether v is a revision this binding understands.
func (v Version) Supported() bool {
	return v >= MinVersion && v <= MaxVersion
}

// Ref is an opaque object handle issued by the VM. The zero value is the
// VM's null reference. A Ref carries no lifetime information by itself;
// the jvm package layers the reference-class discipline on top.
type Ref uintptr

// Null reports whether r is the VM's null reference.
func (r Ref) Null() bool { return r == 0 }

// Option is a single VM startup option.
type Option struct {
	String string
	// Extra carries ABI-defined out-of-band data for a few exotic options;
	// nearly always zero.
	Extra uintptr
}

// InitArgs are the VM construction parameters.
type InitArgs struct {
	Version Version
	Options []Option
	// IgnoreUnrecognized makes the VM skip options it does not understand
	// instead of failing construction.
	IgnoreUnrecognized bool
}

// AttachArgs are the per-thread attachment parameters. Name is a
// NUL-terminated Modified-UTF-8 buffer; Group is an optional thread group
// handle.
type AttachArgs struct {
	Version Version
	Name    []byte
	Group   Ref
}

// CreateVMFunc constructs a VM instance, attaching the calling thread.
// On success it returns the instance table and the calling thread's env
// table. Implementations are provided by a cgo binding against the real
// VM, or by the testbed package for in-process testing.
type CreateVMFunc func(args *InitArgs) (*VMTable, *EnvTable, errors.Status)

// VMTable is the shared instance interface: one table per VM, safe to
// call from any attached thread.
type VMTable struct {
	DestroyVM                   func() errors.Status
	AttachCurrentThread         func(args *AttachArgs) (*EnvTable, errors.Status)
	AttachCurrentThreadAsDaemon func(args *AttachArgs) (*EnvTable, errors.Status)
	DetachCurrentThread         func() errors.Status
	GetEnv                      func(version Version) (*EnvTable, errors.Status)
}

// EnvTable is the per-thread interface. Every function in it is only
// valid when called from the thread the table was issued to; the VM is
// not required to tolerate cross-thread use.
//
// Functions that take or return strings use NUL-terminated Modified-UTF-8
// buffers, except GetStringUTFRegion whose result is unterminated.
type EnvTable struct {
	GetVersion func() Version

	// Class operations
	DefineClass      func(name []byte, loader Ref, classData []byte) Ref
	FindClass        func(name []byte) Ref
	GetSuperclass    func(clazz Ref) Ref
	IsAssignableFrom func(sub, sup Ref) bool

	// Exception operations. Only the Exception* group is safe to call
	// while an exception is pending.
	Throw             func(obj Ref) errors.Status
	ThrowNew          func(clazz Ref, msg []byte) errors.Status
	ExceptionOccurred func() Ref
	ExceptionDescribe func()
	ExceptionClear    func()
	ExceptionCheck    func() bool
	FatalError        func(msg []byte) // does not return

	// Scoped-reference frames
	PushLocalFrame      func(capacity int32) errors.Status
	PopLocalFrame       func(result Ref) Ref
	EnsureLocalCapacity func(capacity int32) errors.Status

	// Reference management: three new/delete pairs, one per lifetime
	// class. Deleting a ref through the wrong pair is undefined behavior
	// at the ABI level.
	NewLocalRef         func(obj Ref) Ref
	DeleteLocalRef      func(obj Ref)
	NewGlobalRef        func(obj Ref) Ref
	DeleteGlobalRef     func(obj Ref)
	NewWeakGlobalRef    func(obj Ref) Ref
	DeleteWeakGlobalRef func(obj Ref)

	// Object operations
	AllocObject    func(clazz Ref) Ref
	GetObjectClass func(obj Ref) Ref
	IsSameObject   func(a, b Ref) bool
	IsInstanceOf   func(obj, clazz Ref) bool

	// String operations
	NewStringUTF          func(utf []byte) Ref
	GetStringLength       func(str Ref) int32
	GetStringUTFLength    func(str Ref) int32
	GetStringUTFChars     func(str Ref) (chars []byte, isCopy bool)
	ReleaseStringUTFChars func(str Ref, chars []byte)
	GetStringUTFRegion    func(str Ref, start, length int32) []byte

	// Array operations
	NewObjectArray        func(length int32, clazz Ref, initial Ref) Ref
	GetArrayLength        func(arr Ref) int32
	GetObjectArrayElement func(arr Ref, index int32) Ref
	SetObjectArrayElement func(arr Ref, index int32, val Ref)

	// Intrinsic per-object locks. MonitorEnter blocks until the lock is
	// obtained; there is no timeout at this level.
	MonitorEnter func(obj Ref) errors.Status
	MonitorExit  func(obj Ref) errors.Status
}
