package testbed

import (
	"fmt"
	"io"
	"os"
	"sync"
	"unicode/utf16"

	"github.com/petermattis/goid"

	"github.com/wippyai/jvm-runtime/errors"
	"github.com/wippyai/jvm-runtime/ffi"
	"github.com/wippyai/jvm-runtime/mutf8"
)

type refKind uint8

const (
	refLocal refKind = iota
	refGlobal
	refWeak
)

func (k refKind) String() string {
	switch k {
	case refLocal:
		return "local"
	case refGlobal:
		return "global"
	default:
		return "weak"
	}
}

// object is a VM heap object. Classes, strings, arrays, and plain
// instances share the struct; the unused fields stay zero.
type object struct {
	class     *object
	super     *object // classes only
	name      string  // classes only
	str       string  // strings only
	elems     []*object
	isClass   bool
	isArray   bool
	collected bool
	mon       monitor
}

type refEntry struct {
	target *object
	kind   refKind
	thread int64 // locals only
	frame  int   // locals only
}

type threadState struct {
	gid     int64
	daemon  bool
	frame   int
	pending *object
	table   *ffi.EnvTable
}

// VM is an in-memory implementation of the ffi tables with JNI-shaped
// semantics: per-thread local-reference frames, global and weak reference
// tables, a pending-exception slot per attached thread, Modified-UTF-8
// string accessors, and recursive per-object monitors.
//
// It exists so the binding layer and its callers can be exercised without
// a real VM in the process.
type VM struct {
	mu        sync.Mutex
	version   ffi.Version
	classes   map[string]*object
	refs      map[ffi.Ref]*refEntry
	threads   map[int64]*threadState
	nextRef   ffi.Ref
	created   bool
	destroyed bool
	diag      io.Writer
}

// New returns an empty VM with the core class hierarchy pre-seeded.
func New() *VM {
	vm := &VM{
		classes: make(map[string]*object),
		refs:    make(map[ffi.Ref]*refEntry),
		threads: make(map[int64]*threadState),
		nextRef: 1,
		diag:    os.Stderr,
	}
	vm.seedClasses()
	return vm
}

// SetDiagnostics redirects the VM's diagnostic output (exception
// describes, fatal errors). Defaults to stderr.
func (vm *VM) SetDiagnostics(w io.Writer) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.diag = w
}

// LiveRefs returns the number of references currently registered, across
// all classes and threads. Useful for leak assertions.
func (vm *VM) LiveRefs() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.refs)
}

// CollectAll simulates a garbage-collection pass: every weakly-referenced
// object with no local or global reference left is collected, after which
// weak references to it behave as null.
func (vm *VM) CollectAll() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	strong := make(map[*object]bool)
	for _, e := range vm.refs {
		if e.kind != refWeak {
			strong[e.target] = true
		}
	}
	for _, e := range vm.refs {
		if e.kind == refWeak && !strong[e.target] && !e.target.isClass {
			e.target.collected = true
		}
	}
}

func (vm *VM) seedClasses() {
	classClass := &object{name: "java/lang/Class", isClass: true}
	classClass.class = classClass
	vm.classes[classClass.name] = classClass

	def := func(name string, super *object) *object {
		c := &object{class: classClass, name: name, super: super, isClass: true}
		vm.classes[name] = c
		return c
	}

	obj := def("java/lang/Object", nil)
	classClass.super = obj
	def("java/lang/String", obj)
	throwable := def("java/lang/Throwable", obj)
	exc := def("java/lang/Exception", throwable)
	rte := def("java/lang/RuntimeException", exc)
	err := def("java/lang/Error", throwable)
	def("java/lang/OutOfMemoryError", err)
	linkage := def("java/lang/LinkageError", err)
	def("java/lang/NoClassDefFoundError", linkage)
	def("java/lang/ClassFormatError", linkage)
	def("java/lang/InternalError", err)
	idx := def("java/lang/IndexOutOfBoundsException", rte)
	def("java/lang/ArrayIndexOutOfBoundsException", idx)
	def("java/lang/StringIndexOutOfBoundsException", idx)
	def("java/lang/NegativeArraySizeException", rte)
	def("java/lang/InstantiationException", exc)
}

// Create implements ffi.CreateVMFunc. Like the real thing, a VM can only
// be created once per process: re-creation after destruction is not
// supported and reports StatusExists.
func (vm *VM) Create(args *ffi.InitArgs) (*ffi.VMTable, *ffi.EnvTable, errors.Status) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if args == nil {
		return nil, nil, errors.StatusInvalidArgs
	}
	if vm.created || vm.destroyed {
		return nil, nil, errors.StatusExists
	}
	if !args.Version.Supported() {
		return nil, nil, errors.StatusBadVersion
	}
	for _, opt := range args.Options {
		if !knownOption(opt.String) && !args.IgnoreUnrecognized {
			return nil, nil, errors.StatusInvalidArgs
		}
	}

	vm.created = true
	vm.version = args.Version
	ts := vm.attachLocked(goid.Get(), false)
	return vm.vmTable(), ts.table, errors.StatusOK
}

func knownOption(s string) bool {
	switch {
	case s == "-Xcheck:jni":
		return true
	case len(s) >= 2 && s[:2] == "-D":
		return true
	case len(s) >= 9 && s[:9] == "-verbose:":
		return true
	default:
		return false
	}
}

func (vm *VM) attachLocked(gid int64, daemon bool) *threadState {
	ts := &threadState{gid: gid, daemon: daemon}
	ts.table = vm.envTable(ts)
	vm.threads[gid] = ts
	return ts
}

func (vm *VM) vmTable() *ffi.VMTable {
	return &ffi.VMTable{
		DestroyVM: func() errors.Status {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			vm.destroyed = true
			vm.threads = make(map[int64]*threadState)
			vm.refs = make(map[ffi.Ref]*refEntry)
			return errors.StatusOK
		},
		AttachCurrentThread: func(args *ffi.AttachArgs) (*ffi.EnvTable, errors.Status) {
			return vm.attachCurrent(false)
		},
		AttachCurrentThreadAsDaemon: func(args *ffi.AttachArgs) (*ffi.EnvTable, errors.Status) {
			return vm.attachCurrent(true)
		},
		DetachCurrentThread: func() errors.Status {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			gid := goid.Get()
			ts, ok := vm.threads[gid]
			if !ok {
				return errors.StatusDetached
			}
			vm.dropLocalsLocked(ts, 0)
			delete(vm.threads, gid)
			return errors.StatusOK
		},
		GetEnv: func(version ffi.Version) (*ffi.EnvTable, errors.Status) {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			if !version.Supported() {
				return nil, errors.StatusBadVersion
			}
			ts, ok := vm.threads[goid.Get()]
			if !ok {
				return nil, errors.StatusDetached
			}
			return ts.table, errors.StatusOK
		},
	}
}

func (vm *VM) attachCurrent(daemon bool) (*ffi.EnvTable, errors.Status) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.destroyed {
		return nil, errors.StatusUnknown
	}
	gid := goid.Get()
	if ts, ok := vm.threads[gid]; ok {
		return ts.table, errors.StatusOK
	}
	return vm.attachLocked(gid, daemon).table, errors.StatusOK
}

// dropLocalsLocked deletes ts's local refs at frame depth keepBelow and
// above. Detach passes 0 to drop everything; frame pop passes the frame
// being closed.
func (vm *VM) dropLocalsLocked(ts *threadState, keepBelow int) {
	for r, e := range vm.refs {
		if e.kind == refLocal && e.thread == ts.gid && e.frame >= keepBelow {
			delete(vm.refs, r)
		}
	}
}

func (vm *VM) targetLocked(r ffi.Ref) *object {
	if r == 0 {
		return nil
	}
	e, ok := vm.refs[r]
	if !ok {
		return nil
	}
	if e.kind == refWeak && e.target.collected {
		return nil
	}
	return e.target
}

func (vm *VM) newRefLocked(o *object, kind refKind, ts *threadState) ffi.Ref {
	if o == nil {
		return 0
	}
	r := vm.nextRef
	vm.nextRef++
	e := &refEntry{target: o, kind: kind}
	if kind == refLocal {
		e.thread = ts.gid
		e.frame = ts.frame
	}
	vm.refs[r] = e
	return r
}

func (vm *VM) deleteRefLocked(r ffi.Ref, want refKind, op string) {
	e, ok := vm.refs[r]
	if !ok {
		panic(fmt.Sprintf("testbed: %s of unknown reference %d", op, r))
	}
	if e.kind != want {
		panic(fmt.Sprintf("testbed: %s of %s reference", op, e.kind))
	}
	delete(vm.refs, r)
}

func (vm *VM) throwLocked(ts *threadState, className, msg string) {
	cls, ok := vm.classes[className]
	if !ok {
		cls = vm.classes["java/lang/RuntimeException"]
	}
	ts.pending = &object{class: cls, str: msg}
}

func (vm *VM) arrayClassLocked(elem *object) *object {
	name := "[L" + elem.name + ";"
	if c, ok := vm.classes[name]; ok {
		return c
	}
	c := &object{
		class:   vm.classes["java/lang/Class"],
		name:    name,
		super:   vm.classes["java/lang/Object"],
		isClass: true,
	}
	vm.classes[name] = c
	return c
}

func isAssignable(sub, sup *object) bool {
	for c := sub; c != nil; c = c.super {
		if c == sup {
			return true
		}
	}
	return false
}

func (vm *VM) envTable(ts *threadState) *ffi.EnvTable {
	return &ffi.EnvTable{
		GetVersion: func() ffi.Version {
			return vm.version
		},

		DefineClass: func(name []byte, loader ffi.Ref, classData []byte) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			n, err := mutf8.Decode(name)
			if err != nil {
				vm.throwLocked(ts, "java/lang/InternalError", "malformed class name")
				return 0
			}
			if len(classData) == 0 {
				vm.throwLocked(ts, "java/lang/ClassFormatError", n)
				return 0
			}
			if _, ok := vm.classes[n]; ok {
				vm.throwLocked(ts, "java/lang/LinkageError", "duplicate class definition: "+n)
				return 0
			}
			c := &object{
				class:   vm.classes["java/lang/Class"],
				name:    n,
				super:   vm.classes["java/lang/Object"],
				isClass: true,
			}
			vm.classes[n] = c
			return vm.newRefLocked(c, refLocal, ts)
		},

		FindClass: func(name []byte) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			n, err := mutf8.Decode(name)
			if err != nil {
				vm.throwLocked(ts, "java/lang/InternalError", "malformed class name")
				return 0
			}
			cls, ok := vm.classes[n]
			if !ok {
				vm.throwLocked(ts, "java/lang/NoClassDefFoundError", n)
				return 0
			}
			return vm.newRefLocked(cls, refLocal, ts)
		},

		GetSuperclass: func(clazz ffi.Ref) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			c := vm.targetLocked(clazz)
			if c == nil || !c.isClass || c.super == nil {
				return 0
			}
			return vm.newRefLocked(c.super, refLocal, ts)
		},

		IsAssignableFrom: func(sub, sup ffi.Ref) bool {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			a, b := vm.targetLocked(sub), vm.targetLocked(sup)
			return a != nil && b != nil && isAssignable(a, b)
		},

		Throw: func(obj ffi.Ref) errors.Status {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(obj)
			if o == nil || !isAssignable(o.class, vm.classes["java/lang/Throwable"]) {
				return errors.StatusInvalidArgs
			}
			ts.pending = o
			return errors.StatusOK
		},

		ThrowNew: func(clazz ffi.Ref, msg []byte) errors.Status {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			c := vm.targetLocked(clazz)
			if c == nil || !c.isClass {
				return errors.StatusInvalidArgs
			}
			m, err := mutf8.Decode(msg)
			if err != nil {
				return errors.StatusInvalidArgs
			}
			ts.pending = &object{class: c, str: m}
			return errors.StatusOK
		},

		ExceptionOccurred: func() ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			if ts.pending == nil {
				return 0
			}
			return vm.newRefLocked(ts.pending, refLocal, ts)
		},

		ExceptionDescribe: func() {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			if ts.pending == nil {
				return
			}
			fmt.Fprintf(vm.diag, "Exception in thread %d: %s: %s\n",
				ts.gid, ts.pending.class.name, ts.pending.str)
		},

		ExceptionClear: func() {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			ts.pending = nil
		},

		ExceptionCheck: func() bool {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			return ts.pending != nil
		},

		FatalError: func(msg []byte) {
			m, _ := mutf8.Decode(msg)
			vm.mu.Lock()
			fmt.Fprintf(vm.diag, "FATAL ERROR in native method: %s\n", m)
			vm.mu.Unlock()
			panic("testbed: fatal error: " + m)
		},

		PushLocalFrame: func(capacity int32) errors.Status {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			if capacity < 0 {
				return errors.StatusInvalidArgs
			}
			ts.frame++
			return errors.StatusOK
		},

		PopLocalFrame: func(result ffi.Ref) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			keep := vm.targetLocked(result)
			if ts.frame > 0 {
				vm.dropLocalsLocked(ts, ts.frame)
				ts.frame--
			}
			return vm.newRefLocked(keep, refLocal, ts)
		},

		EnsureLocalCapacity: func(capacity int32) errors.Status {
			if capacity < 0 {
				return errors.StatusInvalidArgs
			}
			return errors.StatusOK
		},

		NewLocalRef: func(obj ffi.Ref) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			return vm.newRefLocked(vm.targetLocked(obj), refLocal, ts)
		},
		DeleteLocalRef: func(obj ffi.Ref) {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			vm.deleteRefLocked(obj, refLocal, "DeleteLocalRef")
		},
		NewGlobalRef: func(obj ffi.Ref) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			return vm.newRefLocked(vm.targetLocked(obj), refGlobal, ts)
		},
		DeleteGlobalRef: func(obj ffi.Ref) {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			vm.deleteRefLocked(obj, refGlobal, "DeleteGlobalRef")
		},
		NewWeakGlobalRef: func(obj ffi.Ref) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			return vm.newRefLocked(vm.targetLocked(obj), refWeak, ts)
		},
		DeleteWeakGlobalRef: func(obj ffi.Ref) {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			vm.deleteRefLocked(obj, refWeak, "DeleteWeakGlobalRef")
		},

		AllocObject: func(clazz ffi.Ref) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			c := vm.targetLocked(clazz)
			if c == nil || !c.isClass {
				vm.throwLocked(ts, "java/lang/InstantiationException", "not a class")
				return 0
			}
			return vm.newRefLocked(&object{class: c}, refLocal, ts)
		},

		GetObjectClass: func(obj ffi.Ref) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(obj)
			if o == nil {
				return 0
			}
			return vm.newRefLocked(o.class, refLocal, ts)
		},

		IsSameObject: func(a, b ffi.Ref) bool {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			return vm.targetLocked(a) == vm.targetLocked(b)
		},

		IsInstanceOf: func(obj, clazz ffi.Ref) bool {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			c := vm.targetLocked(clazz)
			if c == nil || !c.isClass {
				return false
			}
			o := vm.targetLocked(obj)
			if o == nil {
				return true // null is an instance of every class
			}
			return isAssignable(o.class, c)
		},

		NewStringUTF: func(utf []byte) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			s, err := mutf8.Decode(utf)
			if err != nil {
				vm.throwLocked(ts, "java/lang/InternalError", "malformed Modified-UTF-8")
				return 0
			}
			o := &object{class: vm.classes["java/lang/String"], str: s}
			return vm.newRefLocked(o, refLocal, ts)
		},

		GetStringLength: func(str ffi.Ref) int32 {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(str)
			if o == nil {
				return 0
			}
			return int32(mutf8.UTF16Len(o.str))
		},

		GetStringUTFLength: func(str ffi.Ref) int32 {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(str)
			if o == nil {
				return 0
			}
			return int32(mutf8.EncodedLen(o.str) - 1)
		},

		GetStringUTFChars: func(str ffi.Ref) ([]byte, bool) {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(str)
			if o == nil {
				return nil, false
			}
			return mutf8.Encode(o.str), true
		},

		ReleaseStringUTFChars: func(str ffi.Ref, chars []byte) {
			// The chars were a copy; nothing to release.
		},

		GetStringUTFRegion: func(str ffi.Ref, start, length int32) []byte {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(str)
			if o == nil {
				return nil
			}
			units := utf16.Encode([]rune(o.str))
			if start < 0 || length < 0 || int(start)+int(length) > len(units) {
				vm.throwLocked(ts, "java/lang/StringIndexOutOfBoundsException",
					fmt.Sprintf("start %d, length %d, string length %d", start, length, len(units)))
				return nil
			}
			sub := string(utf16.Decode(units[start : start+length]))
			enc := mutf8.Encode(sub)
			return enc[:len(enc)-1]
		},

		NewObjectArray: func(length int32, clazz ffi.Ref, initial ffi.Ref) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			c := vm.targetLocked(clazz)
			if c == nil || !c.isClass {
				vm.throwLocked(ts, "java/lang/InstantiationException", "not a class")
				return 0
			}
			if length < 0 {
				vm.throwLocked(ts, "java/lang/NegativeArraySizeException", fmt.Sprintf("%d", length))
				return 0
			}
			init := vm.targetLocked(initial)
			elems := make([]*object, length)
			for i := range elems {
				elems[i] = init
			}
			o := &object{class: vm.arrayClassLocked(c), elems: elems, isArray: true}
			return vm.newRefLocked(o, refLocal, ts)
		},

		GetArrayLength: func(arr ffi.Ref) int32 {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(arr)
			if o == nil || !o.isArray {
				return 0
			}
			return int32(len(o.elems))
		},

		GetObjectArrayElement: func(arr ffi.Ref, index int32) ffi.Ref {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(arr)
			if o == nil || !o.isArray {
				return 0
			}
			if index < 0 || int(index) >= len(o.elems) {
				vm.throwLocked(ts, "java/lang/ArrayIndexOutOfBoundsException",
					fmt.Sprintf("index %d, length %d", index, len(o.elems)))
				return 0
			}
			return vm.newRefLocked(o.elems[index], refLocal, ts)
		},

		SetObjectArrayElement: func(arr ffi.Ref, index int32, val ffi.Ref) {
			vm.mu.Lock()
			defer vm.mu.Unlock()
			o := vm.targetLocked(arr)
			if o == nil || !o.isArray {
				return
			}
			if index < 0 || int(index) >= len(o.elems) {
				vm.throwLocked(ts, "java/lang/ArrayIndexOutOfBoundsException",
					fmt.Sprintf("index %d, length %d", index, len(o.elems)))
				return
			}
			o.elems[index] = vm.targetLocked(val)
		},

		MonitorEnter: func(obj ffi.Ref) errors.Status {
			vm.mu.Lock()
			o := vm.targetLocked(obj)
			vm.mu.Unlock()
			if o == nil {
				return errors.StatusInvalidArgs
			}
			o.mon.enter(ts.gid)
			return errors.StatusOK
		},

		MonitorExit: func(obj ffi.Ref) errors.Status {
			vm.mu.Lock()
			o := vm.targetLocked(obj)
			vm.mu.Unlock()
			if o == nil {
				return errors.StatusInvalidArgs
			}
			return o.mon.exit(ts.gid)
		},
	}
}

// monitor is a recursive per-object lock keyed by goroutine id.
type monitor struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64
	count int
}

func (m *monitor) enter(gid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cond == nil {
		m.cond = sync.NewCond(&m.mu)
	}
	for m.owner != 0 && m.owner != gid {
		m.cond.Wait()
	}
	m.owner = gid
	m.count++
}

func (m *monitor) exit(gid int64) errors.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != gid {
		return errors.StatusUnknown
	}
	m.count--
	if m.count == 0 {
		m.owner = 0
		if m.cond != nil {
			m.cond.Signal()
		}
	}
	return errors.StatusOK
}
