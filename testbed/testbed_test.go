package testbed

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/wippyai/jvm-runtime/errors"
	"github.com/wippyai/jvm-runtime/ffi"
	"github.com/wippyai/jvm-runtime/mutf8"
)

func newVM(t *testing.T) (*VM, *ffi.VMTable, *ffi.EnvTable) {
	t.Helper()
	vm := New()
	vm.SetDiagnostics(io.Discard)
	vmt, envt, status := vm.Create(&ffi.InitArgs{Version: ffi.Version1_6})
	if status != errors.StatusOK {
		t.Fatalf("create vm: %v", status)
	}
	return vm, vmt, envt
}

func findClass(t *testing.T, envt *ffi.EnvTable, name string) ffi.Ref {
	t.Helper()
	ref := envt.FindClass(mutf8.Encode(name))
	if ref.Null() {
		t.Fatalf("FindClass(%q) returned null", name)
	}
	return ref
}

func TestCreateVersionCheck(t *testing.T) {
	vm := New()
	if _, _, status := vm.Create(&ffi.InitArgs{Version: ffi.Version(0x00090000)}); status != errors.StatusBadVersion {
		t.Fatalf("bad version: got %v, want %v", status, errors.StatusBadVersion)
	}
	if _, _, status := vm.Create(&ffi.InitArgs{Version: ffi.Version1_6}); status != errors.StatusOK {
		t.Fatalf("good version after rejection: %v", status)
	}
}

func TestCreateUnrecognizedOption(t *testing.T) {
	vm := New()
	args := &ffi.InitArgs{
		Version: ffi.Version1_6,
		Options: []ffi.Option{{String: "-XX:+NotAThing"}},
	}
	if _, _, status := vm.Create(args); status != errors.StatusInvalidArgs {
		t.Fatalf("unrecognized option: got %v, want %v", status, errors.StatusInvalidArgs)
	}

	args.IgnoreUnrecognized = true
	if _, _, status := vm.Create(args); status != errors.StatusOK {
		t.Fatalf("ignored option: %v", status)
	}
}

func TestCreateOnce(t *testing.T) {
	vm, vmt, _ := newVM(t)
	if _, _, status := vm.Create(&ffi.InitArgs{Version: ffi.Version1_6}); status != errors.StatusExists {
		t.Fatalf("second create: got %v, want %v", status, errors.StatusExists)
	}
	if status := vmt.DestroyVM(); status != errors.StatusOK {
		t.Fatalf("destroy: %v", status)
	}
	// Re-creation after destruction stays unsupported, as in the real thing.
	if _, _, status := vm.Create(&ffi.InitArgs{Version: ffi.Version1_6}); status != errors.StatusExists {
		t.Fatalf("create after destroy: got %v, want %v", status, errors.StatusExists)
	}
}

func TestGetVersionReflectsCreation(t *testing.T) {
	vm := New()
	_, envt, status := vm.Create(&ffi.InitArgs{Version: ffi.Version1_8})
	if status != errors.StatusOK {
		t.Fatalf("create vm: %v", status)
	}
	if got := envt.GetVersion(); got != ffi.Version1_8 {
		t.Fatalf("GetVersion: got %v, want %v", got, ffi.Version1_8)
	}
}

func TestFindClassUnknownSetsPending(t *testing.T) {
	_, _, envt := newVM(t)

	ref := envt.FindClass(mutf8.Encode("com/example/Missing"))
	if !ref.Null() {
		t.Fatalf("unknown class resolved to %d", ref)
	}
	if !envt.ExceptionCheck() {
		t.Fatal("no exception pending after failed lookup")
	}

	exc := envt.ExceptionOccurred()
	if exc.Null() {
		t.Fatal("ExceptionOccurred returned null with an exception pending")
	}
	ncdfe := findClassAfterClear(t, envt, "java/lang/NoClassDefFoundError")
	if !envt.IsInstanceOf(exc, ncdfe) {
		t.Fatal("pending exception is not a NoClassDefFoundError")
	}
}

// findClassAfterClear stashes and restores the pending exception so class
// lookups inside exception-path tests do not disturb the state under test.
func findClassAfterClear(t *testing.T, envt *ffi.EnvTable, name string) ffi.Ref {
	t.Helper()
	pending := envt.ExceptionOccurred()
	envt.ExceptionClear()
	ref := findClass(t, envt, name)
	if !pending.Null() {
		if status := envt.Throw(pending); status != errors.StatusOK {
			t.Fatalf("re-throw: %v", status)
		}
	}
	return ref
}

func TestExceptionDescribeOutput(t *testing.T) {
	vm, _, envt := newVM(t)
	var buf bytes.Buffer
	vm.SetDiagnostics(&buf)

	cls := findClass(t, envt, "java/lang/RuntimeException")
	if status := envt.ThrowNew(cls, mutf8.Encode("boom")); status != errors.StatusOK {
		t.Fatalf("ThrowNew: %v", status)
	}
	envt.ExceptionDescribe()
	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("java/lang/RuntimeException")) ||
		!bytes.Contains([]byte(out), []byte("boom")) {
		t.Fatalf("describe output missing class or message: %q", out)
	}
	if !envt.ExceptionCheck() {
		t.Fatal("describe cleared the pending exception")
	}
	envt.ExceptionClear()
	if envt.ExceptionCheck() {
		t.Fatal("exception still pending after clear")
	}
}

func TestLocalFramesDropRefs(t *testing.T) {
	vm, _, envt := newVM(t)

	base := vm.LiveRefs()
	if status := envt.PushLocalFrame(16); status != errors.StatusOK {
		t.Fatalf("PushLocalFrame: %v", status)
	}
	inner := findClass(t, envt, "java/lang/String")
	obj := envt.AllocObject(inner)
	if obj.Null() {
		t.Fatal("AllocObject returned null")
	}

	kept := envt.PopLocalFrame(obj)
	if kept.Null() {
		t.Fatal("PopLocalFrame dropped the kept reference")
	}
	if got, want := vm.LiveRefs(), base+1; got != want {
		t.Fatalf("refs after pop: got %d, want %d", got, want)
	}
	if envt.IsSameObject(kept, inner) {
		t.Fatal("kept reference aliases the dropped class reference")
	}
}

func TestDeleteRefKindChecked(t *testing.T) {
	_, _, envt := newVM(t)
	cls := findClass(t, envt, "java/lang/Object")
	global := envt.NewGlobalRef(cls)

	defer func() {
		if recover() == nil {
			t.Fatal("DeleteLocalRef of a global reference did not panic")
		}
	}()
	envt.DeleteLocalRef(global)
}

func TestStringAccessors(t *testing.T) {
	_, _, envt := newVM(t)
	const text = "Hello, world!"

	str := envt.NewStringUTF(mutf8.Encode(text))
	if str.Null() {
		t.Fatal("NewStringUTF returned null")
	}
	if got := envt.GetStringLength(str); got != 13 {
		t.Fatalf("GetStringLength: got %d, want 13", got)
	}
	if got := envt.GetStringUTFLength(str); got != 13 {
		t.Fatalf("GetStringUTFLength: got %d, want 13", got)
	}

	chars, isCopy := envt.GetStringUTFChars(str)
	if !isCopy {
		t.Fatal("testbed strings are always copied out")
	}
	got, err := mutf8.Decode(chars)
	envt.ReleaseStringUTFChars(str, chars)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != text {
		t.Fatalf("round trip: got %q, want %q", got, text)
	}

	region := envt.GetStringUTFRegion(str, 7, 5)
	sub, err := mutf8.DecodeAll(region)
	if err != nil {
		t.Fatalf("decode region: %v", err)
	}
	if sub != "world" {
		t.Fatalf("region: got %q, want %q", sub, "world")
	}
}

func TestStringRegionBounds(t *testing.T) {
	_, _, envt := newVM(t)
	str := envt.NewStringUTF(mutf8.Encode("abc"))

	if raw := envt.GetStringUTFRegion(str, 1, 5); raw != nil {
		t.Fatalf("out-of-range region returned %d bytes", len(raw))
	}
	if !envt.ExceptionCheck() {
		t.Fatal("no exception pending after out-of-range region")
	}
	envt.ExceptionClear()
}

func TestSupplementaryStringLengths(t *testing.T) {
	_, _, envt := newVM(t)
	// One supplementary scalar: two UTF-16 units, six Modified-UTF-8 bytes.
	str := envt.NewStringUTF(mutf8.Encode("\U00010400"))
	if got := envt.GetStringLength(str); got != 2 {
		t.Fatalf("GetStringLength: got %d, want 2", got)
	}
	if got := envt.GetStringUTFLength(str); got != 6 {
		t.Fatalf("GetStringUTFLength: got %d, want 6", got)
	}
}

func TestObjectArray(t *testing.T) {
	_, _, envt := newVM(t)
	cls := findClass(t, envt, "java/lang/String")
	fill := envt.NewStringUTF(mutf8.Encode("x"))

	arr := envt.NewObjectArray(3, cls, fill)
	if arr.Null() {
		t.Fatal("NewObjectArray returned null")
	}
	if got := envt.GetArrayLength(arr); got != 3 {
		t.Fatalf("GetArrayLength: got %d, want 3", got)
	}

	envt.SetObjectArrayElement(arr, 1, 0)
	if el := envt.GetObjectArrayElement(arr, 1); !el.Null() {
		t.Fatal("cleared element still non-null")
	}
	el := envt.GetObjectArrayElement(arr, 0)
	if !envt.IsSameObject(el, fill) {
		t.Fatal("element 0 is not the fill object")
	}

	if el := envt.GetObjectArrayElement(arr, 3); !el.Null() {
		t.Fatalf("out-of-range element: %d", el)
	}
	if !envt.ExceptionCheck() {
		t.Fatal("no exception pending after out-of-range access")
	}
	envt.ExceptionClear()
}

func TestNegativeArraySize(t *testing.T) {
	_, _, envt := newVM(t)
	cls := findClass(t, envt, "java/lang/Object")
	if arr := envt.NewObjectArray(-1, cls, 0); !arr.Null() {
		t.Fatal("negative-length array allocated")
	}
	if !envt.ExceptionCheck() {
		t.Fatal("no exception pending after negative length")
	}
	envt.ExceptionClear()
}

func TestClassHierarchy(t *testing.T) {
	_, _, envt := newVM(t)
	object := findClass(t, envt, "java/lang/Object")
	throwable := findClass(t, envt, "java/lang/Throwable")
	rte := findClass(t, envt, "java/lang/RuntimeException")

	if !envt.IsAssignableFrom(rte, throwable) {
		t.Fatal("RuntimeException not assignable to Throwable")
	}
	if envt.IsAssignableFrom(throwable, rte) {
		t.Fatal("Throwable assignable to RuntimeException")
	}
	if super := envt.GetSuperclass(object); !super.Null() {
		t.Fatal("java/lang/Object has a superclass")
	}
	super := envt.GetSuperclass(throwable)
	if super.Null() || !envt.IsSameObject(super, object) {
		t.Fatal("Throwable's superclass is not Object")
	}
}

func TestDefineClass(t *testing.T) {
	_, _, envt := newVM(t)
	object := findClass(t, envt, "java/lang/Object")

	cls := envt.DefineClass(mutf8.Encode("com/example/Defined"), 0, []byte{0xCA, 0xFE})
	if cls.Null() {
		t.Fatal("DefineClass returned null")
	}
	if found := findClass(t, envt, "com/example/Defined"); !envt.IsSameObject(found, cls) {
		t.Fatal("defined class not findable")
	}
	if !envt.IsAssignableFrom(cls, object) {
		t.Fatal("defined class not assignable to Object")
	}

	if dup := envt.DefineClass(mutf8.Encode("com/example/Defined"), 0, []byte{0xCA}); !dup.Null() {
		t.Fatal("duplicate definition succeeded")
	}
	if !envt.ExceptionCheck() {
		t.Fatal("no exception pending after duplicate definition")
	}
	envt.ExceptionClear()
}

func TestWeakRefCollection(t *testing.T) {
	vm, _, envt := newVM(t)
	cls := findClass(t, envt, "java/lang/Object")
	obj := envt.AllocObject(cls)
	weak := envt.NewWeakGlobalRef(obj)

	vm.CollectAll()
	if envt.IsSameObject(weak, 0) {
		t.Fatal("weak ref expired while a local ref was live")
	}

	envt.DeleteLocalRef(obj)
	vm.CollectAll()
	if !envt.IsSameObject(weak, 0) {
		t.Fatal("weak ref still live after its last strong ref was dropped")
	}
	if r := envt.NewLocalRef(weak); !r.Null() {
		t.Fatal("NewLocalRef resurrected a collected referent")
	}
	envt.DeleteWeakGlobalRef(weak)
}

func TestAttachDetach(t *testing.T) {
	_, vmt, _ := newVM(t)

	done := make(chan error, 1)
	go func() {
		done <- func() error {
			if _, status := vmt.GetEnv(ffi.Version1_6); status != errors.StatusDetached {
				return errors.New(errors.PhaseAttach, errors.KindStatus).
					Status(status).Detail("GetEnv before attach").Build()
			}
			envt, status := vmt.AttachCurrentThread(&ffi.AttachArgs{Version: ffi.Version1_6})
			if status != errors.StatusOK {
				return errors.New(errors.PhaseAttach, errors.KindStatus).
					Status(status).Detail("attach").Build()
			}
			again, status := vmt.AttachCurrentThread(&ffi.AttachArgs{Version: ffi.Version1_6})
			if status != errors.StatusOK || again != envt {
				return errors.New(errors.PhaseAttach, errors.KindInvalidInput).
					Detail("re-attach did not reuse the binding").Build()
			}
			if status := vmt.DetachCurrentThread(); status != errors.StatusOK {
				return errors.New(errors.PhaseDetach, errors.KindStatus).
					Status(status).Detail("detach").Build()
			}
			if status := vmt.DetachCurrentThread(); status != errors.StatusDetached {
				return errors.New(errors.PhaseDetach, errors.KindStatus).
					Status(status).Detail("double detach").Build()
			}
			return nil
		}()
	}()
	if err := <-done; err != nil {
		t.Fatalf("worker: %v", err)
	}
}

func TestDetachDropsLocals(t *testing.T) {
	vm, vmt, _ := newVM(t)
	base := vm.LiveRefs()

	done := make(chan struct{})
	go func() {
		defer close(done)
		envt, _ := vmt.AttachCurrentThread(&ffi.AttachArgs{Version: ffi.Version1_6})
		envt.FindClass(mutf8.Encode("java/lang/String"))
		envt.FindClass(mutf8.Encode("java/lang/Object"))
		vmt.DetachCurrentThread()
	}()
	<-done
	if got := vm.LiveRefs(); got != base {
		t.Fatalf("refs leaked across detach: got %d, want %d", got, base)
	}
}

func TestMonitorRecursive(t *testing.T) {
	_, _, envt := newVM(t)
	cls := findClass(t, envt, "java/lang/Object")
	obj := envt.AllocObject(cls)

	if status := envt.MonitorEnter(obj); status != errors.StatusOK {
		t.Fatalf("first enter: %v", status)
	}
	if status := envt.MonitorEnter(obj); status != errors.StatusOK {
		t.Fatalf("recursive enter: %v", status)
	}
	if status := envt.MonitorExit(obj); status != errors.StatusOK {
		t.Fatalf("first exit: %v", status)
	}
	if status := envt.MonitorExit(obj); status != errors.StatusOK {
		t.Fatalf("second exit: %v", status)
	}
	if status := envt.MonitorExit(obj); status == errors.StatusOK {
		t.Fatal("exit of an unowned monitor succeeded")
	}
}

func TestMonitorBlocksOtherThread(t *testing.T) {
	_, vmt, envt := newVM(t)
	cls := findClass(t, envt, "java/lang/Object")
	obj := envt.AllocObject(cls)
	global := envt.NewGlobalRef(obj)

	if status := envt.MonitorEnter(obj); status != errors.StatusOK {
		t.Fatalf("enter: %v", status)
	}

	acquired := make(chan struct{})
	go func() {
		wenvt, _ := vmt.AttachCurrentThread(&ffi.AttachArgs{Version: ffi.Version1_6})
		wenvt.MonitorEnter(global)
		close(acquired)
		wenvt.MonitorExit(global)
		vmt.DetachCurrentThread()
	}()

	select {
	case <-acquired:
		t.Fatal("second thread acquired a held monitor")
	case <-time.After(20 * time.Millisecond):
	}

	if status := envt.MonitorExit(obj); status != errors.StatusOK {
		t.Fatalf("exit: %v", status)
	}
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second thread never acquired the released monitor")
	}
}
