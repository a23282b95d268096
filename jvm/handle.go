package jvm

import (
	"github.com/wippyai/jvm-runtime/errors"
	"github.com/wippyai/jvm-runtime/ffi"
)

// RefClass is a handle's lifetime class, fixed at creation.
type RefClass uint8

const (
	// RefScoped references live in the current scoped-reference frame and
	// die at frame teardown unless released earlier. They must not cross
	// threads.
	RefScoped RefClass = iota
	// RefDurable references live until explicitly released, survive frame
	// teardown, and may be shared across threads via Env.AdoptDurable.
	RefDurable
	// RefWeak references live until explicitly released but do not keep
	// their referent alive; every use must re-check liveness first.
	RefWeak
)

func (c RefClass) String() string {
	switch c {
	case RefScoped:
		return "scoped"
	case RefDurable:
		return "durable"
	case RefWeak:
		return "weak"
	default:
		return "invalid"
	}
}

// Handle is implemented by every typed handle in this package.
type Handle interface {
	Ref() ffi.Ref
	RefClass() RefClass
	raw() *handle
}

// handle is the shared core of the typed handles: the owning binding, the
// raw reference, and the immutable reference class.
type handle struct {
	e        *Env
	ref      ffi.Ref
	class    RefClass
	frame    int // scoped only: frame the handle was created in
	released bool
}

// Ref exposes the raw reference, e.g. for handing a durable reference to
// another binding.
func (h *handle) Ref() ffi.Ref { return h.ref }

// RefClass returns the handle's lifetime class.
func (h *handle) RefClass() RefClass { return h.class }

// use validates the handle before a foreign call: not released, binding
// open and on its owning goroutine, and (for scoped handles) the creating
// frame still live.
func (h *handle) use(op string) ffi.Ref {
	h.e.checkOwner(op)
	if h.released {
		errors.Violate(errors.PhaseRef, "%s on released %s reference", op, h.class)
	}
	if h.class == RefScoped && h.frame > h.e.frameDepth {
		errors.Violate(errors.PhaseRef, "%s on scoped reference whose frame was popped", op)
	}
	return h.ref
}

func (h *handle) requireClass(want RefClass, op string) {
	if h.class != want {
		errors.Violate(errors.PhaseRef, "%s on %s reference", op, h.class)
	}
}

// Release frees the handle through the delete operation matching its
// reference class. Releasing twice is a contract violation.
func (h *handle) Release() {
	ref := h.use("Release")
	switch h.class {
	case RefScoped:
		h.e.table.DeleteLocalRef(ref)
	case RefDurable:
		h.e.table.DeleteGlobalRef(ref)
	case RefWeak:
		h.e.table.DeleteWeakGlobalRef(ref)
	}
	h.released = true
}

// ReleaseScoped releases a scoped handle. Calling it on a handle of any
// other class asserts: the three delete operations are not interchangeable
// at the ABI level, and a silent no-op here would hide a leak.
func (h *handle) ReleaseScoped() {
	h.requireClass(RefScoped, "ReleaseScoped")
	h.Release()
}

// ReleaseDurable releases a durable handle; see ReleaseScoped.
func (h *handle) ReleaseDurable() {
	h.requireClass(RefDurable, "ReleaseDurable")
	h.Release()
}

// ReleaseWeak releases a weak handle; see ReleaseScoped.
func (h *handle) ReleaseWeak() {
	h.requireClass(RefWeak, "ReleaseWeak")
	h.Release()
}

// IsLive re-checks a weak handle's referent. It must be consulted before
// every use of a weak handle; a false result means the referent was
// collected and only Release remains legal.
func (h *handle) IsLive(cap *Capability) bool {
	h.e.borrowClear(cap, "IsLive")
	h.requireClass(RefWeak, "IsLive")
	return !h.e.table.IsSameObject(h.use("IsLive"), 0)
}

// retain creates a new reference to h's referent in the target class.
// Mirrors the three new-ref operations; the result is checked against a
// raised exception before being wrapped.
func (e *Env) retain(cap *Capability, h Handle, target RefClass, op string) (handle, *Capability, error) {
	e.consumeClear(cap, op)
	src := mustUse(h, op)
	var ref ffi.Ref
	switch target {
	case RefScoped:
		ref = e.table.NewLocalRef(src)
	case RefDurable:
		ref = e.table.NewGlobalRef(src)
	case RefWeak:
		ref = e.table.NewWeakGlobalRef(src)
	}
	if e.table.ExceptionCheck() {
		return handle{}, nil, e.thrown(op)
	}
	nh := handle{e: e, ref: ref, class: target}
	if target == RefScoped {
		nh.frame = e.frameDepth
	}
	return nh, e.issueClear(), nil
}

// mustUse validates a required handle argument, tolerating both nil
// interfaces and typed nil pointers.
func mustUse(h Handle, op string) ffi.Ref {
	if h == nil || h.raw() == nil {
		errors.Violate(errors.PhaseRuntime, "%s: nil handle", op)
	}
	return h.raw().use(op)
}

// Object is a handle to an arbitrary VM object.
type Object struct{ handle }

// Class is a handle to a class object.
type Class struct{ handle }

// Str is a handle to a VM string.
type Str struct{ handle }

// Throwable is a handle to an exception object.
type Throwable struct{ handle }

// ObjectArray is a handle to an array of object references.
type ObjectArray struct{ handle }

func (o *Object) raw() *handle {
	if o == nil {
		return nil
	}
	return &o.handle
}

func (c *Class) raw() *handle {
	if c == nil {
		return nil
	}
	return &c.handle
}

func (s *Str) raw() *handle {
	if s == nil {
		return nil
	}
	return &s.handle
}

func (t *Throwable) raw() *handle {
	if t == nil {
		return nil
	}
	return &t.handle
}

func (a *ObjectArray) raw() *handle {
	if a == nil {
		return nil
	}
	return &a.handle
}

// Durable creates a durable reference to the same object.
func (o *Object) Durable(cap *Capability) (*Object, *Capability, error) {
	h, ncap, err := o.e.retain(cap, o, RefDurable, "Object.Durable")
	if err != nil {
		return nil, nil, err
	}
	return &Object{h}, ncap, nil
}

// Weak creates a weak reference to the same object.
func (o *Object) Weak(cap *Capability) (*Object, *Capability, error) {
	h, ncap, err := o.e.retain(cap, o, RefWeak, "Object.Weak")
	if err != nil {
		return nil, nil, err
	}
	return &Object{h}, ncap, nil
}

// Durable creates a durable reference to the same class.
func (c *Class) Durable(cap *Capability) (*Class, *Capability, error) {
	h, ncap, err := c.e.retain(cap, c, RefDurable, "Class.Durable")
	if err != nil {
		return nil, nil, err
	}
	return &Class{h}, ncap, nil
}

// Weak creates a weak reference to the same class.
func (c *Class) Weak(cap *Capability) (*Class, *Capability, error) {
	h, ncap, err := c.e.retain(cap, c, RefWeak, "Class.Weak")
	if err != nil {
		return nil, nil, err
	}
	return &Class{h}, ncap, nil
}

// Durable creates a durable reference to the same string.
func (s *Str) Durable(cap *Capability) (*Str, *Capability, error) {
	h, ncap, err := s.e.retain(cap, s, RefDurable, "Str.Durable")
	if err != nil {
		return nil, nil, err
	}
	return &Str{h}, ncap, nil
}

// Durable creates a durable reference to the same throwable.
func (t *Throwable) Durable(cap *Capability) (*Throwable, *Capability, error) {
	h, ncap, err := t.e.retain(cap, t, RefDurable, "Throwable.Durable")
	if err != nil {
		return nil, nil, err
	}
	return &Throwable{h}, ncap, nil
}

// AsObject re-issues the handle as a plain Object in the same reference
// class (a fresh reference; the original stays valid).
func (c *Class) AsObject(cap *Capability) (*Object, *Capability, error) {
	h, ncap, err := c.e.retain(cap, c, c.class, "Class.AsObject")
	if err != nil {
		return nil, nil, err
	}
	return &Object{h}, ncap, nil
}

// AsObject re-issues the string handle as a plain Object; see
// Class.AsObject.
func (s *Str) AsObject(cap *Capability) (*Object, *Capability, error) {
	h, ncap, err := s.e.retain(cap, s, s.class, "Str.AsObject")
	if err != nil {
		return nil, nil, err
	}
	return &Object{h}, ncap, nil
}

// AsObject re-issues the throwable handle as a plain Object; see
// Class.AsObject.
func (t *Throwable) AsObject(cap *Capability) (*Object, *Capability, error) {
	h, ncap, err := t.e.retain(cap, t, t.class, "Throwable.AsObject")
	if err != nil {
		return nil, nil, err
	}
	return &Object{h}, ncap, nil
}

// AsObject re-issues the array handle as a plain Object; see
// Class.AsObject.
func (a *ObjectArray) AsObject(cap *Capability) (*Object, *Capability, error) {
	h, ncap, err := a.e.retain(cap, a, a.class, "ObjectArray.AsObject")
	if err != nil {
		return nil, nil, err
	}
	return &Object{h}, ncap, nil
}
