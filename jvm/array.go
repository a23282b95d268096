package jvm

// Length returns the array length. Arrays cannot change length, so this
// needs only a borrowed capability.
func (a *ObjectArray) Length(cap *Capability) int {
	a.e.borrowClear(cap, "ObjectArray.Length")
	return int(a.e.table.GetArrayLength(a.use("ObjectArray.Length")))
}

// Get returns the element at index i, or nil for a null element. An
// out-of-range index raises an exception in the VM.
func (a *ObjectArray) Get(cap *Capability, i int) (*Object, *Capability, error) {
	a.e.consumeClear(cap, "ObjectArray.Get")
	ref := a.e.table.GetObjectArrayElement(a.use("ObjectArray.Get"), int32(i))
	if a.e.table.ExceptionCheck() {
		return nil, nil, a.e.thrown("ObjectArray.Get")
	}
	if ref.Null() {
		return nil, a.e.issueClear(), nil
	}
	return &Object{a.e.newScoped(ref)}, a.e.issueClear(), nil
}

// Set stores v (which may be nil) at index i. An out-of-range index or a
// type mismatch raises an exception in the VM.
func (a *ObjectArray) Set(cap *Capability, i int, v *Object) (*Capability, error) {
	a.e.consumeClear(cap, "ObjectArray.Set")
	a.e.table.SetObjectArrayElement(a.use("ObjectArray.Set"), int32(i), refOf(v))
	if a.e.table.ExceptionCheck() {
		return nil, a.e.thrown("ObjectArray.Set")
	}
	return a.e.issueClear(), nil
}
