// Package jvmruntime provides a Go binding layer for embedding a Java VM
// through its C function tables.
//
// The library wraps the raw tables in an API that makes the VM's three
// implicit usage contracts explicit in the type system: exception-pending
// state is tracked by capability tokens, every reference carries its
// lifetime class, and per-thread bindings are confined to the goroutine
// that created them.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	jvm-runtime/
//	├── jvm/             High-level API: VM instances, per-thread bindings,
//	│                    capability tokens, typed reference handles
//	├── ffi/             Raw VM function tables and ABI types
//	├── mutf8/           Modified-UTF-8 codec for the string boundary
//	├── testbed/         In-memory VM implementing the ffi tables, for
//	│                    tests and tooling
//	├── errors/          Structured error types for debugging
//	└── cmd/jvmprobe/    CLI for poking at a VM interactively
//
// # Quick Start
//
// Create a VM, look up a class, build a string:
//
//	vm, env, cap, err := jvm.Create(createFn, ffi.InitArgs{Version: ffi.Version1_6}, "main")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer vm.Destroy()
//	defer env.Close()
//
//	cls, cap, err := env.FindClass(cap, "java/lang/String")
//	if err != nil {
//	    exc := err.(*jvm.Thrown).Token
//	    env.ExceptionDescribe(exc)
//	    cap = env.ExceptionClear(exc)
//	}
//
//	str, cap, err := env.NewString(cap, "Hello, world!")
//
// The createFn is whatever constructs the real VM in your process,
// typically a small cgo shim around JNI_CreateJavaVM. The testbed package
// provides a pure-Go construction function with the same shape.
//
// # Error Handling
//
// Recoverable failures come back as errors: *errors.Error for VM status
// codes and codec failures, *jvm.Thrown when a call raised an exception.
// Breaking the usage contract itself (reusing a consumed token, releasing
// a handle with the wrong class operation, touching a binding from
// another goroutine) panics with *errors.ContractViolation, since the
// process would otherwise continue with corrupted VM state.
package jvmruntime
