// Package jvm is a safety layer over the VM's C ABI.
//
// The VM's entry points carry three preconditions the ABI cannot express:
// most calls are illegal while an exception is pending, every reference has
// one of three lifetime classes with its own delete operation, and a
// per-thread env table must never be used from another thread. This
// package encodes all three as values that must be threaded through every
// call.
//
// # Capability tokens
//
// A Capability witnesses "no exception pending" on its binding. Calls that
// may throw consume the token and return either (result, fresh Capability)
// or an error carrying an Exception token — never both. Read-only queries
// borrow the token. Once consumed, a token is dead; reusing it panics with
// a contract violation. This is what makes the illegal pattern "call,
// ignore the exception, call again" unrepresentable:
//
//	cls, cap, err := env.FindClass(cap, "java/lang/String")
//	if err != nil {
//	    exc := err.(*jvm.Thrown).Token
//	    cap = env.ExceptionClear(exc) // the only way back to a Clear token
//	}
//
// # Reference classes
//
// Every handle is Scoped, Durable, or Weak, fixed at creation. Release
// dispatches on the class; the class-specific release operations
// (ReleaseScoped, ReleaseDurable, ReleaseWeak) assert the class and exist
// so call sites can state their expectation. Weak handles require an
// IsLive re-check before every use. Only durable references may cross
// threads, via Ref and Env.AdoptDurable.
//
// # Thread confinement
//
// Create and AttachCurrentThread lock the calling goroutine to its OS
// thread and tag the binding with the goroutine id; every operation entry
// checks the tag. Bindings, scoped handles, weak handles, and tokens never
// leave their goroutine.
//
// # Errors
//
// Recoverable conditions (VM status codes, raised exceptions, decode
// failures) are returned. Contract violations — wrong-class release, token
// reuse, cross-thread use, closing a binding with an exception pending,
// destroying the VM with bindings open — panic via errors.Violate, because
// continuing would corrupt VM state.
package jvm
