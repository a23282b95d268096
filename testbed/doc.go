// Package testbed provides an in-memory VM implementing the ffi function
// tables, for exercising the binding layer without a real VM in the
// process.
//
// The testbed keeps the semantics the binding layer depends on:
//
//	references   per-thread local frames, global and weak tables,
//	             class-checked deletion (wrong delete panics)
//	exceptions   one pending slot per attached thread; most entry
//	             points set it instead of returning an error
//	strings      stored as Go strings, surfaced in Modified-UTF-8
//	             through the mutf8 codec
//	monitors     recursive per-object locks keyed by goroutine id
//	threads      attach/detach bookkeeping with Detached and Exists
//	             status codes, matching the real creation contract
//
// Two test hooks go beyond the ABI: CollectAll simulates a collection
// pass so weak-reference expiry can be observed deterministically, and
// LiveRefs counts registered references for leak assertions.
package testbed
