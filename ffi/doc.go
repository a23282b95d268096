// Package ffi mirrors the VM's C ABI surface: the versioned function
// tables, the version constants, and the opaque reference type.
//
// Nothing here enforces safety. The tables are raw entry points with the
// ABI's own preconditions (no pending exception, correct thread, correct
// reference class on delete); the jvm package is the layer that makes
// those preconditions unrepresentable or loudly checked. Code outside
// this module should not call table functions directly.
package ffi
