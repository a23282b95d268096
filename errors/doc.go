// Package errors provides structured error types for the JVM binding.
//
// Errors carry a Phase (where in processing they occurred) and a Kind
// (what went wrong), plus the VM's own status code when one was reported:
//
//	[attach] status: thread detached - AttachCurrentThread
//	[decode] decode_failure: truncated surrogate pair at offset 4
//
// Recoverable conditions are returned as *Error values. Programmer errors
// that would corrupt VM state if execution continued are escalated through
// Violate, which panics with a *ContractViolation.
package errors
