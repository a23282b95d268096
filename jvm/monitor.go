package jvm

import (
	"github.com/wippyai/jvm-runtime/errors"
	"github.com/wippyai/jvm-runtime/ffi"
)

// Monitor is a held intrinsic object lock. Exit is idempotent so the usual
// pattern pairs acquisition with defer and still allows an early manual
// release:
//
//	mon, err := env.MonitorEnter(cap, obj)
//	if err != nil { ... }
//	defer mon.Exit()
//
// The lock is released exactly once on every path out of the critical
// section, including panics propagating through the defer.
type Monitor struct {
	env    *Env
	ref    ffi.Ref
	exited bool
}

// MonitorEnter acquires obj's intrinsic lock, blocking until it is
// available. There is no timeout at this level; a blocked acquisition is
// only released by the holder exiting the monitor.
func (e *Env) MonitorEnter(cap *Capability, obj Handle) (*Monitor, error) {
	e.borrowClear(cap, "MonitorEnter")
	ref := mustUse(obj, "MonitorEnter")
	if err := errors.FromStatus(errors.PhaseMonitor, "MonitorEnter", e.table.MonitorEnter(ref)); err != nil {
		return nil, err
	}
	return &Monitor{env: e, ref: ref}, nil
}

// Exit releases the lock. Further calls are no-ops.
func (m *Monitor) Exit() error {
	if m.exited {
		return nil
	}
	m.env.checkOwner("MonitorExit")
	m.exited = true
	return errors.FromStatus(errors.PhaseMonitor, "MonitorExit", m.env.table.MonitorExit(m.ref))
}
