package jvm

import (
	"runtime"
	"sync"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/wippyai/jvm-runtime/errors"
	"github.com/wippyai/jvm-runtime/ffi"
	"github.com/wippyai/jvm-runtime/mutf8"
)

// VM is a running VM instance. It is the single top-level shared resource:
// the instance handle may be used from any goroutine, but every call into
// the VM goes through a per-thread Env binding.
//
// Destroy must be the last operation, after every binding has been closed.
type VM struct {
	mu        sync.Mutex
	table     *ffi.VMTable
	version   ffi.Version
	name      []byte // attach name, Modified-UTF-8
	bindings  map[int64]*Env
	destroyed bool
}

// Create constructs a VM instance through the given constructor, attaching
// the calling goroutine. It returns the instance, the calling goroutine's
// binding, and the binding's initial Clear capability.
//
// The calling goroutine is locked to its OS thread for the lifetime of the
// binding, since the env table is only valid on the attaching thread.
func Create(create ffi.CreateVMFunc, args ffi.InitArgs, name string) (*VM, *Env, *Capability, error) {
	if create == nil {
		return nil, nil, nil, errors.InvalidInput(errors.PhaseCreate, "nil constructor")
	}

	runtime.LockOSThread()
	vmt, envt, status := create(&args)
	if err := errors.FromStatus(errors.PhaseCreate, "CreateVM", status); err != nil {
		runtime.UnlockOSThread()
		return nil, nil, nil, err
	}

	vm := &VM{
		table:    vmt,
		version:  args.Version,
		name:     mutf8.Encode(name),
		bindings: make(map[int64]*Env),
	}
	env, cap := vm.register(envt, true)

	Logger().Info("vm created",
		zap.String("version", args.Version.String()),
		zap.Int("options", len(args.Options)))
	return vm, env, cap, nil
}

// Version returns the interface revision the VM was constructed with.
func (vm *VM) Version() ffi.Version {
	return vm.version
}

// AttachCurrentThread binds the calling goroutine to the VM. If this
// goroutine already holds a live binding, that binding is returned with a
// nil capability: the caller already owns the binding's live token and no
// second one may exist. A fresh binding comes with a fresh Clear token.
func (vm *VM) AttachCurrentThread() (*Env, *Capability, error) {
	return vm.attach(false)
}

// AttachCurrentThreadAsDaemon is AttachCurrentThread with daemon
// semantics: a daemon attachment does not keep the VM alive on shutdown.
func (vm *VM) AttachCurrentThreadAsDaemon() (*Env, *Capability, error) {
	return vm.attach(true)
}

func (vm *VM) attach(daemon bool) (*Env, *Capability, error) {
	gid := goid.Get()

	vm.mu.Lock()
	if vm.destroyed {
		vm.mu.Unlock()
		errors.Violate(errors.PhaseAttach, "attach to destroyed vm")
	}
	if env, ok := vm.bindings[gid]; ok {
		vm.mu.Unlock()
		return env, nil, nil
	}
	vm.mu.Unlock()

	runtime.LockOSThread()

	// The thread may have been attached outside this binding's bookkeeping
	// (by the VM itself, or by native code). GetEnv distinguishes that case
	// so Close knows whether detachment is owed.
	envt, status := vm.table.GetEnv(vm.version)
	switch status {
	case errors.StatusOK:
		env, cap := vm.register(envt, false)
		return env, cap, nil

	case errors.StatusDetached:
		args := &ffi.AttachArgs{Version: vm.version, Name: vm.name}
		attach := vm.table.AttachCurrentThread
		if daemon {
			attach = vm.table.AttachCurrentThreadAsDaemon
		}
		envt, status = attach(args)
		if err := errors.FromStatus(errors.PhaseAttach, "AttachCurrentThread", status); err != nil {
			runtime.UnlockOSThread()
			return nil, nil, err
		}
		env, cap := vm.register(envt, true)
		Logger().Debug("thread attached", zap.Int64("goid", gid), zap.Bool("daemon", daemon))
		return env, cap, nil

	default:
		runtime.UnlockOSThread()
		return nil, nil, errors.FromStatus(errors.PhaseAttach, "GetEnv", status)
	}
}

func (vm *VM) register(envt *ffi.EnvTable, owesDetach bool) (*Env, *Capability) {
	env := &Env{
		vm:         vm,
		table:      envt,
		owner:      goid.Get(),
		owesDetach: owesDetach,
	}
	vm.mu.Lock()
	vm.bindings[env.owner] = env
	vm.mu.Unlock()
	return env, env.issueClear()
}

func (vm *VM) unregister(env *Env) {
	vm.mu.Lock()
	delete(vm.bindings, env.owner)
	vm.mu.Unlock()
}

// Destroy tears down the VM instance. Destroying while any binding is
// still open is a contract violation: handles and env tables would be left
// dangling.
func (vm *VM) Destroy() error {
	vm.mu.Lock()
	if vm.destroyed {
		vm.mu.Unlock()
		errors.Violate(errors.PhaseRuntime, "vm destroyed twice")
	}
	if n := len(vm.bindings); n > 0 {
		vm.mu.Unlock()
		errors.Violate(errors.PhaseRuntime, "vm destroyed with %d binding(s) still open", n)
	}
	vm.destroyed = true
	vm.mu.Unlock()

	Logger().Info("vm destroyed")
	return errors.FromStatus(errors.PhaseRuntime, "DestroyVM", vm.table.DestroyVM())
}
