// Package ronet is an OpenSHMEM-style PGAS communication runtime:
// every processing element (PE) exposes a symmetric heap and issues
// one-sided put/get, atomic, collective, and synchronization
// operations against its peers. An offset into the symmetric heap
// names the same object on every PE, so remote references are
// (SymAddr, pe) pairs rather than pointers.
//
// One PE per process uses Init/Finalize with the p2p backend; an
// entire job inside a single process (tests, demos) uses RunLocal
// with the ipc backend. Data-plane operations are generic free
// functions taking the *Runtime (bound to its default context) or a
// *Context; control-plane operations are Runtime and Team methods.
//
// Recoverable failures (malformed split arguments, translation
// misses) come back as error returns or invalid sentinels. Lifecycle
// and resource failures on the package-level surface abort the
// process: a single PE cannot recover from them without
// desynchronizing its peers.
package ronet

import "sync/atomic"

var procRuntime atomic.Pointer[Runtime]

// Init starts the process-wide runtime. Any construction failure and
// a second Init are fatal.
func Init(cfg Config) *Runtime {
	r, err := NewRuntime(cfg)
	if err != nil {
		fatal(cfg.Logger, "ronet.Init", err)
	}
	if !procRuntime.CompareAndSwap(nil, r) {
		fatal(cfg.Logger, "ronet.Init", ErrAlreadyInitialized)
	}
	return r
}

// Default returns the process-wide runtime. Calling before Init is
// fatal.
func Default() *Runtime {
	r := procRuntime.Load()
	if r == nil {
		fatal(nil, "ronet.Default", ErrNotInitialized)
	}
	return r
}

// Finalize tears down the process-wide runtime.
func Finalize() {
	r := procRuntime.Swap(nil)
	if r == nil {
		fatal(nil, "ronet.Finalize", ErrNotInitialized)
	}
	if err := r.Finalize(); err != nil {
		fatal(nil, "ronet.Finalize", err)
	}
}
