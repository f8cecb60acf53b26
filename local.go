package ronet

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/ronet/internal/backend/ipc"
	"github.com/nmxmxh/ronet/internal/bootstrap"
)

// RunLocal runs an n-PE job inside one process: each PE is a
// goroutine with its own Runtime, wired over the in-process fabric.
// body runs once per PE in SPMD fashion and the call returns when
// every PE's body and finalize are done, joining their errors. cfg is
// the per-PE template; backend, rank, and world size are assigned
// here.
func RunLocal(n int, cfg Config, body func(r *Runtime) error) error {
	if n <= 0 {
		return fmt.Errorf("%w: world size %d", ErrInvalidArgument, n)
	}
	handles, err := bootstrap.NewGroup(n)
	if err != nil {
		return err
	}
	fabric := ipc.NewFabric(n)

	var g errgroup.Group
	for pe := 0; pe < n; pe++ {
		g.Go(func() error {
			pcfg := cfg
			pcfg.Backend = BackendIPC
			pcfg.Rank = pe
			pcfg.WorldSize = n

			rt, err := NewRuntime(pcfg, WithBootstrap(handles[pe]), WithFabric(fabric))
			if err != nil {
				return fmt.Errorf("pe %d: init: %w", pe, err)
			}
			bodyErr := body(rt)
			// Finalize runs even after a body error: peers block in
			// its world barrier until everyone arrives.
			finErr := rt.Finalize()
			if bodyErr != nil {
				bodyErr = fmt.Errorf("pe %d: %w", pe, bodyErr)
			}
			return errors.Join(bodyErr, finErr)
		})
	}
	return g.Wait()
}
