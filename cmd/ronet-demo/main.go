// Command ronet-demo runs a small SPMD workload. By default it spawns
// an n-PE world inside one process over the ipc backend; with
// RONET_BACKEND=p2p (plus rank, world size, and the peer table from
// the environment) it runs a single PE of a multi-process job.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nmxmxh/ronet"
)

func main() {
	n := flag.Int("n", 4, "number of PEs (ipc backend)")
	heap := flag.Uint64("heap", 16<<20, "symmetric heap bytes per PE")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := ronet.DefaultConfig()
	cfg.HeapSize = *heap
	cfg.Logger = logger

	if os.Getenv("RONET_BACKEND") == ronet.BackendP2P {
		// Rank, world size, and peers come from RONET_* variables.
		r := ronet.Init(cfg)
		if err := body(r); err != nil {
			logger.Error("demo failed", "error", err)
			os.Exit(1)
		}
		ronet.Finalize()
		return
	}

	if err := ronet.RunLocal(*n, cfg, body); err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func body(r *ronet.Runtime) error {
	me, np := r.MyPE(), r.NumPEs()

	// Ring put: each PE labels its right neighbor.
	slot, err := r.Alloc(8)
	if err != nil {
		return err
	}
	ronet.P(r, slot, int64(me), (me+1)%np)
	if err := r.BarrierAll(); err != nil {
		return err
	}
	local, err := ronet.LocalSlice[int64](r, slot, 1)
	if err != nil {
		return err
	}
	fmt.Printf("pe %d: left neighbor is %d\n", me, local[0])

	// World-wide sum of ranks.
	pwrk, err := r.Alloc(uint64(ronet.ReduceWrkCount(1, np)) * 8)
	if err != nil {
		return err
	}
	psync, err := r.Alloc(ronet.ReduceSyncSize * 8)
	if err != nil {
		return err
	}
	local[0] = int64(me)
	as := ronet.ActiveSet{Start: 0, Stride: 1, Size: np}
	ronet.Reduce[int64](r, ronet.OpSum, slot, slot, 1, as, pwrk, psync)
	if me == 0 {
		fmt.Printf("pe 0: sum of ranks = %d\n", local[0])
	}

	// A team of the even PEs broadcasting from its first member.
	if np >= 2 {
		evens, err := r.World().Split(0, 2, (np+1)/2)
		if err != nil {
			return err
		}
		if evens != ronet.TeamInvalid {
			local[0] = int64(1000 + me)
			if err := evens.Barrier(); err != nil {
				return err
			}
			ronet.TeamBroadcast[int64](evens, slot, slot, 1, 0)
			if err := evens.Barrier(); err != nil {
				return err
			}
			fmt.Printf("pe %d: team broadcast value = %d\n", me, local[0])
			if err := evens.Destroy(); err != nil {
				return err
			}
		}
	}

	if err := r.BarrierAll(); err != nil {
		return err
	}
	if me == 0 {
		s := r.Stats()
		fmt.Printf("pe 0: %d puts, %d amos, %d barriers, %d reductions\n",
			s.Puts, s.AMOs, s.Barriers, s.Broadcasts+s.Reductions)
	}
	return nil
}
