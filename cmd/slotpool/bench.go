package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/holmberd/go-slotpool"
)

type benchOptions struct {
	Ops  int   // Number of allocate or deallocate operations.
	Live int   // Maximum number of slots held at once.
	Seed int64 // Seed of the operation sequence.
}

type benchResult struct {
	Allocs    int
	Frees     int
	Elapsed   time.Duration
	Peak      slotpool.Stats
	PeakBytes uint64
	Reclaimed int // Slots released by FreeUnused after the workload.
	Final     slotpool.Stats
}

// runBench runs a random mix of allocations and releases, then releases every
// slot and reclaims unused chunks.
func runBench(p *slotpool.Pool, opts benchOptions) (benchResult, error) {
	if opts.Ops < 0 || opts.Live <= 0 {
		return benchResult{}, errors.New("ops must not be negative and live must be positive")
	}
	var res benchResult
	r := rand.New(rand.NewSource(opts.Seed))
	live := make([][]byte, 0, opts.Live)

	start := time.Now()
	for i := 0; i < opts.Ops; i++ {
		if len(live) < opts.Live && (len(live) == 0 || r.Intn(2) == 0) {
			b, err := p.Allocate()
			if err != nil {
				return res, fmt.Errorf("allocate %d: %w", i, err)
			}
			live = append(live, b)
			res.Allocs++
			if used := p.UsedBytes(); used > res.PeakBytes {
				res.PeakBytes = used
				res.Peak = p.Stats()
			}
			continue
		}
		j := r.Intn(len(live))
		if err := p.Deallocate(&live[j]); err != nil {
			return res, fmt.Errorf("deallocate %d: %w", i, err)
		}
		live[j] = live[len(live)-1]
		live = live[:len(live)-1]
		res.Frees++
	}
	res.Elapsed = time.Since(start)

	for j := range live {
		if err := p.Deallocate(&live[j]); err != nil {
			return res, fmt.Errorf("deallocate remaining: %w", err)
		}
	}
	res.Reclaimed = p.FreeUnused()
	res.Final = p.Stats()
	return res, nil
}

func printBench(w io.Writer, res benchResult) {
	ops := res.Allocs + res.Frees
	fmt.Fprintf(w, "operations:   %s (%s allocs, %s frees)\n",
		humanize.Comma(int64(ops)), humanize.Comma(int64(res.Allocs)), humanize.Comma(int64(res.Frees)))
	fmt.Fprintf(w, "elapsed:      %s", res.Elapsed)
	if res.Elapsed > 0 {
		fmt.Fprintf(w, " (%s ops/s)", humanize.Comma(int64(float64(ops)/res.Elapsed.Seconds())))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "peak used:    %s in %d subpools\n", humanize.IBytes(res.PeakBytes), res.Peak.Subpools)
	fmt.Fprintf(w, "reclaimed:    %d slots\n", res.Reclaimed)
	fmt.Fprintf(w, "final:        %s total, %d subpools\n",
		humanize.IBytes(uint64(res.Final.TotalSlots*res.Final.SlotSize)), res.Final.Subpools)
}
