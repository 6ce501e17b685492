package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/holmberd/go-slotpool"
)

// runScenario allocates past the first chunk, releases everything and reclaims
// the empty chunks, printing the pool's accounting after every step.
func runScenario(w io.Writer, config slotpool.Config) error {
	p, err := slotpool.Custom(config)
	if err != nil {
		return fmt.Errorf("creating pool: %w", err)
	}
	defer p.Destroy()

	step := func(name string) {
		fmt.Fprintf(w, "%-24s used=%-8s available=%-8s total=%-8s subpools=%d\n",
			name,
			humanize.IBytes(p.UsedBytes()),
			humanize.IBytes(p.AvailableBytes()),
			humanize.IBytes(p.TotalBytes()),
			p.SubpoolCount(),
		)
	}

	step("create")
	slots := make([][]byte, config.SlotCount+1)
	for i := range slots {
		if slots[i], err = p.Allocate(); err != nil {
			return fmt.Errorf("allocate: %w", err)
		}
		step(fmt.Sprintf("allocate #%d", i+1))
	}

	if err := p.Deallocate(&slots[0]); err != nil {
		return fmt.Errorf("deallocate: %w", err)
	}
	step("deallocate #1")
	fmt.Fprintf(w, "%-24s reclaimed=%d slots\n", "free unused", p.FreeUnused())

	for i := 1; i < len(slots); i++ {
		if err := p.Deallocate(&slots[i]); err != nil {
			return fmt.Errorf("deallocate: %w", err)
		}
		step(fmt.Sprintf("deallocate #%d", i+1))
	}
	fmt.Fprintf(w, "%-24s reclaimed=%d slots\n", "free unused", p.FreeUnused())
	step("final")
	return nil
}
