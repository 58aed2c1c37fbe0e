// Package parallel runs data-parallel loops over disjoint index ranges.
// There is no inter-task communication: workers own their range exclusively
// and the only suspend point is the final join.
package parallel

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Execute splits [0, n) into contiguous chunks, one per available core, and
// runs work(start, end) on each chunk concurrently, blocking until all
// chunks finish.
func Execute(n int, work func(start, end int)) {
	nbTasks := runtime.NumCPU()
	if nbTasks > n {
		nbTasks = n
	}
	if nbTasks <= 1 {
		if n > 0 {
			work(0, n)
		}
		return
	}

	var wg sync.WaitGroup
	per := (n + nbTasks - 1) / nbTasks
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			work(s, e)
		}(start, end)
	}
	wg.Wait()
}

// MapErr runs work(i) for every i in [0, n) across the core count, stopping
// at the first error. Used where per-item failures must surface (chunk
// proving, chunk verification).
func MapErr(n int, work func(i int) error) error {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < n; i++ {
		g.Go(func() error { return work(i) })
	}
	return g.Wait()
}
