package preparator

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// forEachBand splits rows into contiguous bands processed in parallel.
// Each band writes only its own output rows, so the result matches a
// sequential pass.
func forEachBand(rows int, fn func(r0, r1 int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > rows {
		workers = rows
	}
	if workers <= 1 {
		fn(0, rows)
		return
	}
	band := (rows + workers - 1) / workers
	var g errgroup.Group
	for r0 := 0; r0 < rows; r0 += band {
		r1 := min(r0+band, rows)
		g.Go(func() error {
			fn(r0, r1)
			return nil
		})
	}
	_ = g.Wait()
}
