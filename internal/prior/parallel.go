package prior

import (
	"context"

	"github.com/smurff-go/smurff/internal/rng"
	"golang.org/x/sync/errgroup"
)

// parallelColumns partitions [0, nCols) into one contiguous chunk per
// worker in pool and runs fn over each column with that worker's private
// RNG substream (spec §4.9: "the columns of U_m are written exclusively
// by one worker each, while the other modes' factor matrices are
// read-only... data-race freedom without locks"). The first error from
// any worker cancels the rest via errgroup.
func parallelColumns(pool *rng.Pool, nCols int, fn func(s *rng.Stream, d int) error) error {
	nWorkers := pool.N()
	if nWorkers > nCols {
		nWorkers = nCols
	}
	if nWorkers < 1 {
		return nil
	}
	chunk := (nCols + nWorkers - 1) / nWorkers

	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < nWorkers; w++ {
		w := w
		g.Go(func() error {
			s := pool.Worker(w)
			lo := w * chunk
			hi := lo + chunk
			if hi > nCols {
				hi = nCols
			}
			for d := lo; d < hi; d++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(s, d); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
