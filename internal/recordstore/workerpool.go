package recordstore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkerLimit bounds concurrent storage I/O issued through
// ParallelForEach (used by the Compounding Engine's decay scan, which compact
// runs), per spec.md section 5: "storage
// I/O is performed on a worker pool so as not to block the cooperative
// scheduler." Grounded on the teacher's pgxpool-backed concurrent
// connection acquisition pattern — a fixed ceiling rather than one goroutine
// per row.
const DefaultWorkerLimit = 8

// ParallelForEach runs fn once per item on a worker pool bounded to limit
// concurrent goroutines (DefaultWorkerLimit if limit <= 0). It returns the
// first error encountered; remaining in-flight work is allowed to finish
// (errgroup does not cancel siblings unless fn itself observes ctx.Err()).
func ParallelForEach[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) error {
	if limit <= 0 {
		limit = DefaultWorkerLimit
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
