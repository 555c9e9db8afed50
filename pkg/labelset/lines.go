package labelset

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// linesPerChunk bounds how much work runs between context checks.
const linesPerChunk = 256

// forEachLine calls fn over [0, count) split into chunks, running up to workers chunks
// at once. Chunks never overlap, so fn may write to the lines it is given without locking.
func forEachLine(ctx context.Context, workers, count int, fn func(lo, hi int)) error {
	if workers <= 1 {
		for lo := 0; lo < count; lo += linesPerChunk {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(lo, min(lo+linesPerChunk, count))
		}
		return nil
	}

	chunk := (count + workers - 1) / workers
	chunk = max(1, min(chunk, linesPerChunk))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < count; lo += chunk {
		hi := min(lo+chunk, count)
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
