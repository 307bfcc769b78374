// Package parallel runs a function over a sequence with a bounded
// number of goroutines.
package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

// Func maps a single input to a single output.
type Func[T, R any] func(ctx context.Context, in T) (R, error)

// Map executes Func on up to limit inputs at a time. Results are
// delivered in completion order, not input order.
type Map[T, R any] struct {
	ctx   context.Context
	limit int
	f     Func[T, R]
}

// NewMap returns a Map bounded by limit. ctx cancellation stops both
// the in-flight calls and the result delivery.
func NewMap[T, R any](ctx context.Context, limit int, f Func[T, R]) Map[T, R] {
	if limit < 1 {
		limit = 1
	}
	return Map[T, R]{
		ctx:   ctx,
		limit: limit,
		f:     f,
	}
}

type pair[R any] struct {
	value R
	err   error
}

// Iter consumes seq and yields one (result, error) pair per input.
// Input errors are passed through unchanged without calling Func.
// Once ctx is done no further pairs are yielded. The iterator owns all
// spawned goroutines; they are gone when the loop ends.
func (m Map[T, R]) Iter(seq iter.Seq2[T, error]) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		ctx, cancel := context.WithCancel(m.ctx)
		defer cancel()

		in := make(chan pair[T])
		out := make(chan pair[R])

		go func() {
			defer close(in)
			for v, err := range seq {
				select {
				case in <- pair[T]{value: v, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()

		var g errgroup.Group
		for range m.limit {
			g.Go(func() error {
				for it := range in {
					var res pair[R]
					if it.err != nil {
						res = pair[R]{err: it.err}
					} else {
						v, err := m.f(ctx, it.value)
						res = pair[R]{value: v, err: err}
					}
					select {
					case out <- res:
					case <-ctx.Done():
						return nil
					}
				}
				return nil
			})
		}

		go func() {
			_ = g.Wait()
			close(out)
		}()

		for res := range out {
			if ctx.Err() != nil {
				return
			}
			if !yield(res.value, res.err) {
				return
			}
		}
	}
}
