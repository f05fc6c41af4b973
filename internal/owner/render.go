package owner

import "context"

type rendered[T any] struct {
	v   T
	err error
}

// RenderOn runs fn on producer's goroutine and waits for its result.
//
// When ctx already belongs to producer, fn runs inline. While a caller that
// belongs to another Context waits, it serves render requests addressed to
// its own Context, so two contexts reading each other's contents cannot
// block one another. A caller whose ctx carries no Context may be producer's
// own running task; if producer is busy and not waiting to serve a render,
// fn runs inline on the caller's goroutine.
func RenderOn[T any](ctx context.Context, producer *Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	cur, known := FromContext(ctx)
	if known && cur == producer {
		return fn(ctx)
	}
	select {
	case <-producer.Done():
		return zero, ErrContextDisposed
	default:
	}

	ch := make(chan rendered[T], 1)
	req := func(pctx context.Context) {
		v, err := fn(pctx)
		ch <- rendered[T]{v, err}
	}

	send := producer.renders
	if !known && producer.busy.Load() {
		select {
		case send <- req:
			send = nil
		default:
			return fn(producer.base)
		}
	}

	var own chan func(context.Context)
	if known {
		own = cur.renders
	}
	for {
		select {
		case send <- req:
			send = nil
		case r := <-ch:
			return r.v, r.err
		case serve := <-own:
			serve(cur.base)
		case <-producer.Done():
			select {
			case r := <-ch:
				return r.v, r.err
			default:
			}
			return zero, ErrContextDisposed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
