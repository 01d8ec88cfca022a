package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "scrapers-lib/pkg/fn"

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then composes two stages, short-circuiting on error.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		r := first(ctx, a)
		if r.IsErr() {
			return Err[C](r.err)
		}
		return second(ctx, r.val)
	}
}

// MapStage wraps a fallible pure function as a Stage.
func MapStage[In, Out any](f func(In) (Out, error)) Stage[In, Out] {
	return func(_ context.Context, in In) Result[Out] {
		return FromPair(f(in))
	}
}

// TapStage runs a fallible side effect and passes the value through.
func TapStage[T any](f func(context.Context, T) error) Stage[T, T] {
	return func(ctx context.Context, t T) Result[T] {
		if err := f(ctx, t); err != nil {
			return Err[T](err)
		}
		return Ok(t)
	}
}

// BatchStage runs a stage over a slice with bounded concurrency. Output order
// matches input order; the first failure (by index) fails the batch.
func BatchStage[T, U any](workers int, stage Stage[T, U]) Stage[[]T, []U] {
	return func(ctx context.Context, items []T) Result[[]U] {
		return Collect(ParMapResult(items, workers, func(item T) Result[U] {
			return stage(ctx, item)
		}))
	}
}

// TracedStage wraps a stage in an OTel span named name.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if result.IsErr() {
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.err.Error())
		}
		return result
	}
}
