package durability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/roach88/durable/internal/durability"

// Wrap makes exec durable: on live execution it runs through the retry layer
// and its outcome is recorded; on replay the recorded outcome is returned and
// exec is not called.
func Wrap[In, Out any](ctx context.Context, st *State, call Call[In, Out], in In, exec func(context.Context, In) (Out, error)) (Out, error) {
	ctx, span := startSpan(ctx, st, call.Name())
	defer span.End()

	d, err := New(ctx, st, call)
	if err != nil {
		var zero Out
		return zero, recordSpan(span, err)
	}
	span.SetAttributes(attribute.Bool("durable.live", d.IsLive()))
	if !d.IsLive() {
		out, err := d.Replay(ctx)
		return out, recordSpan(span, err)
	}

	start := time.Now()
	out, err := Retry(ctx, st, call.Type, func(ctx context.Context) (Out, error) {
		return exec(ctx, in)
	})
	liveCallDuration.WithLabelValues(call.Name()).Observe(time.Since(start).Seconds())

	out, err = d.Persist(ctx, in, out, err)
	return out, recordSpan(span, err)
}

// WrapInfallible is Wrap for functions that cannot fail. The outcome is always
// recorded live and always trusted on replay; the returned error is only ever
// a control signal or a fatal error.
func WrapInfallible[In, Out any](ctx context.Context, st *State, call Call[In, Out], in In, exec func(context.Context, In) Out) (Out, error) {
	ctx, span := startSpan(ctx, st, call.Name())
	defer span.End()

	d, err := New(ctx, st, call)
	if err != nil {
		var zero Out
		return zero, recordSpan(span, err)
	}
	span.SetAttributes(attribute.Bool("durable.live", d.IsLive()))
	if !d.IsLive() {
		out, err := d.ReplayInfallible(ctx)
		return out, recordSpan(span, err)
	}
	out, err := d.PersistInfallible(ctx, in, exec(ctx, in))
	return out, recordSpan(span, err)
}

// WrapConditionally is Wrap when enabled reports true for the current state.
// Otherwise exec runs directly: nothing is recorded and nothing is read.
func WrapConditionally[In, Out any](ctx context.Context, st *State, call Call[In, Out], in In, exec func(context.Context, In) (Out, error), enabled func(*State) bool) (Out, error) {
	if enabled != nil && !enabled(st) {
		ObserveFunctionCall(call.Interface, call.Function)
		return exec(ctx, in)
	}
	return Wrap(ctx, st, call, in, exec)
}

func startSpan(ctx context.Context, st *State, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "host_call "+name, trace.WithAttributes(
		attribute.String("worker.id", string(st.WorkerID())),
		attribute.String("host.function", name),
	))
}

func recordSpan(span trace.Span, err error) error {
	if err != nil && !IsControlSignal(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
