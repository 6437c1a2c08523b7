package xjobstore

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/omeyang/xsched/pkg/distributed/xjobstore"

// 指标名。
const (
	MetricTriggersAcquired  = "xsched.jobstore.triggers.acquired"
	MetricTriggersFired     = "xsched.jobstore.triggers.fired"
	MetricTriggersMisfired  = "xsched.jobstore.triggers.misfired"
	MetricTriggersRecovered = "xsched.jobstore.triggers.recovered"
	MetricLockReleaseRaces  = "xsched.jobstore.lock.release_races"
)

type instruments struct {
	tracer       trace.Tracer
	attrs        metric.MeasurementOption
	acquired     metric.Int64Counter
	fired        metric.Int64Counter
	misfired     metric.Int64Counter
	recovered    metric.Int64Counter
	releaseRaces metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider, tp trace.TracerProvider, instance, node string) (*instruments, error) {
	meter := mp.Meter(instrumentationName)
	inst := &instruments{
		tracer: tp.Tracer(instrumentationName),
		attrs: metric.WithAttributeSet(attribute.NewSet(
			attribute.String("xsched.instance", instance),
			attribute.String("xsched.node", node),
		)),
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&inst.acquired, MetricTriggersAcquired, "triggers acquired by this node"},
		{&inst.fired, MetricTriggersFired, "triggers fired by this node"},
		{&inst.misfired, MetricTriggersMisfired, "misfire policy applications"},
		{&inst.recovered, MetricTriggersRecovered, "stale ACQUIRED triggers reset to WAITING"},
		{&inst.releaseRaces, MetricLockReleaseRaces, "unlocks of locks that had already expired"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("xjobstore: create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return inst, nil
}

func (i *instruments) add(ctx context.Context, c metric.Int64Counter, n int) {
	if n > 0 {
		c.Add(ctx, int64(n), i.attrs)
	}
}

func (i *instruments) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "xjobstore."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// endSpan 记录错误并结束 span。
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
