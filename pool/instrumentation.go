package pool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/querypool/types"
)

const instrumentationName = "github.com/BaSui01/querypool/pool"

// 属性键
const (
	attrPool        = attribute.Key("db.pool")
	attrFingerprint = attribute.Key("querypool.fingerprint")
	attrFromCache   = attribute.Key("querypool.from_cache")
	attrSource      = attribute.Key("querypool.source")
	attrStatements  = attribute.Key("querypool.batch.statements")
	attrTransaction = attribute.Key("querypool.batch.transaction")
	attrState       = attribute.Key("state")
)

// instruments OpenTelemetry 追踪与指标
type instruments struct {
	tracer       trace.Tracer
	queries      metric.Int64Counter
	duration     metric.Float64Histogram
	registration metric.Registration
	poolAttr     attribute.KeyValue
}

func newInstruments(name string, tp trace.TracerProvider, mp metric.MeterProvider, snapshot func() types.MetricsSnapshot) (*instruments, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	ins := &instruments{
		tracer:   tp.Tracer(instrumentationName),
		poolAttr: attrPool.String(name),
	}

	var err error

	// 查询计数
	ins.queries, err = meter.Int64Counter("querypool.query.total",
		metric.WithDescription("Total number of queries served by the pool"),
		metric.WithUnit("{query}"))
	if err != nil {
		return nil, err
	}

	// 查询耗时
	ins.duration, err = meter.Float64Histogram("querypool.query.duration",
		metric.WithDescription("Query duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5))
	if err != nil {
		return nil, err
	}

	// 连接占用
	connections, err := meter.Int64ObservableGauge("querypool.connections",
		metric.WithDescription("Connection occupancy by state"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}

	// 平滑错误率
	errorRate, err := meter.Float64ObservableGauge("querypool.error_rate",
		metric.WithDescription("Smoothed pool error rate"))
	if err != nil {
		return nil, err
	}

	ins.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := snapshot()
		for state, v := range map[string]int{
			"total":   s.Total,
			"active":  s.Active,
			"idle":    s.Idle,
			"waiting": s.Waiting,
		} {
			o.ObserveInt64(connections, int64(v), metric.WithAttributes(ins.poolAttr, attrState.String(state)))
		}
		o.ObserveFloat64(errorRate, s.ErrorRate, metric.WithAttributes(ins.poolAttr))
		return nil
	}, connections, errorRate)
	if err != nil {
		return nil, err
	}

	return ins, nil
}

// start 开启一个 span
func (i *instruments) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, i.poolAttr)
	return i.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// recordQuery 记录一次查询的计数与耗时
func (i *instruments) recordQuery(ctx context.Context, source string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	i.queries.Add(ctx, 1, metric.WithAttributes(i.poolAttr, attrSource.String(source), attribute.String("status", status)))
	i.duration.Record(ctx, d.Seconds(), metric.WithAttributes(i.poolAttr, attrSource.String(source)))
}

// close 注销观测回调
func (i *instruments) close() error {
	if i.registration == nil {
		return nil
	}
	return i.registration.Unregister()
}

// endSpan 根据错误设置 span 状态并结束
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
