package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RecordDuration records d to the given histogram metric, expressed in unit.
func RecordDuration(
	ctx context.Context,
	m metric.Float64Histogram,
	d time.Duration,
	unit time.Duration,
	opts ...metric.RecordOption,
) {
	switch unit {
	case time.Nanosecond:
		m.Record(ctx, float64(d.Nanoseconds()), opts...)
	case time.Microsecond:
		m.Record(ctx, float64(d.Microseconds()), opts...)
	case time.Millisecond:
		m.Record(ctx, float64(d.Milliseconds()), opts...)
	default:
		m.Record(ctx, d.Seconds(), opts...)
	}
}
