// Package metrics provides a way to record metrics.
package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/chrynan/lifescope"

var (
	// Debounce metrics
	Debounce struct {
		// Emitted is the number of values emitted by debounce operators.
		Emitted metric.Int64Counter
		// Delayed is the number of emissions that had to wait for the window.
		Delayed metric.Int64Counter
		// Wait is the time an emission was held back.
		Wait metric.Float64Histogram
	}

	// Broadcast metrics
	Broadcast struct {
		// Published is the number of values handed to a broadcaster.
		Published metric.Int64Counter
		// Dropped is the number of values discarded by an overflow policy.
		Dropped metric.Int64Counter
	}

	// Lifecycle metrics
	Lifecycle struct {
		// Attached is the number of lifecycle scopes attached.
		Attached metric.Int64Counter
		// Detached is the number of lifecycle scopes detached.
		Detached metric.Int64Counter
	}

	// Dispatch metrics
	Dispatch struct {
		// Tasks is the number of tasks executed by dispatchers.
		Tasks metric.Int64Counter
		// Panics is the number of tasks that panicked on a dispatcher.
		Panics metric.Int64Counter
	}
)

func init() {
	InitMetrics(noop.NewMeterProvider())
}

// InitMetrics initializes the metrics. Must be called as soon as possible.
//
// Until it is called, every instrument records into a noop provider.
func InitMetrics(provider metric.MeterProvider) {
	meter := provider.Meter(meterName)

	var err error
	Debounce.Emitted, err = meter.Int64Counter(
		"debounce.emitted",
		metric.WithDescription("Number of values emitted by debounce operators"),
	)
	if err != nil {
		panic(err)
	}
	Debounce.Delayed, err = meter.Int64Counter(
		"debounce.delayed",
		metric.WithDescription("Number of emissions held back by the debounce window"),
	)
	if err != nil {
		panic(err)
	}
	Debounce.Wait, err = meter.Float64Histogram(
		"debounce.wait.time",
		metric.WithDescription("Time an emission was held back"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(err)
	}

	// Broadcast
	Broadcast.Published, err = meter.Int64Counter(
		"broadcast.published",
		metric.WithDescription("Number of values published to broadcasters"),
	)
	if err != nil {
		panic(err)
	}
	Broadcast.Dropped, err = meter.Int64Counter(
		"broadcast.dropped",
		metric.WithDescription("Number of values discarded by an overflow policy"),
	)
	if err != nil {
		panic(err)
	}

	// Lifecycle
	Lifecycle.Attached, err = meter.Int64Counter(
		"lifecycle.attached",
		metric.WithDescription("Number of lifecycle scopes attached"),
	)
	if err != nil {
		panic(err)
	}
	Lifecycle.Detached, err = meter.Int64Counter(
		"lifecycle.detached",
		metric.WithDescription("Number of lifecycle scopes detached"),
	)
	if err != nil {
		panic(err)
	}

	// Dispatch
	Dispatch.Tasks, err = meter.Int64Counter(
		"dispatch.tasks",
		metric.WithDescription("Number of tasks executed by dispatchers"),
	)
	if err != nil {
		panic(err)
	}
	Dispatch.Panics, err = meter.Int64Counter(
		"dispatch.panics",
		metric.WithDescription("Number of tasks that panicked on a dispatcher"),
	)
	if err != nil {
		panic(err)
	}
}
