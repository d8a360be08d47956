// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package recorder drives the periodic loop coupling pkg/sample's
// Sampler to pkg/store's Writer: one tick, one Collect, one Put,
// forever, until stopped.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/facebookincubator/below-sub000/pkg/sample"
	"github.com/facebookincubator/below-sub000/pkg/store"
)

// metrics are the recorder loop's statistics sink (§5, "reports to a
// statistics sink"), exposed as Prometheus collectors registered
// against a caller-supplied Registerer.
type metrics struct {
	samplesRecorded prometheus.Counter
	collectErrors   prometheus.Counter
	writeErrors     prometheus.Counter
	tickSkewSeconds prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		samplesRecorded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "below_recorder_samples_recorded_total",
			Help: "Number of samples successfully collected and written.",
		}),
		collectErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "below_recorder_collect_errors_total",
			Help: "Number of Sampler.Collect calls that returned an error.",
		}),
		writeErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "below_recorder_write_errors_total",
			Help: "Number of Writer.Put calls that failed after retry.",
		}),
		tickSkewSeconds: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "below_recorder_tick_skew_seconds",
			Help: "Difference between the scheduled and observed tick time.",
		}),
	}
}

// Sampler is the narrow surface Recorder needs from *sample.Sampler,
// kept as an interface so tests can supply a fake without building a
// real /proc and /sys fixture tree.
type Sampler interface {
	Collect(ctx context.Context) (*sample.Sample, error)
}

// Writer is the narrow surface Recorder needs from *store.Writer.
type Writer interface {
	Put(timestamp time.Time, frame *store.DataFrame) (bool, error)
}

// Recorder ticks every Interval, pulling one Sample from its Sampler
// and appending it to its Writer. It is not goroutine-safe: Run must
// only be called once, and Stop called from a different goroutine.
type Recorder struct {
	logger   logr.Logger
	sampler  Sampler
	writer   Writer
	interval time.Duration
	skewWarn time.Duration
	metrics  *metrics

	stopCh chan struct{}
}

// Option configures a Recorder at construction.
type Option func(*Recorder)

// WithSkewWarnThreshold sets how far a tick may drift from its
// scheduled time before the recorder logs a warning. Defaults to one
// full interval.
func WithSkewWarnThreshold(d time.Duration) Option {
	return func(r *Recorder) { r.skewWarn = d }
}

// New constructs a Recorder. reg may be nil, in which case metrics are
// registered against prometheus.DefaultRegisterer.
func New(logger logr.Logger, sampler Sampler, writer Writer, interval time.Duration, reg prometheus.Registerer, opts ...Option) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		logger:   logger.WithName("recorder"),
		sampler:  sampler,
		writer:   writer,
		interval: interval,
		skewWarn: interval,
		metrics:  newMetrics(reg),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives the tick loop until ctx is canceled or Stop is called.
// Each tick collects one sample and writes it; a transient write
// failure (e.g. a shard crossover racing a concurrent discard) is
// retried with exponential backoff before being counted as a hard
// error and logged.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	next := time.Now().Add(r.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		case tick := <-ticker.C:
			r.recordOne(ctx, tick)
			skew := tick.Sub(next)
			next = next.Add(r.interval)
			r.metrics.tickSkewSeconds.Set(skew.Seconds())
			if skew > r.skewWarn || skew < -r.skewWarn {
				r.logger.Info("tick skew exceeded threshold", "skew", skew, "threshold", r.skewWarn)
			}
		}
	}
}

// Stop ends the Run loop after its current tick, if any, finishes.
func (r *Recorder) Stop() {
	close(r.stopCh)
}

func (r *Recorder) recordOne(ctx context.Context, tick time.Time) {
	s, err := r.sampler.Collect(ctx)
	if err != nil {
		r.metrics.collectErrors.Inc()
		r.logger.Error(err, "sample collection failed")
		return
	}

	frame := &store.DataFrame{Sample: s}
	if err := r.putWithRetry(ctx, tick, frame); err != nil {
		r.metrics.writeErrors.Inc()
		r.logger.Error(err, "writing sample failed")
		return
	}

	r.metrics.samplesRecorded.Inc()
}

// putWithRetry retries a transient Writer.Put failure (most commonly a
// shard crossover racing a concurrent DiscardEarlier/TryDiscardUntilSize
// on the same directory) with exponential backoff, matching the retry
// shape the teacher's intake worker uses around its stream setup.
func (r *Recorder) putWithRetry(ctx context.Context, tick time.Time, frame *store.DataFrame) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if _, err := r.writer.Put(tick, frame); err != nil {
			return struct{}{}, fmt.Errorf("recorder: put: %w", err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	return err
}
