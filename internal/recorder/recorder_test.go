// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package recorder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/below-sub000/pkg/sample"
	"github.com/facebookincubator/below-sub000/pkg/store"
)

type fakeSampler struct {
	collects int32
	err      error
}

func (f *fakeSampler) Collect(ctx context.Context) (*sample.Sample, error) {
	atomic.AddInt32(&f.collects, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &sample.Sample{Timestamp: time.Now(), System: sample.System{Hostname: "test-host"}}, nil
}

type fakeWriter struct {
	puts      int32
	failUntil int32
}

func (f *fakeWriter) Put(timestamp time.Time, frame *store.DataFrame) (bool, error) {
	n := atomic.AddInt32(&f.puts, 1)
	if n <= f.failUntil {
		return false, errors.New("transient write failure")
	}
	return false, nil
}

func TestRecorderRunRecordsOnEveryTick(t *testing.T) {
	sampler := &fakeSampler{}
	writer := &fakeWriter{}
	reg := prometheus.NewRegistry()

	r := New(logr.Discard(), sampler, writer, 10*time.Millisecond, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, atomic.LoadInt32(&sampler.collects), int32(0))
	assert.Equal(t, atomic.LoadInt32(&sampler.collects), atomic.LoadInt32(&writer.puts))
}

func TestRecorderRetriesTransientWriteFailure(t *testing.T) {
	sampler := &fakeSampler{}
	writer := &fakeWriter{failUntil: 2}
	reg := prometheus.NewRegistry()

	r := New(logr.Discard(), sampler, writer, time.Hour, reg)

	require.NoError(t, r.putWithRetry(context.Background(), time.Now(), &store.DataFrame{Sample: &sample.Sample{}}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&writer.puts))
}

func TestRecorderStopEndsRunLoop(t *testing.T) {
	sampler := &fakeSampler{}
	writer := &fakeWriter{}
	reg := prometheus.NewRegistry()

	r := New(logr.Discard(), sampler, writer, 10*time.Millisecond, reg)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	time.Sleep(25 * time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRecorderCountsCollectErrors(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("boom")}
	writer := &fakeWriter{}
	reg := prometheus.NewRegistry()

	r := New(logr.Discard(), sampler, writer, time.Hour, reg)
	r.recordOne(context.Background(), time.Now())

	assert.Equal(t, int32(0), atomic.LoadInt32(&writer.puts))
}
