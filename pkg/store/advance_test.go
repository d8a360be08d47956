// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/below-sub000/pkg/model"
	"github.com/facebookincubator/below-sub000/pkg/sample"
)

// sampleCounters builds a Sample whose page-fault counter is set to a
// known value, so the derived Model's rate fields can be checked.
func sampleCounters(ts time.Time, pgFault uint64) *sample.Sample {
	return &sample.Sample{
		Timestamp: ts,
		System: sample.System{
			Hostname: "advance-test",
			VMStat:   sample.VMStat{PgFault: pgFault},
		},
	}
}

// writeTicks writes one sample at each listed second, e.g. {3,10,20,50}
// (each sample's pgfault counter equal to the tick value for an easy
// rate check: Δpgfault/Δt = 1 when adjacent).
func writeTicks(t *testing.T, dir string, base time.Time, ticks []int) {
	t.Helper()
	w, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, base)
	require.NoError(t, err)
	defer w.Close()
	for _, tick := range ticks {
		ts := base.Add(time.Duration(tick) * time.Second)
		_, err := w.Put(ts, &DataFrame{Sample: sampleCounters(ts, uint64(tick))})
		require.NoError(t, err)
	}
}

// assertWindow checks a Model's (newer timestamp, Δ) against the
// expected values, which is enough to pin down the full (older, newer,
// Δ) triple since older = newer - Δ.
func assertWindow(t *testing.T, base time.Time, m *model.Model, newerTick int, delta time.Duration) {
	t.Helper()
	require.NotNil(t, m)
	assert.Equal(t, base.Add(time.Duration(newerTick)*time.Second).Unix(), m.Timestamp.Unix())
	require.NotNil(t, m.Delta)
	assert.Equal(t, delta, *m.Delta)
}

// TestAdvanceForwardThenReverseFlip walks the spec's {3,10,20,50}
// invariant example in full: Forward to exhaustion, then Reverse. The
// Reverse leg must replay (10,20,Δ10), (3,10,Δ7) then None — never
// re-emitting the last Forward window (20,50).
func TestAdvanceForwardThenReverseFlip(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	writeTicks(t, dir, base, []int{3, 10, 20, 50})

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()
	a := NewAdvance(cur)

	require.True(t, a.Initialize(base))
	assert.Equal(t, base.Add(3*time.Second).Unix(), a.cachedAt.Unix())

	assertWindow(t, base, a.Advance(Forward), 10, 7*time.Second)
	assertWindow(t, base, a.Advance(Forward), 20, 10*time.Second)
	assertWindow(t, base, a.Advance(Forward), 50, 30*time.Second)

	for i := 0; i < 3; i++ {
		assert.Nil(t, a.Advance(Forward))
	}
	assert.Equal(t, base.Add(50*time.Second).Unix(), a.cachedAt.Unix())

	assertWindow(t, base, a.Advance(Reverse), 20, 10*time.Second)
	assertWindow(t, base, a.Advance(Reverse), 10, 7*time.Second)
	assert.Equal(t, stateReverse, a.state)

	for i := 0; i < 3; i++ {
		assert.Nil(t, a.Advance(Reverse))
	}
	assert.Equal(t, base.Add(3*time.Second).Unix(), a.cachedAt.Unix())
}

func TestAdvanceExhaustionLeavesStateUnchanged(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	writeTicks(t, dir, base, []int{3, 10})

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()
	a := NewAdvance(cur)

	require.True(t, a.Initialize(base))
	m := a.Advance(Forward)
	require.NotNil(t, m)

	beforeTarget := a.target
	m = a.Advance(Forward)
	assert.Nil(t, m)
	assert.Equal(t, beforeTarget, a.target, "exhaustion must not move the target")
}

func TestAdvanceJumpToAndGetLatest(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
	writeTicks(t, dir, base, []int{3, 10, 20, 50})

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()
	a := NewAdvance(cur)

	// jump_to forward-searches to 20, then pairs it with its older
	// neighbor 10 rather than returning a degenerate single-sample model.
	m := a.JumpTo(base.Add(15 * time.Second))
	assertWindow(t, base, m, 20, 10*time.Second)
	assert.Equal(t, base.Add(20*time.Second).Unix(), a.cachedAt.Unix())
	assert.Equal(t, stateForward, a.state)

	cur2 := NewCursor(logr.Discard(), dir)
	defer cur2.Close()
	a2 := NewAdvance(cur2)
	m = a2.GetLatest()
	assertWindow(t, base, m, 50, 30*time.Second)
	assert.Equal(t, base.Add(50*time.Second).Unix(), a2.cachedAt.Unix())
}

// TestAdvanceJumpToFutureTimestampFallsBackToReverse covers the "seek
// past the end" case: forward search fails outright, so jump_to must
// retry reverse and land on the latest sample instead of giving up.
func TestAdvanceJumpToFutureTimestampFallsBackToReverse(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC)
	writeTicks(t, dir, base, []int{3, 10, 20, 50})

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()
	a := NewAdvance(cur)

	m := a.JumpTo(base.Add(time.Hour))
	assertWindow(t, base, m, 50, 30*time.Second)
	assert.Equal(t, base.Add(50*time.Second).Unix(), a.cachedAt.Unix())
	assert.Equal(t, stateForward, a.state)
}

// TestAdvanceJumpToSingleSampleDegeneratesToSnapshot covers the other
// edge: jump_to landing on the very first sample in the store has no
// older neighbor, so the model must still be returned (as a snapshot
// with nil rate fields) rather than failing.
func TestAdvanceJumpToSingleSampleDegeneratesToSnapshot(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC)
	writeTicks(t, dir, base, []int{3, 10})

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()
	a := NewAdvance(cur)

	m := a.JumpTo(base.Add(3 * time.Second))
	require.NotNil(t, m)
	assert.Equal(t, base.Add(3*time.Second).Unix(), m.Timestamp.Unix())
	assert.Nil(t, m.Delta)
}
