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

	"github.com/facebookincubator/below-sub000/pkg/sample"
)

func sampleAt(t time.Time, hostname string) *sample.Sample {
	return &sample.Sample{
		Timestamp: t,
		System: sample.System{
			Hostname: hostname,
			Mem:      sample.MemInfo{MemTotal: 16 << 30},
		},
	}
}

func TestWriterPutAppendsAndReports(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, base)
	require.NoError(t, err)
	defer w.Close()

	crossed, err := w.Put(base, &DataFrame{Sample: sampleAt(base, "host-a")})
	require.NoError(t, err)
	assert.False(t, crossed)

	crossed, err = w.Put(base.Add(time.Second), &DataFrame{Sample: sampleAt(base.Add(time.Second), "host-a")})
	require.NoError(t, err)
	assert.False(t, crossed)

	shards, err := listShards(dir)
	require.NoError(t, err)
	assert.Equal(t, []int64{shardOf(base.Unix())}, shards)
}

func TestWriterShardCrossover(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	w, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, day1)
	require.NoError(t, err)
	defer w.Close()

	crossed, err := w.Put(day1, &DataFrame{Sample: sampleAt(day1, "h")})
	require.NoError(t, err)
	assert.False(t, crossed)

	crossed, err = w.Put(day2, &DataFrame{Sample: sampleAt(day2, "h")})
	require.NoError(t, err)
	assert.True(t, crossed)

	shards, err := listShards(dir)
	require.NoError(t, err)
	assert.Len(t, shards, 2)
}

func TestWriterLockContention(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	w1, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, now)
	require.NoError(t, err)
	defer w1.Close()

	_, err = Open(logr.Discard(), dir, CompressionNone, FormatCBOR, now)
	assert.Error(t, err)
}

func TestWriterDiscardEarlier(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, base)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 24 * time.Hour)
		_, err := w.Put(ts, &DataFrame{Sample: sampleAt(ts, "h")})
		require.NoError(t, err)
	}

	shards, err := listShards(dir)
	require.NoError(t, err)
	require.Len(t, shards, 3)

	err = w.DiscardEarlier(base.Add(2 * 24 * time.Hour))
	require.NoError(t, err)

	shards, err = listShards(dir)
	require.NoError(t, err)
	assert.Equal(t, []int64{shardOf(base.Add(2 * 24 * time.Hour).Unix())}, shards)
}

func TestWriterTryDiscardUntilSize(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, base)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * 24 * time.Hour)
		_, err := w.Put(ts, &DataFrame{Sample: sampleAt(ts, "host-with-a-somewhat-longer-name-to-pad-bytes")})
		require.NoError(t, err)
	}

	met, err := w.TryDiscardUntilSize(1)
	require.NoError(t, err)
	assert.False(t, met, "current shard alone still exceeds a 1-byte limit")

	shards, err := listShards(dir)
	require.NoError(t, err)
	assert.Equal(t, []int64{shardOf(base.Add(4 * 24 * time.Hour).Unix())}, shards)
}
