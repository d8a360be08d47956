// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTripAllFormats(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	combos := []struct {
		format WireFormat
		comp   CompressionMode
	}{
		{FormatCBOR, CompressionNone},
		{FormatCBOR, CompressionZstd},
		{FormatLegacy, CompressionNone},
		{FormatLegacy, CompressionZstd},
	}

	for i, c := range combos {
		ts := base.Add(time.Duration(i) * time.Second)
		w, err := Open(logr.Discard(), dir, c.comp, c.format, ts)
		require.NoError(t, err)
		_, err = w.Put(ts, &DataFrame{Sample: sampleAt(ts, "mixed-flags")})
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()

	for i := range combos {
		ts, frame, ok := cur.Next(Forward)
		require.True(t, ok, "entry %d", i)
		assert.Equal(t, "mixed-flags", frame.Sample.System.Hostname)
		assert.Equal(t, base.Add(time.Duration(i)*time.Second).Unix(), ts.Unix())
	}

	_, _, ok := cur.Next(Forward)
	assert.False(t, ok, "no more entries after the last write")
}

func TestCursorSkipsCorruptIndexEntry(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	w, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, base)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		_, err := w.Put(ts, &DataFrame{Sample: sampleAt(ts, "corrupt-index")})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	idxPath := indexPath(dir, shardOf(base.Unix()))
	f, err := os.OpenFile(idxPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	// flip a byte inside the second entry's timestamp field, corrupting its CRC
	_, err = f.WriteAt([]byte{0xFF}, indexEntrySize+0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()

	_, _, ok := cur.Next(Forward)
	require.True(t, ok) // entry 0, untouched

	_, _, ok = cur.Next(Forward)
	require.True(t, ok) // entry 1 is a CRC hole; Next skips straight to entry 2
}

func TestCursorDataCRCMismatchStillYieldsKey(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	w, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, base)
	require.NoError(t, err)
	_, err = w.Put(base, &DataFrame{Sample: sampleAt(base, "data-crc")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dataFile, err := os.OpenFile(dataPath(dir, shardOf(base.Unix())), os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = dataFile.WriteAt([]byte{0x00}, 0)
	require.NoError(t, err)
	require.NoError(t, dataFile.Close())

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()

	require.True(t, cur.Advance(Forward))
	ts, ok := cur.GetKey()
	assert.True(t, ok)
	assert.Equal(t, base.Unix(), ts.Unix())

	_, _, ok = cur.Get()
	assert.False(t, ok)
}

func TestCursorJumpToKey(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	w, err := Open(logr.Discard(), dir, CompressionNone, FormatCBOR, base)
	require.NoError(t, err)
	var timestamps []time.Time
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i*10) * time.Second)
		timestamps = append(timestamps, ts)
		_, err := w.Put(ts, &DataFrame{Sample: sampleAt(ts, "jump")})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	cur := NewCursor(logr.Discard(), dir)
	defer cur.Close()

	ok := cur.JumpToKey(base.Add(23*time.Second), Forward)
	require.True(t, ok)
	ts, found := cur.GetKey()
	require.True(t, found)
	assert.Equal(t, timestamps[3].Unix(), ts.Unix())

	ok = cur.JumpToKey(base.Add(23*time.Second), Reverse)
	require.True(t, ok)
	ts, found = cur.GetKey()
	require.True(t, found)
	assert.Equal(t, timestamps[2].Unix(), ts.Unix())
}
