// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/facebookincubator/below-sub000/pkg/errors"
)

// Writer appends DataFrames to one shard directory, one process at a
// time (§4.3). It holds a non-blocking advisory exclusive lock on the
// current shard's index file for as long as it's open.
type Writer struct {
	logger logr.Logger
	dir    string
	comp   CompressionMode
	format WireFormat

	shard     int64
	indexFile *os.File
	dataFile  *os.File
	dataLen   int64 // cached length of dataFile; re-checked before every write
}

// Open creates dir if absent, opens (or creates) the shard pair covering
// now, and acquires the writer's exclusive lock. Returns an error if
// another writer already holds the lock for this directory.
func Open(logger logr.Logger, dir string, comp CompressionMode, format WireFormat, now time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	w := &Writer{logger: logger, dir: dir, comp: comp, format: format}
	if err := w.openShard(shardOf(now.Unix())); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openShard(shard int64) error {
	idxPath := indexPath(w.dir, shard)
	dataPathStr := dataPath(w.dir, shard)

	idxFile, err := os.OpenFile(idxPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", idxPath, err)
	}
	if err := unix.Flock(int(idxFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		idxFile.Close()
		return errors.NewLockContention(w.dir)
	}

	dataFile, err := os.OpenFile(dataPathStr, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		idxFile.Close()
		return fmt.Errorf("store: open %s: %w", dataPathStr, err)
	}

	if err := padIndexFile(idxFile); err != nil {
		idxFile.Close()
		dataFile.Close()
		return err
	}

	dataFi, err := dataFile.Stat()
	if err != nil {
		idxFile.Close()
		dataFile.Close()
		return fmt.Errorf("store: stat %s: %w", dataPathStr, err)
	}

	w.indexFile = idxFile
	w.dataFile = dataFile
	w.shard = shard
	w.dataLen = dataFi.Size()
	return nil
}

// padIndexFile rounds a partially-written trailing entry up to the next
// 32-byte boundary, the convention that lets Open always assume the
// index file's length is a multiple of indexEntrySize.
func padIndexFile(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("store: stat index: %w", err)
	}
	rem := fi.Size() % indexEntrySize
	if rem == 0 {
		return nil
	}
	pad := make([]byte, indexEntrySize-rem)
	if _, err := f.Write(pad); err != nil {
		return fmt.Errorf("store: pad index: %w", err)
	}
	return nil
}

// Close releases the writer's file handles and lock. Safe to call once.
func (w *Writer) Close() error {
	var errs []error
	if w.dataFile != nil {
		if err := w.dataFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.indexFile != nil {
		if err := w.indexFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("store: close: %v", errs)
	}
	return nil
}

// Put serializes and appends frame, returning true iff timestamp's
// shard differs from the one last written to — in which case the
// writer has already re-opened onto the new shard pair before this
// call returns.
func (w *Writer) Put(timestamp time.Time, frame *DataFrame) (bool, error) {
	crossed := false
	target := shardOf(timestamp.Unix())
	if target != w.shard {
		if err := w.crossover(target); err != nil {
			return false, err
		}
		crossed = true
	}

	payload, flags, err := encodeFrame(frame, w.format, w.comp)
	if err != nil {
		return crossed, err
	}

	fi, err := w.dataFile.Stat()
	if err != nil {
		return crossed, fmt.Errorf("store: stat data file: %w", err)
	}
	if fi.Size() != w.dataLen {
		w.logger.V(0).Info("store: data file length drifted from cache, trusting observed length",
			"cached", w.dataLen, "observed", fi.Size())
		w.dataLen = fi.Size()
	}

	offset := w.dataLen
	if _, err := w.dataFile.Write(payload); err != nil {
		return crossed, fmt.Errorf("store: write data: %w", err)
	}
	w.dataLen += int64(len(payload))

	entry := indexEntry{
		Timestamp: uint64(timestamp.Unix()),
		Offset:    uint64(offset),
		Length:    uint32(len(payload)),
		Flags:     flags,
		DataCRC:   crc32Of(payload),
	}
	buf := encodeIndexEntry(entry)
	if _, err := w.indexFile.Write(buf[:]); err != nil {
		return crossed, fmt.Errorf("store: write index entry: %w", err)
	}

	return crossed, nil
}

// crossover drops the current shard's handles (and lock) and opens the
// new shard pair, creating it if this is its first write.
func (w *Writer) crossover(target int64) error {
	if err := w.Close(); err != nil {
		return err
	}
	return w.openShard(target)
}

// DiscardEarlier removes every shard pair strictly older than
// timestamp's shard. The currently-open shard is never removed even if
// it happens to qualify, since the writer still holds it open.
func (w *Writer) DiscardEarlier(timestamp time.Time) error {
	cutoff := shardOf(timestamp.Unix())
	shards, err := listShards(w.dir)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if shard >= cutoff || shard == w.shard {
			continue
		}
		if err := removeShard(w.dir, shard); err != nil {
			return err
		}
	}
	return nil
}

// TryDiscardUntilSize removes the oldest non-current shard pairs, one
// at a time, until the directory's total on-disk size is at or below
// byteLimit. Returns true iff that target was reached; false if only
// the current shard remains and it alone still exceeds the limit.
func (w *Writer) TryDiscardUntilSize(byteLimit int64) (bool, error) {
	for {
		shards, err := listShards(w.dir)
		if err != nil {
			return false, err
		}
		total, err := totalSizeBytes(w.dir, shards)
		if err != nil {
			return false, err
		}
		if total <= byteLimit {
			return true, nil
		}

		oldest, ok := oldestRemovable(shards, w.shard)
		if !ok {
			return false, nil
		}
		if err := removeShard(w.dir, oldest); err != nil {
			return false, err
		}
	}
}

func oldestRemovable(shards []int64, current int64) (int64, bool) {
	for _, s := range shards {
		if s != current {
			return s, true
		}
	}
	return 0, false
}

func totalSizeBytes(dir string, shards []int64) (int64, error) {
	var total int64
	for _, s := range shards {
		n, err := shardSizeBytes(dir, s)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
