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

	mmap "github.com/edsrzf/mmap-go"
	"github.com/go-logr/logr"

	"github.com/facebookincubator/below-sub000/pkg/errors"
)

// Direction is the navigation direction shared by Cursor and Advance.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Position is a cursor's (shard, entry index) pair, exposed so callers
// can save and later restore a read position (§4.4 Offset).
type Position struct {
	Valid bool
	Shard int64
	Index int64 // 0-based entry index within the shard's index file
}

// Cursor is a read-only, mmap-backed iterator over one store directory.
// It never caches a directory listing across shard transitions (§4.4
// shard discovery) and re-maps a shard's files if they grow.
type Cursor struct {
	logger logr.Logger
	dir    string

	pos Position

	mappedShard  int64
	shardMapped  bool
	indexFile    *os.File
	dataFile     *os.File
	indexMap     mmap.MMap
	dataMap      mmap.MMap
	indexEntries int64
}

// NewCursor opens a cursor positioned before the first entry.
func NewCursor(logger logr.Logger, dir string) *Cursor {
	return &Cursor{logger: logger, dir: dir}
}

// Close unmaps and closes any open shard files.
func (c *Cursor) Close() error {
	return c.unmapCurrent()
}

func (c *Cursor) unmapCurrent() error {
	if !c.shardMapped {
		return nil
	}
	var errs []error
	if c.indexMap != nil {
		if err := c.indexMap.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.dataMap != nil {
		if err := c.dataMap.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.indexFile != nil {
		c.indexFile.Close()
	}
	if c.dataFile != nil {
		c.dataFile.Close()
	}
	c.shardMapped = false
	c.indexMap, c.dataMap = nil, nil
	c.indexFile, c.dataFile = nil, nil
	c.indexEntries = 0
	if len(errs) > 0 {
		return fmt.Errorf("store: unmap: %v", errs)
	}
	return nil
}

// ensureMapped maps shard's index/data files if not already mapped, or
// re-maps them if the on-disk index has grown since the last mapping —
// the mechanism by which live tailing observes recorder writes.
func (c *Cursor) ensureMapped(shard int64) error {
	idxPath := indexPath(c.dir, shard)
	idxFi, err := os.Stat(idxPath)
	if err != nil {
		return err
	}

	if c.shardMapped && c.mappedShard == shard {
		if idxFi.Size() <= int64(len(c.indexMap)) {
			return nil
		}
		if err := c.unmapCurrent(); err != nil {
			return err
		}
	} else if c.shardMapped {
		if err := c.unmapCurrent(); err != nil {
			return err
		}
	}

	idxFile, err := os.Open(idxPath)
	if err != nil {
		return err
	}
	var idxMap mmap.MMap
	if idxFi.Size() > 0 {
		idxMap, err = mmap.MapRegion(idxFile, int(idxFi.Size()), mmap.RDONLY, 0, 0)
		if err != nil {
			idxFile.Close()
			return fmt.Errorf("store: mmap %s: %w", idxPath, err)
		}
	}

	dataPathStr := dataPath(c.dir, shard)
	dataFile, err := os.Open(dataPathStr)
	if err != nil {
		idxFile.Close()
		return err
	}
	dataFi, err := dataFile.Stat()
	if err != nil {
		idxFile.Close()
		dataFile.Close()
		return err
	}
	var dataMap mmap.MMap
	if dataFi.Size() > 0 {
		dataMap, err = mmap.MapRegion(dataFile, int(dataFi.Size()), mmap.RDONLY, 0, 0)
		if err != nil {
			idxFile.Close()
			dataFile.Close()
			return fmt.Errorf("store: mmap %s: %w", dataPathStr, err)
		}
	}

	c.indexFile, c.dataFile = idxFile, dataFile
	c.indexMap, c.dataMap = idxMap, dataMap
	c.mappedShard = shard
	c.shardMapped = true
	c.indexEntries = int64(len(idxMap)) / indexEntrySize
	return nil
}

func (c *Cursor) entryAt(idx int64) (indexEntry, bool) {
	if idx < 0 || idx >= c.indexEntries {
		return indexEntry{}, false
	}
	buf := c.indexMap[idx*indexEntrySize : (idx+1)*indexEntrySize]
	if !validIndexCRC(buf) {
		err := errors.NewCRCMismatch(errors.CRCKindIndexEntry, c.mappedShard, idx)
		c.logger.V(1).Info("store: treating as hole", "error", err)
		return indexEntry{}, false
	}
	return decodeIndexEntry(buf), true
}

// GetOffset returns the cursor's current position.
func (c *Cursor) GetOffset() Position { return c.pos }

// SetOffset seeks to an explicit position. An invalid position is
// permitted; the next Advance repairs to the nearest valid neighbor.
func (c *Cursor) SetOffset(p Position) { c.pos = p }

// GetKey returns the timestamp of the current entry if its index
// record is valid, even when the referenced data is corrupt.
func (c *Cursor) GetKey() (time.Time, bool) {
	if !c.pos.Valid {
		return time.Time{}, false
	}
	if err := c.ensureMapped(c.pos.Shard); err != nil {
		return time.Time{}, false
	}
	e, ok := c.entryAt(c.pos.Index)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(e.Timestamp), 0).UTC(), true
}

// Get materializes the current entry's frame. Returns false if the
// cursor is uninitialized, the index entry is a hole, the data is
// CRC-bad, or decoding fails — all equally "skip and move on".
func (c *Cursor) Get() (time.Time, *DataFrame, bool) {
	if !c.pos.Valid {
		return time.Time{}, nil, false
	}
	if err := c.ensureMapped(c.pos.Shard); err != nil {
		return time.Time{}, nil, false
	}
	e, ok := c.entryAt(c.pos.Index)
	if !ok {
		return time.Time{}, nil, false
	}

	ts := time.Unix(int64(e.Timestamp), 0).UTC()
	if e.Offset+uint64(e.Length) > uint64(len(c.dataMap)) {
		c.logger.V(1).Info("store: index entry points past end of data file", "shard", c.mappedShard, "index", c.pos.Index)
		return ts, nil, false
	}
	raw := c.dataMap[e.Offset : e.Offset+uint64(e.Length)]
	if crc32Of(raw) != e.DataCRC {
		err := errors.NewCRCMismatch(errors.CRCKindData, c.mappedShard, int64(e.Offset))
		c.logger.V(1).Info("store: skipping corrupt record", "error", err)
		return ts, nil, false
	}

	frame, err := decodeFrame(raw, e.Flags)
	if err != nil {
		c.logger.V(1).Info("store: frame decode failed", "shard", c.mappedShard, "index", c.pos.Index, "error", err)
		return ts, nil, false
	}
	return ts, frame, true
}

// Advance steps one index entry in direction, crossing shard boundaries
// as needed. Returns false only when no further position exists right
// now; the store directory is re-listed on every shard transition.
func (c *Cursor) Advance(dir Direction) bool {
	shards, err := listShards(c.dir)
	if err != nil || len(shards) == 0 {
		return false
	}

	if !c.pos.Valid {
		return c.seekToEnd(shards, dir)
	}

	if err := c.ensureMapped(c.pos.Shard); err != nil {
		return false
	}
	next := c.pos.Index + stepOf(dir)
	if next >= 0 && next < c.indexEntries {
		c.pos.Index = next
		return true
	}

	curPos := shardListIndex(shards, c.pos.Shard)
	for i := curPos + stepOf(dir); i >= 0 && i < int64(len(shards)); i += stepOf(dir) {
		shard := shards[i]
		if err := c.ensureMapped(shard); err != nil {
			continue
		}
		if c.indexEntries == 0 {
			continue
		}
		c.pos.Shard = shard
		if dir == Forward {
			c.pos.Index = 0
		} else {
			c.pos.Index = c.indexEntries - 1
		}
		return true
	}
	return false
}

func stepOf(dir Direction) int64 {
	if dir == Forward {
		return 1
	}
	return -1
}

func shardListIndex(shards []int64, shard int64) int64 {
	for i, s := range shards {
		if s == shard {
			return int64(i)
		}
	}
	return -1
}

func (c *Cursor) seekToEnd(shards []int64, dir Direction) bool {
	start, stop, step := int64(0), int64(len(shards)), int64(1)
	if dir == Reverse {
		start, stop, step = int64(len(shards))-1, -1, -1
	}
	for i := start; i != stop; i += step {
		shard := shards[i]
		if err := c.ensureMapped(shard); err != nil {
			continue
		}
		if c.indexEntries == 0 {
			continue
		}
		c.pos.Valid = true
		c.pos.Shard = shard
		if dir == Forward {
			c.pos.Index = 0
		} else {
			c.pos.Index = c.indexEntries - 1
		}
		return true
	}
	return false
}

// Next advances repeatedly until Get succeeds or no further position
// exists, restoring the original offset on exhaustion.
func (c *Cursor) Next(dir Direction) (time.Time, *DataFrame, bool) {
	saved := c.pos
	for {
		if !c.Advance(dir) {
			c.pos = saved
			return time.Time{}, nil, false
		}
		if ts, frame, ok := c.Get(); ok {
			return ts, frame, true
		}
	}
}

// JumpNearKey is a seek hint: it estimates an entry index within key's
// shard by interpolating against the shard's last entry, without
// guaranteeing an exact landing. Correctness of subsequent navigation
// doesn't depend on the estimate being accurate.
func (c *Cursor) JumpNearKey(key time.Time, dir Direction) {
	shard := shardOf(key.Unix())
	if err := c.ensureMapped(shard); err != nil || c.indexEntries == 0 {
		c.pos = Position{Valid: false}
		return
	}

	lastEntry, ok := c.entryAt(c.indexEntries - 1)
	if !ok {
		c.pos = Position{Valid: true, Shard: shard, Index: c.indexEntries - 1}
		return
	}

	keyMod := key.Unix() % secondsPerShard
	lastMod := int64(lastEntry.Timestamp) % secondsPerShard
	if lastMod == 0 {
		c.pos = Position{Valid: true, Shard: shard, Index: c.indexEntries - 1}
		return
	}

	estimate := (c.indexEntries - 1) * keyMod / lastMod
	if estimate < 0 {
		estimate = 0
	}
	if estimate >= c.indexEntries {
		estimate = c.indexEntries - 1
	}
	c.pos = Position{Valid: true, Shard: shard, Index: estimate}
}

// JumpToKey positions on the closest entry satisfying direction's order
// relation with key: Forward means "key's timestamp >= key", Reverse
// means "<= key". Returns true iff such a position was found.
func (c *Cursor) JumpToKey(key time.Time, dir Direction) bool {
	c.JumpNearKey(key, dir)

	opposite := Reverse
	if dir == Reverse {
		opposite = Forward
	}
	if !c.pos.Valid {
		// key's own shard has no entries: start from the store's far end
		// on the opposite side and let the scans below find the entry.
		if !c.Advance(opposite) {
			return false
		}
	}
	for {
		ts, ok := c.GetKey()
		if !ok {
			if !c.Advance(opposite) {
				break
			}
			continue
		}
		if onWrongSide(ts, key, dir) {
			if !c.Advance(opposite) {
				break
			}
			continue
		}
		break
	}

	for {
		ts, ok := c.GetKey()
		if ok && satisfies(ts, key, dir) {
			return true
		}
		if !c.Advance(dir) {
			return false
		}
	}
}

// onWrongSide reports whether ts is on the side of key that the
// *opposite* of dir owns — i.e. whether stepping opposite from ts would
// still need to keep moving to reach the dir-satisfying region.
func onWrongSide(ts, key time.Time, dir Direction) bool {
	if dir == Forward {
		return ts.After(key)
	}
	return ts.Before(key)
}

func satisfies(ts, key time.Time, dir Direction) bool {
	if dir == Forward {
		return !ts.Before(key)
	}
	return !ts.After(key)
}

// GetNear jumps to key (preferring preferredDirection on ties) and
// materializes the resulting entry.
func (c *Cursor) GetNear(key time.Time, preferredDirection Direction) (time.Time, *DataFrame, bool) {
	if !c.JumpToKey(key, preferredDirection) {
		return time.Time{}, nil, false
	}
	return c.Get()
}

// GetNext jumps to key in dir, then advances past any corrupt entries
// until a valid frame materializes.
func (c *Cursor) GetNext(key time.Time, dir Direction) (time.Time, *DataFrame, bool) {
	if !c.JumpToKey(key, dir) {
		return time.Time{}, nil, false
	}
	if ts, frame, ok := c.Get(); ok {
		return ts, frame, true
	}
	return c.Next(dir)
}
