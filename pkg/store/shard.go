// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	secondsPerShard = 86400

	indexPrefix = "index_"
	dataPrefix  = "data_"

	shardDigits = 11

	// indexEntrySize is the fixed on-disk width of one index record (§3.4).
	indexEntrySize = 32
)

// shardOf maps a unix-seconds timestamp to its shard number: floor(t/86400).
func shardOf(unixSeconds int64) int64 {
	if unixSeconds < 0 {
		// floor division toward negative infinity
		return (unixSeconds - (secondsPerShard - 1)) / secondsPerShard
	}
	return unixSeconds / secondsPerShard
}

func indexFileName(shard int64) string {
	return fmt.Sprintf("%s%0*d", indexPrefix, shardDigits, shard)
}

func dataFileName(shard int64) string {
	return fmt.Sprintf("%s%0*d", dataPrefix, shardDigits, shard)
}

func indexPath(dir string, shard int64) string {
	return filepath.Join(dir, indexFileName(shard))
}

func dataPath(dir string, shard int64) string {
	return filepath.Join(dir, dataFileName(shard))
}

// listShards re-scans dir for index_<shard> files and returns their shard
// numbers in ascending order. Called fresh on every shard transition so a
// concurrently-writing recorder's new shards become visible immediately
// (§4.4 shard discovery).
func listShards(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	shards := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), indexPrefix) {
			continue
		}
		suffix := strings.TrimPrefix(e.Name(), indexPrefix)
		n, err := strconv.ParseUint(suffix, 10, 63)
		if err != nil {
			continue
		}
		shards = append(shards, int64(n))
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })
	return shards, nil
}

// shardSizeBytes sums the on-disk size of one shard's index+data pair.
func shardSizeBytes(dir string, shard int64) (int64, error) {
	var total int64
	for _, p := range []string{indexPath(dir, shard), dataPath(dir, shard)} {
		fi, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += fi.Size()
	}
	return total, nil
}

func removeShard(dir string, shard int64) error {
	if err := os.Remove(indexPath(dir, shard)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(dataPath(dir, shard)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
