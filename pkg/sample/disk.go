// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

const diskstatsFieldCount = 14

func init() {
	Register(SubsystemDisk, func(logger logr.Logger, config Config) (Collector, error) {
		return NewDiskCollector(logger, config), nil
	})
}

var _ Collector = (*DiskCollector)(nil)

// DiskCollector reads /proc/diskstats. Sectors are 512 bytes, times in
// milliseconds; no unit conversion is applied here — the model layer
// derives per-second rates from these raw counters.
//
// Reference: https://www.kernel.org/doc/html/latest/admin-guide/iostats.html
type DiskCollector struct {
	BaseCollector
	path string
}

func NewDiskCollector(logger logr.Logger, config Config) *DiskCollector {
	return &DiskCollector{
		BaseCollector: NewBaseCollector(SubsystemDisk, "diskstats", logger, config),
		path:          filepath.Join(config.HostProcPath, "diskstats"),
	}
}

func (c *DiskCollector) Collect(ctx context.Context) (any, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]DiskStat)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < diskstatsFieldCount {
			continue
		}

		major, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		minor, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}
		name := fields[2]

		d := DiskStat{Major: uint32(major), Minor: uint32(minor)}
		vals := make([]uint64, 0, 11)
		ok := true
		for _, f := range fields[3:14] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				ok = false
				break
			}
			vals = append(vals, v)
		}
		if !ok {
			c.Logger().V(2).Info("failed to parse diskstats row", "device", name)
			continue
		}
		d.ReadsCompleted, d.ReadsMerged, d.SectorsRead, d.ReadTimeMs = vals[0], vals[1], vals[2], vals[3]
		d.WritesCompleted, d.WritesMerged, d.SectorsWritten, d.WriteTimeMs = vals[4], vals[5], vals[6], vals[7]
		d.IOsInProgress, d.IOTimeMs, d.WeightedIOTimeMs = vals[8], vals[9], vals[10]

		out[name] = d
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsPartition reports whether device looks like a partition of a whole
// disk (e.g. "sda1" vs "sda", "nvme0n1p1" vs "nvme0n1").
func IsPartition(device string) bool {
	if device == "" {
		return false
	}
	last := device[len(device)-1]
	if last < '0' || last > '9' {
		return false
	}
	if strings.Contains(device, "nvme") {
		return strings.Contains(device, "p")
	}
	return true
}
