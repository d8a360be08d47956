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

	"github.com/facebookincubator/below-sub000/pkg/errors"
)

func init() {
	Register(SubsystemMemory, func(logger logr.Logger, config Config) (Collector, error) {
		return NewMemInfoCollector(logger, config), nil
	})
	Register(SubsystemVMStat, func(logger logr.Logger, config Config) (Collector, error) {
		return NewVMStatCollector(logger, config), nil
	})
}

var _ Collector = (*MemInfoCollector)(nil)

// MemInfoCollector reads /proc/meminfo. Values reported in kB are
// converted to bytes; MemAvailable is absent on kernels older than 3.14
// and is left nil rather than zero in that case.
//
// Reference: https://www.kernel.org/doc/html/latest/filesystems/proc.html#meminfo
type MemInfoCollector struct {
	BaseCollector
	path string
}

func NewMemInfoCollector(logger logr.Logger, config Config) *MemInfoCollector {
	return &MemInfoCollector{
		BaseCollector: NewBaseCollector(SubsystemMemory, "meminfo", logger, config),
		path:          filepath.Join(config.HostProcPath, "meminfo"),
	}
}

func (c *MemInfoCollector) Collect(ctx context.Context) (any, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw := make(map[string]uint64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			c.Logger().V(2).Info("skipping line", "error", errors.NewUnexpectedLine(c.path, line))
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			c.Logger().V(2).Info("failed to parse meminfo field", "field", name, "error", err)
			continue
		}
		raw[name] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	kb := func(name string) uint64 { return raw[name] * 1024 }

	m := MemInfo{
		MemTotal:       kb("MemTotal"),
		MemFree:        kb("MemFree"),
		Buffers:        kb("Buffers"),
		Cached:         kb("Cached"),
		SwapCached:     kb("SwapCached"),
		Active:         kb("Active"),
		Inactive:       kb("Inactive"),
		SwapTotal:      kb("SwapTotal"),
		SwapFree:       kb("SwapFree"),
		Dirty:          kb("Dirty"),
		Writeback:      kb("Writeback"),
		AnonPages:      kb("AnonPages"),
		Mapped:         kb("Mapped"),
		Shmem:          kb("Shmem"),
		Slab:           kb("Slab"),
		SReclaimable:   kb("SReclaimable"),
		SUnreclaim:     kb("SUnreclaim"),
		KernelStack:    kb("KernelStack"),
		PageTables:     kb("PageTables"),
		CommitLimit:    kb("CommitLimit"),
		CommittedAS:    kb("Committed_AS"),
		VmallocTotal:   kb("VmallocTotal"),
		VmallocUsed:    kb("VmallocUsed"),
		HugePageSize:   kb("Hugepagesize"),
	}
	if v, ok := raw["MemAvailable"]; ok {
		bytes := v * 1024
		m.MemAvailable = &bytes
	}
	m.HugePagesTotal = raw["HugePages_Total"] * m.HugePageSize
	m.HugePagesFree = raw["HugePages_Free"] * m.HugePageSize

	return m, nil
}

var _ Collector = (*VMStatCollector)(nil)

// VMStatCollector reads the subset of /proc/vmstat used for fault and
// reclaim rate derivation.
type VMStatCollector struct {
	BaseCollector
	path string
}

func NewVMStatCollector(logger logr.Logger, config Config) *VMStatCollector {
	return &VMStatCollector{
		BaseCollector: NewBaseCollector(SubsystemVMStat, "vmstat", logger, config),
		path:          filepath.Join(config.HostProcPath, "vmstat"),
	}
}

func (c *VMStatCollector) Collect(ctx context.Context) (any, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out VMStat
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			c.Logger().V(2).Info("skipping line", "error", errors.NewUnexpectedLine(c.path, line))
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			c.Logger().V(2).Info("failed to parse vmstat field", "field", fields[0], "error", err)
			continue
		}
		switch fields[0] {
		case "pgfault":
			out.PgFault = v
		case "pgmajfault":
			out.PgMajFault = v
		case "pgfree":
			out.PgFree = v
		case "pgscan_kswapd":
			out.PgScanKswapd = v
		case "pgscan_direct":
			out.PgScanDirect = v
		case "pgsteal_kswapd":
			out.PgSteal += v
		case "pgsteal_direct":
			out.PgSteal += v
		case "oom_kill":
			out.OOMKill = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
