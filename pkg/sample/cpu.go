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

	"github.com/facebookincubator/below-sub000/pkg/errors"
	"github.com/go-logr/logr"
)

func init() {
	Register(SubsystemCPU, func(logger logr.Logger, config Config) (Collector, error) {
		return NewStatCollector(logger, config), nil
	})
}

var _ Collector = (*StatCollector)(nil)

// StatCollector reads /proc/stat: per-CPU jiffy buckets plus the process
// count scalars on the same file.
//
// Reference: https://www.kernel.org/doc/html/latest/filesystems/proc.html#proc-stat
type StatCollector struct {
	BaseCollector
	path string
}

func NewStatCollector(logger logr.Logger, config Config) *StatCollector {
	return &StatCollector{
		BaseCollector: NewBaseCollector(SubsystemCPU, "stat", logger, config),
		path:          filepath.Join(config.HostProcPath, "stat"),
	}
}

func (c *StatCollector) Collect(ctx context.Context) (any, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := Stat{PerCPU: make(map[string]CPUStat)}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch {
		case fields[0] == "cpu":
			out.TotalCPU = parseCPUStatFields(c, fields[1:])
		case strings.HasPrefix(fields[0], "cpu"):
			if isCPULine(fields[0]) {
				out.PerCPU[fields[0]] = parseCPUStatFields(c, fields[1:])
			}
		case fields[0] == "processes" && len(fields) >= 2:
			out.Processes = parseU64(c, fields[0], fields[1])
		case fields[0] == "procs_running" && len(fields) >= 2:
			out.ProcsRunning = parseU64(c, fields[0], fields[1])
		case fields[0] == "procs_blocked" && len(fields) >= 2:
			out.ProcsBlocked = parseU64(c, fields[0], fields[1])
		case fields[0] == "btime" && len(fields) >= 2:
			v, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				c.Logger().V(2).Info("failed to parse btime", "error", err)
				continue
			}
			out.BootTimeSec = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func isCPULine(name string) bool {
	if name == "cpu" {
		return true
	}
	if !strings.HasPrefix(name, "cpu") {
		return false
	}
	rest := name[3:]
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseCPUStatFields(c *StatCollector, fields []string) CPUStat {
	var s CPUStat
	get := func(i int) *uint64 {
		if i >= len(fields) {
			return nil
		}
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			c.Logger().V(2).Info("failed to parse cpu field", "index", i, "error",
				errors.NewParseError(0, "cpu", "uint64", c.path, err))
			return nil
		}
		return &v
	}
	if v := get(0); v != nil {
		s.User = *v
	}
	if v := get(1); v != nil {
		s.Nice = *v
	}
	if v := get(2); v != nil {
		s.System = *v
	}
	if v := get(3); v != nil {
		s.Idle = *v
	}
	s.IOWait = get(4)
	s.IRQ = get(5)
	s.SoftIRQ = get(6)
	s.Steal = get(7)
	s.Guest = get(8)
	s.GuestNice = get(9)
	return s
}

func parseU64(c *StatCollector, item, raw string) uint64 {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.Logger().V(2).Info("failed to parse field", "item", item, "error", err)
		return 0
	}
	return v
}
