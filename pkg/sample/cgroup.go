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
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/facebookincubator/below-sub000/pkg/errors"
	"github.com/go-logr/logr"
)

func init() {
	Register(SubsystemCgroup, func(logger logr.Logger, config Config) (Collector, error) {
		return NewCgroupCollector(logger, config), nil
	})
}

var _ Collector = (*CgroupCollector)(nil)

// CgroupCollector walks the cgroup v2 hierarchy rooted at Config.CgroupRootPath,
// pre-order, recursively, opening each directory in turn. This has no
// analogue in performance's flat /proc collectors: a cgroup tree shapes
// the whole Sample in a way nothing else in this package does.
type CgroupCollector struct {
	BaseCollector
	root   string
	filter *regexp.Regexp
}

func NewCgroupCollector(logger logr.Logger, config Config) *CgroupCollector {
	return &CgroupCollector{
		BaseCollector: NewBaseCollector(SubsystemCgroup, "cgroup", logger, config),
		root:          config.CgroupRootPath,
		filter:        config.CgroupFilterOut,
	}
}

func (c *CgroupCollector) Collect(ctx context.Context) (any, error) {
	return c.walk("", c.root)
}

// walk reads one cgroup directory and recurses into its children. A
// missing directory (ENOENT/ESRCH-equivalent race: the cgroup was removed
// between readdir and stat) drops that subtree silently rather than
// failing the whole walk.
func (c *CgroupCollector) walk(name, path string) (*CgroupSample, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	node := &CgroupSample{
		Name:     name,
		FullPath: strings.TrimPrefix(path, c.root),
		Inode:    inodeOf(fi),
		Children: make(map[string]*CgroupSample),
	}
	if node.FullPath == "" {
		node.FullPath = "/"
	}

	c.readCPU(path, node)
	c.readIO(path, node)
	c.readMemory(path, node)
	c.readPids(path, node)
	c.readPressure(path, node)
	c.readNUMA(path, node)
	c.readControllers(path, node)

	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return node, nil
	}
	if err != nil {
		c.Logger().V(1).Info("failed to list cgroup directory", "path", path, "error", err)
		return node, nil
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		childPath := filepath.Join(path, e.Name())
		if c.filter != nil && c.filter.MatchString(childPath) {
			continue
		}
		child, err := c.walk(e.Name(), childPath)
		if err != nil {
			c.Logger().V(1).Info("failed to walk cgroup subtree", "path", childPath, "error", err)
			continue
		}
		if child != nil {
			node.Children[e.Name()] = child
		}
	}

	return node, nil
}

func inodeOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}

func (c *CgroupCollector) readCPU(path string, node *CgroupSample) {
	if raw, err := readKVFile(filepath.Join(path, "cpu.stat")); err == nil {
		stat := &CPUStat{}
		if v, ok := raw["usage_usec"]; ok {
			node.CPUUsageUsec = &v
		}
		if v, ok := raw["user_usec"]; ok {
			stat.User = v
		}
		if v, ok := raw["system_usec"]; ok {
			stat.System = v
		}
		node.CPUStat = stat
	}

	cpuMaxPath := filepath.Join(path, "cpu.max")
	if b, err := os.ReadFile(cpuMaxPath); err == nil {
		fields := strings.Fields(string(b))
		if len(fields) != 2 {
			c.Logger().V(1).Info("skipping cpu.max",
				"error", errors.NewInvalidFileFormat(cpuMaxPath, "expected exactly 2 fields"))
		} else {
			max := &CPUMax{}
			if fields[0] != "max" {
				if v, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
					max.QuotaUsec = &v
				}
			}
			if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				max.PeriodUsec = v
			}
			node.CPUMax = max
		}
	}

	if b, err := os.ReadFile(filepath.Join(path, "cpuset.cpus")); err == nil {
		node.CpusetCPUs = strings.TrimSpace(string(b))
	}
	if b, err := os.ReadFile(filepath.Join(path, "cpuset.mems")); err == nil {
		node.CpusetMems = strings.TrimSpace(string(b))
	}
}

// readIO parses io.stat, one line per device: "<major>:<minor> rbytes=N
// wbytes=N rios=N wios=N ...".
func (c *CgroupCollector) readIO(path string, node *CgroupSample) {
	ioStatPath := filepath.Join(path, "io.stat")
	f, err := os.Open(ioStatPath)
	if err != nil {
		return
	}
	defer f.Close()

	out := make(map[string]IOStat)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			c.Logger().V(2).Info("skipping line", "error", errors.NewUnexpectedLine(ioStatPath, line))
			continue
		}
		dev := fields[0]
		stat := IOStat{}
		for _, kv := range fields[1:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				continue
			}
			v, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				c.Logger().V(2).Info("failed to parse io.stat field",
					"error", errors.NewParseError(0, parts[0], "uint64", path, err))
				continue
			}
			switch parts[0] {
			case "rbytes":
				stat.RBytes = &v
			case "wbytes":
				stat.WBytes = &v
			case "rios":
				stat.RIOs = &v
			case "wios":
				stat.WIOs = &v
			}
		}
		out[dev] = stat
	}
	if len(out) > 0 {
		node.IO = out
	}
}

func (c *CgroupCollector) readMemory(path string, node *CgroupSample) {
	if b, err := os.ReadFile(filepath.Join(path, "memory.current")); err == nil {
		if v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64); err == nil {
			node.MemCurrent = &v
		}
	}
	if raw, err := readKVFile(filepath.Join(path, "memory.stat")); err == nil {
		node.MemStat = raw
	}
}

func (c *CgroupCollector) readPids(path string, node *CgroupSample) {
	b, err := os.ReadFile(filepath.Join(path, "pids.current"))
	if err != nil {
		return
	}
	if v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64); err == nil {
		node.PidsCurrent = &v
	}
}

// readPressure parses the PSI file format:
//
//	some avg10=0.00 avg60=0.00 avg300=0.00 total=0
//	full avg10=0.00 avg60=0.00 avg300=0.00 total=0
//
// memory.pressure and io.pressure both carry a "full" line; cpu.pressure
// historically does not. Whichever subsystem resource has the file first
// (checked in cpu, memory, io order) wins — callers needing all three
// read the per-resource files directly; this aggregates only the first
// one present, matching §3.1's single "pressure" field per cgroup node.
func (c *CgroupCollector) readPressure(path string, node *CgroupSample) {
	for _, name := range []string{"cpu.pressure", "memory.pressure", "io.pressure"} {
		f, err := os.Open(filepath.Join(path, name))
		if err != nil {
			continue
		}
		p := &PressureSample{}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) < 2 {
				continue
			}
			kv := make(map[string]string, len(fields)-1)
			for _, kvStr := range fields[1:] {
				parts := strings.SplitN(kvStr, "=", 2)
				if len(parts) == 2 {
					kv[parts[0]] = parts[1]
				}
			}
			switch fields[0] {
			case "some":
				p.SomeAvg10 = parseFloatOr0(kv["avg10"])
				p.SomeAvg60 = parseFloatOr0(kv["avg60"])
				p.SomeAvg300 = parseFloatOr0(kv["avg300"])
				p.SomeTotalUsec = parseU64Or0(kv["total"])
			case "full":
				p.FullAvg10 = parseFloatOr0(kv["avg10"])
				p.FullAvg60 = parseFloatOr0(kv["avg60"])
				p.FullAvg300 = parseFloatOr0(kv["avg300"])
				p.FullTotalUsec = parseU64Or0(kv["total"])
			}
		}
		f.Close()
		node.Pressure = p
		return
	}
}

func (c *CgroupCollector) readNUMA(path string, node *CgroupSample) {
	f, err := os.Open(filepath.Join(path, "memory.numa_stat"))
	if err != nil {
		return
	}
	defer f.Close()

	out := make(map[int]NUMAStat)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 1 {
			continue
		}
		metric := fields[0]
		if metric != "anon" && metric != "file" && metric != "unevictable" {
			continue
		}
		for _, kv := range fields[1:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 || !strings.HasPrefix(parts[0], "N") {
				continue
			}
			node, err := strconv.Atoi(strings.TrimPrefix(parts[0], "N"))
			if err != nil {
				continue
			}
			v, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				continue
			}
			entry := out[node]
			switch metric {
			case "anon":
				entry.Anon = v
			case "file":
				entry.File = v
			case "unevictable":
				entry.Unevictable = v
			}
			out[node] = entry
		}
	}
	if len(out) > 0 {
		node.NUMAStat = out
	}
}

func (c *CgroupCollector) readControllers(path string, node *CgroupSample) {
	b, err := os.ReadFile(filepath.Join(path, "cgroup.controllers"))
	if err != nil {
		return
	}
	node.Controllers = strings.Fields(string(b))
}

// readKVFile parses the flat "key value\n" format shared by cpu.stat and
// memory.stat.
func readKVFile(path string) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]uint64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		out[fields[0]] = v
	}
	return out, sc.Err()
}

func parseFloatOr0(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseU64Or0(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
