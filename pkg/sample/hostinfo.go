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

func init() {
	Register(SubsystemHostInfo, func(logger logr.Logger, config Config) (Collector, error) {
		return NewHostInfoCollector(logger, config), nil
	})
	Register(SubsystemBtrfs, func(logger logr.Logger, config Config) (Collector, error) {
		return NewBtrfsCollector(logger, config), nil
	})
	Register(SubsystemSlab, func(logger logr.Logger, config Config) (Collector, error) {
		return NewSlabCollector(logger, config), nil
	})
}

var _ Collector = (*HostInfoCollector)(nil)

// HostInfoCollector reads the host's identity strings: hostname, kernel
// release, and /etc/os-release PRETTY_NAME. These rarely change between
// ticks but are read fresh every call since the Sampler holds no state.
type HostInfoCollector struct {
	BaseCollector
	osReleasePath string
}

func NewHostInfoCollector(logger logr.Logger, config Config) *HostInfoCollector {
	return &HostInfoCollector{
		BaseCollector: NewBaseCollector(SubsystemHostInfo, "hostinfo", logger, config),
		osReleasePath: "/etc/os-release",
	}
}

type hostInfo struct {
	Hostname  string
	Kernel    string
	OSRelease string
}

func (c *HostInfoCollector) Collect(ctx context.Context) (any, error) {
	info := hostInfo{}

	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	} else {
		c.Logger().V(2).Info("failed to read hostname", "error", err)
	}

	if b, err := os.ReadFile(filepath.Join(c.Config().HostProcPath, "sys", "kernel", "osrelease")); err == nil {
		info.Kernel = strings.TrimSpace(string(b))
	} else {
		c.Logger().V(2).Info("failed to read kernel release", "error", err)
	}

	if f, err := os.Open(c.osReleasePath); err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "PRETTY_NAME=") {
				info.OSRelease = strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), `"`)
				break
			}
		}
	} else {
		c.Logger().V(2).Info("failed to read os-release", "error", err)
	}

	return info, nil
}

var _ Collector = (*BtrfsCollector)(nil)

// BtrfsCollector reads /sys/fs/btrfs/<uuid>/allocation/{data,metadata,system}/bytes_used
// for every mounted btrfs filesystem. Absent entirely on hosts with no
// btrfs mounts.
type BtrfsCollector struct {
	BaseCollector
	root string
}

func NewBtrfsCollector(logger logr.Logger, config Config) *BtrfsCollector {
	return &BtrfsCollector{
		BaseCollector: NewBaseCollector(SubsystemBtrfs, "btrfs", logger, config),
		root:          filepath.Join(config.HostSysPath, "fs", "btrfs"),
	}
}

func (c *BtrfsCollector) Collect(ctx context.Context) (any, error) {
	entries, err := os.ReadDir(c.root)
	if os.IsNotExist(err) {
		return map[string]BtrfsAllocation{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]BtrfsAllocation)
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "features" {
			continue
		}
		uuid := e.Name()
		allocDir := filepath.Join(c.root, uuid, "allocation")
		read := func(kind string) uint64 {
			b, err := os.ReadFile(filepath.Join(allocDir, kind, "bytes_used"))
			if err != nil {
				return 0
			}
			v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
			if err != nil {
				return 0
			}
			return v
		}
		out[uuid] = BtrfsAllocation{
			DataBytes:     read("data"),
			MetadataBytes: read("metadata"),
			SystemBytes:   read("system"),
		}
	}
	return out, nil
}

var _ Collector = (*SlabCollector)(nil)

// SlabCollector reads /proc/slabinfo. Absent / permission-denied (kernels
// without CONFIG_SLUB_DEBUG, or non-root callers on some distros) is
// tolerated as an empty result, not an error.
type SlabCollector struct {
	BaseCollector
	path string
}

func NewSlabCollector(logger logr.Logger, config Config) *SlabCollector {
	return &SlabCollector{
		BaseCollector: NewBaseCollector(SubsystemSlab, "slabinfo", logger, config),
		path:          filepath.Join(config.HostProcPath, "slabinfo"),
	}
}

func (c *SlabCollector) Collect(ctx context.Context) (any, error) {
	f, err := os.Open(c.path)
	if os.IsNotExist(err) || os.IsPermission(err) {
		return map[string]SlabStat{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]SlabStat)
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			continue // header / version line
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		active, err1 := strconv.ParseUint(fields[1], 10, 64)
		num, err2 := strconv.ParseUint(fields[2], 10, 64)
		size, err3 := strconv.ParseUint(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		out[fields[0]] = SlabStat{ActiveObjs: active, NumObjs: num, ObjSize: size}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
