// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

import (
	"regexp"
	"time"
)

// Config controls how a Sampler reads the host. Paths are overridable so the
// collector can run against a bind-mounted host filesystem inside a
// container, matching the HOST_PROC/HOST_SYS/HOST_DEV convention.
type Config struct {
	HostProcPath   string
	HostSysPath    string
	HostDevPath    string
	CgroupRootPath string

	// CgroupFilterOut, if set, elides any cgroup subtree whose full path
	// matches. Matched directories are pruned along with their children.
	CgroupFilterOut *regexp.Regexp

	// CmdlineWorkers bounds the worker pool used to read /proc/<pid>/cmdline.
	// CmdlineTimeout bounds how long a single read may take before it is
	// abandoned; see Sampler's process cmdline policy.
	CmdlineWorkers int
	CmdlineTimeout time.Duration

	// EnableGPU, EnableResctrl, EnableTC, and EnableEthtool gate the optional
	// subsystems named in the data model; off by default. No collector for
	// these subsystems is registered, so setting them adds no data to a
	// sample.
	EnableGPU     bool
	EnableResctrl bool
	EnableTC      bool
	EnableEthtool bool
}

// DefaultConfig returns a Config suitable for sampling the local host
// directly (no container bind-mount remapping).
func DefaultConfig() Config {
	return Config{
		HostProcPath:   "/proc",
		HostSysPath:    "/sys",
		HostDevPath:    "/dev",
		CgroupRootPath: "/sys/fs/cgroup",
		CmdlineWorkers: 5,
		CmdlineTimeout: 20 * time.Millisecond,
	}
}

// ApplyDefaults fills zero-valued fields with DefaultConfig's values.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.HostProcPath == "" {
		c.HostProcPath = defaults.HostProcPath
	}
	if c.HostSysPath == "" {
		c.HostSysPath = defaults.HostSysPath
	}
	if c.HostDevPath == "" {
		c.HostDevPath = defaults.HostDevPath
	}
	if c.CgroupRootPath == "" {
		c.CgroupRootPath = defaults.CgroupRootPath
	}
	if c.CmdlineWorkers <= 0 {
		c.CmdlineWorkers = defaults.CmdlineWorkers
	}
	if c.CmdlineTimeout <= 0 {
		c.CmdlineTimeout = defaults.CmdlineTimeout
	}
}
