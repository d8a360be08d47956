// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// ExitedPidSource is the consumer-facing surface of the eBPF exit-stat
// collaborator (§5): a source of recently-exited pids the Sampler merges
// into its process table before returning. Implementations must be safe
// to call concurrently with their own background collection.
type ExitedPidSource interface {
	DrainExited() map[int32]struct{}
}

// Sampler produces one Sample per Collect call by running every
// registered subsystem collector. It holds no state across calls beyond
// its Config and logger, matching §4.1's "purely synchronous, no shared
// state" contract — the registry itself is built once at construction.
type Sampler struct {
	logger     logr.Logger
	config     Config
	collectors map[SubsystemType]Collector
	exitedPids ExitedPidSource
}

// NewSampler constructs a Sampler from the default collector registry,
// instantiating one Collector per registered subsystem type. Optional
// subsystems whose Config.Enable<X> gate is off are skipped entirely.
func NewSampler(logger logr.Logger, config Config, exitedPids ExitedPidSource) (*Sampler, error) {
	config.ApplyDefaults()

	collectors := make(map[SubsystemType]Collector)
	for subsystem, ctor := range defaultCollectors() {
		if !subsystemEnabled(subsystem, config) {
			continue
		}
		collector, err := ctor(logger, config)
		if err != nil {
			return nil, err
		}
		collectors[subsystem] = collector
	}

	return &Sampler{
		logger:     logger.WithName("sampler"),
		config:     config,
		collectors: collectors,
		exitedPids: exitedPids,
	}, nil
}

func subsystemEnabled(subsystem SubsystemType, config Config) bool {
	switch subsystem {
	case SubsystemGPU:
		return config.EnableGPU
	case SubsystemResctrl:
		return config.EnableResctrl
	case SubsystemTC:
		return config.EnableTC
	case SubsystemEthtool:
		return config.EnableEthtool
	default:
		return true
	}
}

// Collect reads every enabled subsystem and assembles one Sample. A
// failing collector drops only its own subtree from the result (§4.1
// error class (b)/(c)); it never aborts the rest of the collection.
func (s *Sampler) Collect(ctx context.Context) (*Sample, error) {
	out := &Sample{Timestamp: time.Now().UTC()}

	for subsystem, collector := range s.collectors {
		result, err := collector.Collect(ctx)
		if err != nil {
			s.logger.V(1).Info("subsystem collection failed, omitting subtree",
				"subsystem", subsystem, "error", err)
			continue
		}
		s.assign(out, subsystem, result)
	}

	if s.exitedPids != nil {
		s.mergeExited(out)
	}

	return out, nil
}

func (s *Sampler) assign(out *Sample, subsystem SubsystemType, result any) {
	switch subsystem {
	case SubsystemCgroup:
		if v, ok := result.(*CgroupSample); ok {
			out.Cgroup = v
		}
	case SubsystemProcess:
		if v, ok := result.(map[int32]*PidInfo); ok {
			out.Processes = v
		}
	case SubsystemCPU:
		if v, ok := result.(Stat); ok {
			out.System.Stat = v
		}
	case SubsystemMemory:
		if v, ok := result.(MemInfo); ok {
			out.System.Mem = v
		}
	case SubsystemVMStat:
		if v, ok := result.(VMStat); ok {
			out.System.VMStat = v
		}
	case SubsystemDisk:
		if v, ok := result.(map[string]DiskStat); ok {
			out.System.Disks = v
		}
	case SubsystemBtrfs:
		if v, ok := result.(map[string]BtrfsAllocation); ok {
			out.System.Btrfs = v
		}
	case SubsystemSlab:
		if v, ok := result.(map[string]SlabStat); ok {
			out.System.Slab = v
		}
	case SubsystemHostInfo:
		if v, ok := result.(hostInfo); ok {
			out.System.Hostname = v.Hostname
			out.System.Kernel = v.Kernel
			out.System.OSRelease = v.OSRelease
		}
	case SubsystemNetwork:
		if v, ok := result.(*NetStats); ok {
			out.Network = v
		}
	case SubsystemGPU:
		if v, ok := result.(*GPUSample); ok {
			out.GPU = v
		}
	case SubsystemResctrl:
		if v, ok := result.(*ResctrlSample); ok {
			out.Resctrl = v
		}
	case SubsystemTC:
		if v, ok := result.(map[string]*TCSample); ok {
			out.TC = v
		}
	case SubsystemEthtool:
		if v, ok := result.(map[string]*EthtoolSample); ok {
			out.Ethtool = v
		}
	}
}

// mergeExited folds in any pid the exit-stat collaborator observed
// exiting since the last tick. A pid already present (raced: it exited
// between our /proc walk and now) is left as-is; a pid missing from the
// /proc walk gets a placeholder PidInfo carrying only its pid and state
// 'X'.
func (s *Sampler) mergeExited(out *Sample) {
	exited := s.exitedPids.DrainExited()
	if len(exited) == 0 {
		return
	}
	if out.Processes == nil {
		out.Processes = make(map[int32]*PidInfo)
	}
	for pid := range exited {
		if _, ok := out.Processes[pid]; !ok {
			out.Processes[pid] = &PidInfo{Pid: pid, State: 'X'}
		}
	}
}
