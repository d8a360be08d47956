// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

// SubsystemType identifies one of the leaves the Sampler assembles into a
// Sample.
type SubsystemType string

const (
	SubsystemCgroup      SubsystemType = "cgroup"
	SubsystemProcess     SubsystemType = "process"
	SubsystemCPU         SubsystemType = "cpu"
	SubsystemMemory      SubsystemType = "memory"
	SubsystemVMStat      SubsystemType = "vmstat"
	SubsystemDisk        SubsystemType = "disk"
	SubsystemBtrfs       SubsystemType = "btrfs"
	SubsystemSlab        SubsystemType = "slab"
	SubsystemHostInfo    SubsystemType = "hostinfo"
	SubsystemNetwork     SubsystemType = "network"
	SubsystemGPU         SubsystemType = "gpu"
	SubsystemResctrl     SubsystemType = "resctrl"
	SubsystemTC          SubsystemType = "tc"
	SubsystemEthtool     SubsystemType = "ethtool"
)

// Collector performs a single synchronous read of one subsystem. Unlike a
// continuously-streaming collector, a Collector is called exactly once per
// Sampler.Collect and must not retain state across calls — the Sampler
// itself is "purely synchronous, no shared state across calls" (§4.1).
type Collector interface {
	Type() SubsystemType
	Name() string
	Collect(ctx context.Context) (any, error)
}

// BaseCollector provides the bookkeeping common to every Collector:
// a scoped logger and access to the shared Config.
type BaseCollector struct {
	subsystem SubsystemType
	name      string
	logger    logr.Logger
	config    Config
}

func NewBaseCollector(subsystem SubsystemType, name string, logger logr.Logger, config Config) BaseCollector {
	return BaseCollector{
		subsystem: subsystem,
		name:      name,
		logger:    logger.WithName(string(subsystem)),
		config:    config,
	}
}

func (b *BaseCollector) Type() SubsystemType  { return b.subsystem }
func (b *BaseCollector) Name() string         { return b.name }
func (b *BaseCollector) Logger() logr.Logger  { return b.logger }
func (b *BaseCollector) Config() Config       { return b.config }

// NewCollector constructs a Collector bound to a Config and Logger. Each
// subsystem file registers one of these with the package-level registry in
// its init().
type NewCollector func(logr.Logger, Config) (Collector, error)

// Registry holds the set of known subsystem collectors. The default
// Sampler pulls every registered collector; callers building a reduced
// Sampler (e.g. tests) can filter by SubsystemType.
type Registry struct {
	logger     logr.Logger
	collectors map[SubsystemType]NewCollector
}

func NewRegistry(logger logr.Logger) *Registry {
	return &Registry{
		logger:     logger.WithName("sample-registry"),
		collectors: make(map[SubsystemType]NewCollector),
	}
}

func (r *Registry) Register(subsystem SubsystemType, ctor NewCollector) error {
	if ctor == nil {
		return errNilCollector
	}
	if _, exists := r.collectors[subsystem]; exists {
		return errAlreadyRegistered(subsystem)
	}
	r.collectors[subsystem] = ctor
	r.logger.V(1).Info("registered subsystem collector", "type", subsystem)
	return nil
}

func (r *Registry) All() map[SubsystemType]NewCollector {
	out := make(map[SubsystemType]NewCollector, len(r.collectors))
	for k, v := range r.collectors {
		out[k] = v
	}
	return out
}

// defaultRegistry is populated by each subsystem collector's init(), mirroring
// the teacher's package-level Register/GetCollector convention.
var defaultRegistry = NewRegistry(logr.Discard())

// Register adds a collector constructor to the default, package-wide
// registry. Subsystem files call this from init().
func Register(subsystem SubsystemType, ctor NewCollector) {
	if err := defaultRegistry.Register(subsystem, ctor); err != nil {
		panic(err)
	}
}

func defaultCollectors() map[SubsystemType]NewCollector {
	return defaultRegistry.All()
}

var errNilCollector = fmt.Errorf("sample: nil collector constructor")

func errAlreadyRegistered(subsystem SubsystemType) error {
	return fmt.Errorf("sample: collector for %q already registered", subsystem)
}
