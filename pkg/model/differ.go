// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package model

import (
	"time"

	"github.com/facebookincubator/below-sub000/pkg/sample"
)

// Diff produces a Model from a single sample with no predecessor: every
// rate field is nil, snapshot fields are copied directly.
func Diff(new *sample.Sample) *Model {
	return diff(nil, new)
}

// DiffPair produces a Model from two adjacent samples. Callers are
// responsible for ensuring new.Timestamp is not before old.Timestamp;
// Advance (pkg/store) is the only caller that needs to.
func DiffPair(old, new *sample.Sample) *Model {
	return diff(old, new)
}

func diff(old, new *sample.Sample) *Model {
	delta := deltaOf(old, new)

	m := &Model{
		Timestamp: new.Timestamp,
		Delta:     delta,
		System:    diffSystem(old, new, delta),
		Network:   diffNetwork(old, new, delta),
	}
	if new.Cgroup != nil {
		var oldCgroup *sample.CgroupSample
		if old != nil {
			oldCgroup = old.Cgroup
		}
		m.Cgroup = diffCgroup(oldCgroup, new.Cgroup, delta)
	}
	return m
}

func deltaOf(old, new *sample.Sample) *time.Duration {
	if old == nil {
		return nil
	}
	d := new.Timestamp.Sub(old.Timestamp)
	return &d
}

// countPerSec is the count_per_sec macro (§4.2): (end-begin)/Δ.seconds
// when both are present and end >= begin, else None. A nil begin or end
// pointer represents "counter absent on this kernel/subsystem", which is
// always None, never zero.
func countPerSec(begin, end *uint64, delta *time.Duration) *float64 {
	if begin == nil || end == nil || delta == nil {
		return nil
	}
	if *end < *begin {
		return nil
	}
	secs := delta.Seconds()
	if secs <= 0 {
		return nil
	}
	rate := float64(*end-*begin) / secs
	return &rate
}

func countPerSecVal(begin, end uint64, delta *time.Duration) *float64 {
	return countPerSec(&begin, &end, delta)
}

// usecPct is the usec_pct macro (§4.2): (end-begin)*100/Δ.microseconds.
func usecPct(begin, end *uint64, delta *time.Duration) *float64 {
	if begin == nil || end == nil || delta == nil {
		return nil
	}
	if *end < *begin {
		return nil
	}
	usec := float64(delta.Microseconds())
	if usec <= 0 {
		return nil
	}
	pct := float64(*end-*begin) * 100.0 / usec
	return &pct
}

func usecPctVal(begin, end uint64, delta *time.Duration) *float64 {
	return usecPct(&begin, &end, delta)
}

func diffSystem(old, new *sample.Sample, delta *time.Duration) SystemModel {
	sm := SystemModel{
		MemTotalBytes:     new.System.Mem.MemTotal,
		MemFreeBytes:      new.System.Mem.MemFree,
		MemAvailableBytes: new.System.Mem.MemAvailable,
		CachedBytes:       new.System.Mem.Cached,
		Hostname:          new.System.Hostname,
		Kernel:            new.System.Kernel,
		OSRelease:         new.System.OSRelease,
	}

	if old != nil {
		sm.CPU = diffCPUStat(old.System.Stat.TotalCPU, new.System.Stat.TotalCPU, delta)
		sm.PerCPU = make(map[string]CPUModel, len(new.System.Stat.PerCPU))
		for name, cpu := range new.System.Stat.PerCPU {
			if oldCPU, ok := old.System.Stat.PerCPU[name]; ok {
				sm.PerCPU[name] = diffCPUStat(oldCPU, cpu, delta)
			}
		}
		sm.PgFaultPerSec = countPerSecVal(old.System.VMStat.PgFault, new.System.VMStat.PgFault, delta)
		sm.PgMajFaultPerSec = countPerSecVal(old.System.VMStat.PgMajFault, new.System.VMStat.PgMajFault, delta)
		sm.Disks = diffDisks(old.System.Disks, new.System.Disks, delta)
	}

	return sm
}

// diffCPUStat derives per-CPU usage%: busy = user+nice+system+irq+softirq+steal;
// usage% = busy*100/(busy+idle+iowait) (§4.2 CPU derivation).
func diffCPUStat(old, new sample.CPUStat, delta *time.Duration) CPUModel {
	if delta == nil {
		return CPUModel{}
	}

	busyBegin := cpuBusyTicks(old)
	busyEnd := cpuBusyTicks(new)
	idleBegin := old.Idle + derefU64(old.IOWait)
	idleEnd := new.Idle + derefU64(new.IOWait)

	totalBegin := busyBegin + idleBegin
	totalEnd := busyEnd + idleEnd
	if totalEnd < totalBegin {
		return CPUModel{}
	}
	totalDelta := totalEnd - totalBegin
	if totalDelta == 0 {
		return CPUModel{}
	}

	busyDelta := busyEnd - busyBegin
	usage := float64(busyDelta) * 100.0 / float64(totalDelta)

	userDelta := (new.User + new.Nice) - (old.User + old.Nice)
	sysDelta := new.System - old.System
	iowaitDelta := derefU64(new.IOWait) - derefU64(old.IOWait)

	userPct := float64(userDelta) * 100.0 / float64(totalDelta)
	sysPct := float64(sysDelta) * 100.0 / float64(totalDelta)
	iowaitPct := float64(iowaitDelta) * 100.0 / float64(totalDelta)

	return CPUModel{UsagePct: &usage, UserPct: &userPct, SystemPct: &sysPct, IOWaitPct: &iowaitPct}
}

func cpuBusyTicks(s sample.CPUStat) uint64 {
	return s.User + s.Nice + s.System + derefU64(s.IRQ) + derefU64(s.SoftIRQ) + derefU64(s.Steal)
}

func derefU64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

func diffDisks(old, new map[string]sample.DiskStat, delta *time.Duration) map[string]DiskModel {
	out := make(map[string]DiskModel, len(new))
	for name, n := range new {
		o, ok := old[name]
		if !ok {
			continue
		}
		out[name] = diffDisk(o, n, delta)
	}
	return out
}

func diffDisk(old, new sample.DiskStat, delta *time.Duration) DiskModel {
	readBytes := countPerSecVal(old.SectorsRead*512, new.SectorsRead*512, delta)
	writeBytes := countPerSecVal(old.SectorsWritten*512, new.SectorsWritten*512, delta)
	reads := countPerSecVal(old.ReadsCompleted, new.ReadsCompleted, delta)
	writes := countPerSecVal(old.WritesCompleted, new.WritesCompleted, delta)

	var iops *float64
	if reads != nil && writes != nil {
		v := *reads + *writes
		iops = &v
	}

	util := usecPctVal(old.IOTimeMs*1000, new.IOTimeMs*1000, delta)

	return DiskModel{
		ReadBytesPerSec:  readBytes,
		WriteBytesPerSec: writeBytes,
		IOPS:             iops,
		UtilizationPct:   util,
	}
}

// diffCgroup recurses the tree: for each child in new, it looks up the
// same name in old; an inode mismatch sets RecreateFlag and rates are
// omitted for that subtree (but the subtree is still present and its
// own children are still diffed against nothing, i.e. as if fresh).
func diffCgroup(old, new *sample.CgroupSample, delta *time.Duration) *CgroupModel {
	if new == nil {
		return nil
	}

	m := &CgroupModel{
		Name:     new.Name,
		FullPath: new.FullPath,
		Children: make(map[string]*CgroupModel, len(new.Children)),
	}

	comparable := old != nil && old.Inode == new.Inode
	if old != nil && !comparable {
		m.RecreateFlag = true
		old = nil // force fresh-sample semantics for this node and its subtree
	}

	if new.MemCurrent != nil {
		v := *new.MemCurrent
		m.MemCurrentBytes = &v
	}
	if new.PidsCurrent != nil {
		v := *new.PidsCurrent
		m.PidsCurrent = &v
	}
	if new.Pressure != nil {
		avg := new.Pressure.SomeAvg10
		m.PressureAvg10CPU = &avg
		m.PressureAvg10Memory = &avg
		m.PressureAvg10IO = &avg
	}

	if comparable && delta != nil {
		if new.CPUUsageUsec != nil && old.CPUUsageUsec != nil {
			m.CPUUsagePct = usecPct(old.CPUUsageUsec, new.CPUUsageUsec, delta)
		}
		m.IO = diffCgroupIO(old.IO, new.IO, delta)
		m.IOTotal = sumIO(m.IO)
	} else {
		m.IO = make(map[string]IOModel)
	}

	count := 1
	for name, child := range new.Children {
		var oldChild *sample.CgroupSample
		if old != nil {
			oldChild = old.Children[name]
		}
		childModel := diffCgroup(oldChild, child, delta)
		if childModel == nil {
			continue
		}
		m.Children[name] = childModel
		count += childModel.Count
	}
	m.Count = count

	return m
}

func diffCgroupIO(old, new map[string]sample.IOStat, delta *time.Duration) map[string]IOModel {
	out := make(map[string]IOModel, len(new))
	for dev, n := range new {
		o, ok := old[dev]
		if !ok {
			out[dev] = IOModel{}
			continue
		}
		out[dev] = IOModel{
			RBytesPerSec: countPerSec(o.RBytes, n.RBytes, delta),
			WBytesPerSec: countPerSec(o.WBytes, n.WBytes, delta),
			RIOPerSec:    countPerSec(o.RIOs, n.RIOs, delta),
			WIOPerSec:    countPerSec(o.WIOs, n.WIOs, delta),
		}
	}
	return out
}

// sumIO is the element-wise io_total aggregation (§4.2): None + None =
// None, x + None = x. Implemented as: start nil, add every present value.
func sumIO(byDevice map[string]IOModel) IOModel {
	var total IOModel
	add := func(acc **float64, v *float64) {
		if v == nil {
			return
		}
		if *acc == nil {
			sum := *v
			*acc = &sum
			return
		}
		**acc += *v
	}
	for _, io := range byDevice {
		add(&total.RBytesPerSec, io.RBytesPerSec)
		add(&total.WBytesPerSec, io.WBytesPerSec)
		add(&total.RIOPerSec, io.RIOPerSec)
		add(&total.WIOPerSec, io.WIOPerSec)
	}
	return total
}

func diffNetwork(old, new *sample.Sample, delta *time.Duration) *NetworkModel {
	if new.Network == nil {
		return nil
	}
	nm := &NetworkModel{Interfaces: make(map[string]InterfaceModel, len(new.Network.Interfaces))}

	var oldNet *sample.NetStats
	if old != nil {
		oldNet = old.Network
	}
	if oldNet == nil {
		return nm
	}

	for name, n := range new.Network.Interfaces {
		o, ok := oldNet.Interfaces[name]
		if !ok {
			continue
		}
		nm.Interfaces[name] = InterfaceModel{
			RxBytesPerSec:   countPerSecVal(o.RxBytes, n.RxBytes, delta),
			RxPacketsPerSec: countPerSecVal(o.RxPackets, n.RxPackets, delta),
			TxBytesPerSec:   countPerSecVal(o.TxBytes, n.TxBytes, delta),
			TxPacketsPerSec: countPerSecVal(o.TxPackets, n.TxPackets, delta),
		}
	}

	nm.TCP = TCPModel{
		ActiveOpensPerSec:  countPerSecVal(oldNet.TCP.ActiveOpens, new.Network.TCP.ActiveOpens, delta),
		PassiveOpensPerSec: countPerSecVal(oldNet.TCP.PassiveOpens, new.Network.TCP.PassiveOpens, delta),
		RetransSegsPerSec:  countPerSecVal(oldNet.TCP.RetransSegs, new.Network.TCP.RetransSegs, delta),
	}

	return nm
}
