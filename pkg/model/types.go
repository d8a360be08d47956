// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package model derives rate-normalized, recursively-aggregated views
// from pairs of adjacent samples produced by pkg/sample.
package model

import "time"

// Model is the derived view produced from either a single Sample (no
// predecessor: every rate field is nil) or a pair of adjacent Samples.
type Model struct {
	Timestamp time.Time
	Delta     *time.Duration // nil when there is no predecessor sample

	System  SystemModel
	Cgroup  *CgroupModel
	Network *NetworkModel
}

// SystemModel mirrors sample.System with rate fields substituted where
// the field is a counter rather than a snapshot.
type SystemModel struct {
	CPU    CPUModel
	PerCPU map[string]CPUModel

	MemTotalBytes     uint64
	MemFreeBytes      uint64
	MemAvailableBytes *uint64
	CachedBytes       uint64

	PgFaultPerSec    *float64
	PgMajFaultPerSec *float64

	Disks map[string]DiskModel

	Hostname  string
	Kernel    string
	OSRelease string
}

// CPUModel is one CPU's (or the aggregate's) usage derivation.
type CPUModel struct {
	UsagePct *float64
	UserPct  *float64
	SystemPct *float64
	IOWaitPct *float64
}

// DiskModel is one device's per-second I/O derivation.
type DiskModel struct {
	ReadBytesPerSec  *float64
	WriteBytesPerSec *float64
	IOPS             *float64
	UtilizationPct   *float64
}

// CgroupModel mirrors the cgroup sample tree, one node per cgroup,
// carrying local derived data plus a name-keyed child set.
type CgroupModel struct {
	Name     string
	FullPath string

	RecreateFlag bool // true when the inode changed between samples; rates omitted
	Count        int  // 1 + sum(child.Count), computed bottom-up

	CPUUsagePct *float64
	MemCurrentBytes *uint64
	PidsCurrent     *uint64

	IO      map[string]IOModel
	IOTotal IOModel

	PressureAvg10CPU    *float64
	PressureAvg10Memory *float64
	PressureAvg10IO     *float64

	Children map[string]*CgroupModel
}

// IOModel is one device's (or the aggregate's) per-second IO derivation.
// Every field is independently optional: an absent counter on either side
// of the diff propagates as nil, and element-wise sums treat nil as
// additive identity (x + nil = x), never as a hard stop.
type IOModel struct {
	RBytesPerSec *float64
	WBytesPerSec *float64
	RIOPerSec    *float64
	WIOPerSec    *float64
}

// NetworkModel mirrors sample.NetStats, one rate per counter.
type NetworkModel struct {
	Interfaces map[string]InterfaceModel
	TCP        TCPModel
}

// InterfaceModel is one interface's per-second rate derivation.
type InterfaceModel struct {
	RxBytesPerSec   *float64
	RxPacketsPerSec *float64
	TxBytesPerSec   *float64
	TxPacketsPerSec *float64
}

// TCPModel is the SNMP TCP counters' per-second derivation.
type TCPModel struct {
	ActiveOpensPerSec  *float64
	PassiveOpensPerSec *float64
	RetransSegsPerSec  *float64
}
