// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

import "time"

// Sample is one full host snapshot: the output of a single Sampler.Collect
// call. Every top-level field but System is optional and nil when its
// collector failed or its subsystem isn't present on this host; a missing
// leaf never aborts collection of the rest of the tree.
type Sample struct {
	Timestamp time.Time

	System    System
	Cgroup    *CgroupSample
	Processes map[int32]*PidInfo
	Network   *NetStats

	GPU      *GPUSample
	Resctrl  *ResctrlSample
	TC       map[string]*TCSample
	Ethtool  map[string]*EthtoolSample
}

// System holds host-wide, non-cgroup counters: /proc/stat, /proc/meminfo,
// /proc/vmstat, and the handful of one-shot identity fields collected once
// per tick rather than cached, since the spec treats the Sampler as having
// no state across calls.
type System struct {
	Stat     Stat
	Mem      MemInfo
	VMStat   VMStat
	Hostname string
	Kernel   string
	OSRelease string

	Disks map[string]DiskStat
	Btrfs map[string]BtrfsAllocation
	Slab  map[string]SlabStat
}

// Stat mirrors /proc/stat: per-CPU jiffy counters plus the handful of
// scalar counters on the same file.
type Stat struct {
	TotalCPU  CPUStat
	PerCPU    map[string]CPUStat
	Processes uint64
	ProcsRunning uint64
	ProcsBlocked uint64
	BootTimeSec  int64
}

// CPUStat is one row from /proc/stat, in USER_HZ ticks.
type CPUStat struct {
	User      uint64
	Nice      uint64
	System    uint64
	Idle      uint64
	IOWait    *uint64
	IRQ       *uint64
	SoftIRQ   *uint64
	Steal     *uint64
	Guest     *uint64
	GuestNice *uint64
}

// MemInfo mirrors /proc/meminfo. Values are bytes (converted from the
// file's native kB) except where noted.
type MemInfo struct {
	MemTotal     uint64
	MemFree      uint64
	MemAvailable *uint64
	Buffers      uint64
	Cached       uint64
	SwapCached   uint64
	Active       uint64
	Inactive     uint64
	SwapTotal    uint64
	SwapFree     uint64
	Dirty        uint64
	Writeback    uint64
	AnonPages    uint64
	Mapped       uint64
	Shmem        uint64
	Slab         uint64
	SReclaimable uint64
	SUnreclaim   uint64
	KernelStack  uint64
	PageTables   uint64
	CommitLimit  uint64
	CommittedAS  uint64
	VmallocTotal uint64
	VmallocUsed  uint64
	HugePagesTotal uint64
	HugePagesFree  uint64
	HugePageSize   uint64
}

// VMStat mirrors a subset of /proc/vmstat used for fault and reclaim rates.
type VMStat struct {
	PgFault       uint64
	PgMajFault    uint64
	PgFree        uint64
	PgScanKswapd  uint64
	PgScanDirect  uint64
	PgSteal       uint64
	OOMKill       uint64
}

// DiskStat is one row from /proc/diskstats, counters in native units
// (sectors, milliseconds) — per-second derivation is Model's job.
type DiskStat struct {
	Major, Minor     uint32
	ReadsCompleted   uint64
	ReadsMerged      uint64
	SectorsRead      uint64
	ReadTimeMs       uint64
	WritesCompleted  uint64
	WritesMerged     uint64
	SectorsWritten   uint64
	WriteTimeMs      uint64
	IOsInProgress    uint64
	IOTimeMs         uint64
	WeightedIOTimeMs uint64
}

// BtrfsAllocation summarizes one mounted btrfs filesystem's
// /sys/fs/btrfs/<uuid>/allocation tree.
type BtrfsAllocation struct {
	DataBytes     uint64
	MetadataBytes uint64
	SystemBytes   uint64
}

// SlabStat is one row of /proc/slabinfo.
type SlabStat struct {
	ActiveObjs uint64
	NumObjs    uint64
	ObjSize    uint64
}

// CgroupSample is one node of the cgroup tree, recursively addressed by
// name relative to its parent. The root node's Name is "".
type CgroupSample struct {
	Name     string
	FullPath string
	Inode    uint64

	CPUUsageUsec *uint64
	CPUStat      *CPUStat // User/System from cpu.stat, in microseconds

	IO map[string]IOStat // keyed by "<major>:<minor>"

	MemCurrent *uint64
	MemStat    map[string]uint64

	PidsCurrent *uint64

	Pressure *PressureSample

	NUMAStat map[int]NUMAStat

	Controllers []string
	CPUMax      *CPUMax
	CpusetCPUs  string
	CpusetMems  string

	Children map[string]*CgroupSample
}

// IOStat is one device's io.stat line for a cgroup.
type IOStat struct {
	RBytes *uint64
	WBytes *uint64
	RIOs   *uint64
	WIOs   *uint64
}

// PressureSample holds the raw PSI windows (some/full) for one resource
// (cpu, memory, or io). Only avg10 is surfaced by the model, but all three
// windows are retained on the sample per the supplemented-features note.
type PressureSample struct {
	SomeAvg10, SomeAvg60, SomeAvg300 float64
	SomeTotalUsec                    uint64
	FullAvg10, FullAvg60, FullAvg300 float64
	FullTotalUsec                    uint64
}

// NUMAStat is one node's entry from memory.numa_stat.
type NUMAStat struct {
	Anon    uint64
	File    uint64
	Unevictable uint64
}

// CPUMax mirrors cpu.max: quota/period in microseconds, quota nil when "max".
type CPUMax struct {
	QuotaUsec  *uint64
	PeriodUsec uint64
}

// PidInfo is one process's /proc/<pid> snapshot.
type PidInfo struct {
	Pid, Ppid, Pgrp, Session int32
	Comm                     string
	State                    byte
	StartTime                time.Time
	UtimeTicks, StimeTicks   uint64
	NumThreads               int32
	MinFlt, MajFlt           uint64
	Nice, Priority           int32
	VSizeBytes               uint64
	RSSBytes                 uint64

	VoluntaryCtxtSwitches   *uint64
	NonvoluntaryCtxtSwitches *uint64

	IO *PidIO // nil when /proc/<pid>/io was unreadable (EACCES tolerated, not an error)

	CgroupPath string

	// Cmdline is nil when the bounded worker pool timed out reading
	// /proc/<pid>/cmdline; Exe is similarly best-effort.
	Cmdline []string
	Exe     string
}

// PidIO mirrors /proc/<pid>/io.
type PidIO struct {
	ReadBytes, WriteBytes         uint64
	RChar, WChar                  uint64
	SyscR, SyscW                  uint64
}

// NetStats is the host's network subsystem: per-interface counters plus
// the SNMP/netstat protocol aggregates.
type NetStats struct {
	Interfaces map[string]InterfaceStat
	TCP        SNMPTCPStat
	UDP        SNMPUDPStat
	IP         SNMPIPStat
	ICMP       SNMPICMPStat
	TCPExt     TCPExtStat
}

// InterfaceStat is one row of /proc/net/dev plus its /sys/class/net/<if>
// metadata.
type InterfaceStat struct {
	RxBytes, RxPackets, RxErrors, RxDropped uint64
	TxBytes, TxPackets, TxErrors, TxDropped uint64

	Speed        *uint64
	Duplex       string
	OperState    string
	LinkDetected bool
}

// SNMPTCPStat mirrors the Tcp: lines of /proc/net/snmp; /proc/net/snmp6
// is not read.
type SNMPTCPStat struct {
	ActiveOpens, PassiveOpens, AttemptFails, EstabResets, CurrEstab uint64
	InSegs, OutSegs, RetransSegs, InErrs, OutRsts                   uint64
}

// SNMPUDPStat mirrors the Udp: line of /proc/net/snmp.
type SNMPUDPStat struct {
	InDatagrams, NoPorts, InErrors, OutDatagrams, RcvbufErrors, SndbufErrors uint64
}

// SNMPIPStat mirrors the Ip: line of /proc/net/snmp.
type SNMPIPStat struct {
	InReceives, InHdrErrors, InAddrErrors, ForwDatagrams, InDiscards, InDelivers uint64
	OutRequests, OutDiscards, OutNoRoutes                                       uint64
}

// SNMPICMPStat mirrors the Icmp: line of /proc/net/snmp.
type SNMPICMPStat struct {
	InMsgs, InErrors, OutMsgs, OutErrors uint64
}

// TCPExtStat mirrors select IpExt/TcpExt rows of /proc/net/netstat.
type TCPExtStat struct {
	SyncookiesSent, SyncookiesRecv, SyncookiesFailed uint64
	ListenOverflows, ListenDrops                     uint64
	TCPLostRetransmit                                uint64
	InBytes, OutBytes                                uint64 // IpExt InOctets/OutOctets
}

// GPUSample is a best-effort, hardware-dependent optional subsystem;
// absent entirely on hosts with no supported GPU.
type GPUSample struct {
	Devices map[string]GPUDeviceStat
}

// GPUDeviceStat is one device's utilization/memory snapshot.
type GPUDeviceStat struct {
	UtilizationPct float64
	MemUsedBytes   uint64
	MemTotalBytes  uint64
	TempCelsius    *float64
}

// ResctrlSample mirrors /sys/fs/resctrl per-group monitoring data
// (Intel RDT / AMD QoS); absent on hosts without resctrl mounted.
type ResctrlSample struct {
	Groups map[string]ResctrlGroupStat
}

// ResctrlGroupStat is one monitoring group's llc_occupancy/mbm counters.
type ResctrlGroupStat struct {
	LLCOccupancyBytes  uint64
	MBMTotalBytes      uint64
	MBMLocalBytes      uint64
}

// TCSample is one network device's queuing-discipline snapshot from `tc
// qdisc`/`tc -s qdisc`-equivalent netlink queries.
type TCSample struct {
	Qdiscs []QdiscStat
}

// QdiscStat is one qdisc's identity and packet/byte/drop counters.
type QdiscStat struct {
	Kind       string
	Handle     string
	BytesSent  uint64
	PacketsSent uint64
	Drops      uint64
	Overlimits uint64
}

// EthtoolSample is one interface's per-queue NIC statistics, as reported
// by an ethtool -S-equivalent ioctl.
type EthtoolSample struct {
	Queues map[string]EthtoolQueueStat
}

// EthtoolQueueStat is one hardware queue's packet/byte counters.
type EthtoolQueueStat struct {
	RxPackets, TxPackets uint64
	RxBytes, TxBytes     uint64
}
