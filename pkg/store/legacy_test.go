// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/below-sub000/pkg/sample"
)

func u64p(v uint64) *uint64 { return &v }
func f64p(v float64) *float64 { return &v }

func fullSample() *sample.Sample {
	ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return &sample.Sample{
		Timestamp: ts,
		System: sample.System{
			Stat: sample.Stat{
				TotalCPU: sample.CPUStat{User: 1, Nice: 2, System: 3, Idle: 4, IOWait: u64p(5)},
				PerCPU:   map[string]sample.CPUStat{"cpu0": {User: 1, Idle: 2}},
			},
			Mem:       sample.MemInfo{MemTotal: 100, MemAvailable: u64p(50)},
			Hostname:  "legacy-host",
			Kernel:    "6.1.0",
			OSRelease: "Test Linux",
			Disks:     map[string]sample.DiskStat{"sda": {Major: 8, Minor: 0, ReadsCompleted: 9}},
			Btrfs:     map[string]sample.BtrfsAllocation{"uuid-1": {DataBytes: 10}},
			Slab:      map[string]sample.SlabStat{"inode_cache": {ActiveObjs: 3}},
		},
		Cgroup: &sample.CgroupSample{
			Name: "", FullPath: "/", Inode: 2,
			IO:          map[string]sample.IOStat{"8:0": {RBytes: u64p(1), WIOs: u64p(2)}},
			MemCurrent:  u64p(1024),
			MemStat:     map[string]uint64{"anon": 512},
			Pressure:    &sample.PressureSample{SomeAvg10: 1.5, FullAvg10: 0.5},
			NUMAStat:    map[int]sample.NUMAStat{0: {Anon: 7}},
			Controllers: []string{"cpu", "memory"},
			CPUMax:      &sample.CPUMax{QuotaUsec: u64p(100000), PeriodUsec: 100000},
			Children: map[string]*sample.CgroupSample{
				"workload.slice": {Name: "workload.slice", FullPath: "/workload.slice", Inode: 3, Children: map[string]*sample.CgroupSample{}},
			},
		},
		Processes: map[int32]*sample.PidInfo{
			42: {
				Pid: 42, Ppid: 1, Comm: "init", State: 'S',
				StartTime: ts, UtimeTicks: 10, StimeTicks: 20,
				VoluntaryCtxtSwitches: u64p(3),
				IO:                    &sample.PidIO{ReadBytes: 100},
				CgroupPath:            "/workload.slice",
				Cmdline:               []string{"/sbin/init", "--test"},
				Exe:                   "/sbin/init",
			},
		},
		Network: &sample.NetStats{
			Interfaces: map[string]sample.InterfaceStat{
				"eth0": {RxBytes: 1, TxBytes: 2, Speed: u64p(1000), Duplex: "full", OperState: "up", LinkDetected: true},
			},
			TCP: sample.SNMPTCPStat{ActiveOpens: 5},
		},
		GPU: &sample.GPUSample{
			Devices: map[string]sample.GPUDeviceStat{"gpu0": {UtilizationPct: 42.5, TempCelsius: f64p(61.0)}},
		},
		Resctrl: &sample.ResctrlSample{
			Groups: map[string]sample.ResctrlGroupStat{"default": {LLCOccupancyBytes: 1024}},
		},
		TC: map[string]*sample.TCSample{
			"eth0": {Qdiscs: []sample.QdiscStat{{Kind: "fq_codel", Handle: "8001:", BytesSent: 99}}},
		},
		Ethtool: map[string]*sample.EthtoolSample{
			"eth0": {Queues: map[string]sample.EthtoolQueueStat{"rx-0": {RxPackets: 7}}},
		},
	}
}

func TestLegacyRoundTripFullSample(t *testing.T) {
	original := fullSample()

	raw, err := encodeLegacySample(original)
	require.NoError(t, err)

	decoded, err := decodeLegacySample(raw)
	require.NoError(t, err)

	assert.Equal(t, original.System.Hostname, decoded.System.Hostname)
	assert.Equal(t, original.System.Stat.TotalCPU, decoded.System.Stat.TotalCPU)
	assert.Equal(t, original.System.Disks, decoded.System.Disks)
	assert.Equal(t, *original.Cgroup.MemCurrent, *decoded.Cgroup.MemCurrent)
	assert.Equal(t, original.Cgroup.Controllers, decoded.Cgroup.Controllers)
	assert.Len(t, decoded.Cgroup.Children, 1)
	assert.Equal(t, original.Processes[42].Cmdline, decoded.Processes[42].Cmdline)
	assert.Equal(t, original.Processes[42].Comm, decoded.Processes[42].Comm)
	assert.Equal(t, original.Network.Interfaces["eth0"].RxBytes, decoded.Network.Interfaces["eth0"].RxBytes)
	assert.InDelta(t, original.GPU.Devices["gpu0"].UtilizationPct, decoded.GPU.Devices["gpu0"].UtilizationPct, 0.0001)
	assert.Equal(t, *original.GPU.Devices["gpu0"].TempCelsius, *decoded.GPU.Devices["gpu0"].TempCelsius)
	assert.Equal(t, original.Resctrl.Groups["default"].LLCOccupancyBytes, decoded.Resctrl.Groups["default"].LLCOccupancyBytes)
	assert.Equal(t, original.TC["eth0"].Qdiscs[0].Kind, decoded.TC["eth0"].Qdiscs[0].Kind)
	assert.Equal(t, original.Ethtool["eth0"].Queues["rx-0"].RxPackets, decoded.Ethtool["eth0"].Queues["rx-0"].RxPackets)
}

func TestLegacyRoundTripEmptySample(t *testing.T) {
	ts := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	original := &sample.Sample{Timestamp: ts}

	raw, err := encodeLegacySample(original)
	require.NoError(t, err)

	decoded, err := decodeLegacySample(raw)
	require.NoError(t, err)

	assert.Equal(t, ts.Unix(), decoded.Timestamp.Unix())
	assert.Nil(t, decoded.Cgroup)
	assert.Nil(t, decoded.Network)
	assert.Nil(t, decoded.GPU)
	assert.Nil(t, decoded.Resctrl)
	assert.Empty(t, decoded.Processes)
}
