// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package query

import (
	"fmt"
	"strings"

	"github.com/facebookincubator/below-sub000/pkg/model"
)

// Query resolves id against m. It returns (Field, false) when the path
// is syntactically valid but the value is absent — a nonexistent path,
// or a field that is None on the model (§4.6 failure modes) — and an
// error only for an unknown leaf field identifier.
func Query(m *model.Model, id FieldId) (Field, bool, error) {
	if id.CgroupPath != nil {
		return queryCgroup(m, id)
	}
	return queryTopLevel(m, id.Leaf)
}

func queryCgroup(m *model.Model, id FieldId) (Field, bool, error) {
	cg := m.Cgroup
	for _, seg := range id.CgroupPath {
		if cg == nil {
			return Field{}, false, nil
		}
		cg = cg.Children[seg]
	}
	if cg == nil {
		return Field{}, false, nil
	}
	return resolveCgroupLeaf(cg, id.Leaf)
}

func resolveCgroupLeaf(cg *model.CgroupModel, leaf string) (Field, bool, error) {
	switch leaf {
	case "recreate_flag":
		v := uint64(0)
		if cg.RecreateFlag {
			v = 1
		}
		return fieldU64(v), true, nil
	case "count":
		return fieldI64(int64(cg.Count)), true, nil
	case "name":
		return fieldStr(cg.Name), true, nil
	case "full_path":
		return fieldStr(cg.FullPath), true, nil
	case "cpu.usage_pct":
		f, ok := optF64(cg.CPUUsagePct)
		return f, ok, nil
	case "mem_current_bytes":
		f, ok := optU64(cg.MemCurrentBytes)
		return f, ok, nil
	case "pids_current":
		f, ok := optU64(cg.PidsCurrent)
		return f, ok, nil
	case "pressure.cpu_avg10":
		f, ok := optF64(cg.PressureAvg10CPU)
		return f, ok, nil
	case "pressure.memory_avg10":
		f, ok := optF64(cg.PressureAvg10Memory)
		return f, ok, nil
	case "pressure.io_avg10":
		f, ok := optF64(cg.PressureAvg10IO)
		return f, ok, nil
	}

	if rest, ok := strings.CutPrefix(leaf, "io_total."); ok {
		return resolveIOModel(cg.IOTotal, rest)
	}
	if rest, ok := strings.CutPrefix(leaf, "io."); ok {
		dev, field, found := strings.Cut(rest, ".")
		if !found {
			return Field{}, false, fmt.Errorf("query: %q: missing device field after io.<device>", leaf)
		}
		io, ok := cg.IO[dev]
		if !ok {
			return Field{}, false, nil
		}
		return resolveIOModel(io, field)
	}

	return Field{}, false, fmt.Errorf("query: unknown cgroup leaf field %q", leaf)
}

func resolveIOModel(io model.IOModel, field string) (Field, bool, error) {
	switch field {
	case "r_bytes_per_sec":
		f, ok := optF64(io.RBytesPerSec)
		return f, ok, nil
	case "w_bytes_per_sec":
		f, ok := optF64(io.WBytesPerSec)
		return f, ok, nil
	case "r_io_per_sec":
		f, ok := optF64(io.RIOPerSec)
		return f, ok, nil
	case "w_io_per_sec":
		f, ok := optF64(io.WIOPerSec)
		return f, ok, nil
	}
	return Field{}, false, fmt.Errorf("query: unknown io field %q", field)
}

func queryTopLevel(m *model.Model, leaf string) (Field, bool, error) {
	switch leaf {
	case "hostname":
		return fieldStr(m.System.Hostname), true, nil
	case "kernel":
		return fieldStr(m.System.Kernel), true, nil
	case "os_release":
		return fieldStr(m.System.OSRelease), true, nil
	case "mem.total_bytes":
		return fieldU64(m.System.MemTotalBytes), true, nil
	case "mem.free_bytes":
		return fieldU64(m.System.MemFreeBytes), true, nil
	case "mem.available_bytes":
		f, ok := optU64(m.System.MemAvailableBytes)
		return f, ok, nil
	case "mem.cached_bytes":
		return fieldU64(m.System.CachedBytes), true, nil
	case "mem.pgfault_per_sec":
		f, ok := optF64(m.System.PgFaultPerSec)
		return f, ok, nil
	case "mem.pgmajfault_per_sec":
		f, ok := optF64(m.System.PgMajFaultPerSec)
		return f, ok, nil
	case "cpu.usage_pct":
		f, ok := optF64(m.System.CPU.UsagePct)
		return f, ok, nil
	case "cpu.user_pct":
		f, ok := optF64(m.System.CPU.UserPct)
		return f, ok, nil
	case "cpu.system_pct":
		f, ok := optF64(m.System.CPU.SystemPct)
		return f, ok, nil
	case "cpu.iowait_pct":
		f, ok := optF64(m.System.CPU.IOWaitPct)
		return f, ok, nil
	}

	if rest, ok := strings.CutPrefix(leaf, "cpus."); ok {
		idx, field, found := strings.Cut(rest, ".")
		if !found {
			return Field{}, false, fmt.Errorf("query: %q: missing field after cpus.<id>", leaf)
		}
		cpu, ok := m.System.PerCPU[idx]
		if !ok {
			return Field{}, false, nil
		}
		return resolveCPUModel(cpu, field)
	}

	if rest, ok := strings.CutPrefix(leaf, "disks."); ok {
		dev, field, found := strings.Cut(rest, ".")
		if !found {
			return Field{}, false, fmt.Errorf("query: %q: missing field after disks.<device>", leaf)
		}
		disk, ok := m.System.Disks[dev]
		if !ok {
			return Field{}, false, nil
		}
		return resolveDiskModel(disk, field)
	}

	if rest, ok := strings.CutPrefix(leaf, "network.interfaces."); ok {
		if m.Network == nil {
			return Field{}, false, nil
		}
		ifName, field, found := strings.Cut(rest, ".")
		if !found {
			return Field{}, false, fmt.Errorf("query: %q: missing field after network.interfaces.<name>", leaf)
		}
		iface, ok := m.Network.Interfaces[ifName]
		if !ok {
			return Field{}, false, nil
		}
		return resolveInterfaceModel(iface, field)
	}

	if rest, ok := strings.CutPrefix(leaf, "network.tcp."); ok {
		if m.Network == nil {
			return Field{}, false, nil
		}
		return resolveTCPModel(m.Network.TCP, rest)
	}

	return Field{}, false, fmt.Errorf("query: unknown field %q", leaf)
}

func resolveCPUModel(cpu model.CPUModel, field string) (Field, bool, error) {
	switch field {
	case "usage_pct":
		f, ok := optF64(cpu.UsagePct)
		return f, ok, nil
	case "user_pct":
		f, ok := optF64(cpu.UserPct)
		return f, ok, nil
	case "system_pct":
		f, ok := optF64(cpu.SystemPct)
		return f, ok, nil
	case "iowait_pct":
		f, ok := optF64(cpu.IOWaitPct)
		return f, ok, nil
	}
	return Field{}, false, fmt.Errorf("query: unknown cpu field %q", field)
}

func resolveDiskModel(disk model.DiskModel, field string) (Field, bool, error) {
	switch field {
	case "read_bytes_per_sec":
		f, ok := optF64(disk.ReadBytesPerSec)
		return f, ok, nil
	case "write_bytes_per_sec":
		f, ok := optF64(disk.WriteBytesPerSec)
		return f, ok, nil
	case "iops":
		f, ok := optF64(disk.IOPS)
		return f, ok, nil
	case "utilization_pct":
		f, ok := optF64(disk.UtilizationPct)
		return f, ok, nil
	}
	return Field{}, false, fmt.Errorf("query: unknown disk field %q", field)
}

func resolveInterfaceModel(iface model.InterfaceModel, field string) (Field, bool, error) {
	switch field {
	case "rx_bytes_per_sec":
		f, ok := optF64(iface.RxBytesPerSec)
		return f, ok, nil
	case "rx_packets_per_sec":
		f, ok := optF64(iface.RxPacketsPerSec)
		return f, ok, nil
	case "tx_bytes_per_sec":
		f, ok := optF64(iface.TxBytesPerSec)
		return f, ok, nil
	case "tx_packets_per_sec":
		f, ok := optF64(iface.TxPacketsPerSec)
		return f, ok, nil
	}
	return Field{}, false, fmt.Errorf("query: unknown interface field %q", field)
}

func resolveTCPModel(tcp model.TCPModel, field string) (Field, bool, error) {
	switch field {
	case "active_opens_per_sec":
		f, ok := optF64(tcp.ActiveOpensPerSec)
		return f, ok, nil
	case "passive_opens_per_sec":
		f, ok := optF64(tcp.PassiveOpensPerSec)
		return f, ok, nil
	case "retrans_segs_per_sec":
		f, ok := optF64(tcp.RetransSegsPerSec)
		return f, ok, nil
	}
	return Field{}, false, fmt.Errorf("query: unknown tcp field %q", field)
}
