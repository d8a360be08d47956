// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

// Legacy wire format: a compact, schema-bound binary framing, kept
// alongside CBOR per §6 so a store written by either version of the
// recorder stays readable. Every field is written in a fixed order
// matching the Sample struct; optional (pointer) fields are preceded by
// a one-byte presence flag. Maps are written in ascending key order so
// the encoding of a given Sample is deterministic.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/facebookincubator/below-sub000/pkg/sample"
)

func encodeLegacySample(s *sample.Sample) ([]byte, error) {
	w := &legacyWriter{buf: &bytes.Buffer{}}
	w.writeI64(s.Timestamp.Unix())
	writeSystem(w, &s.System)
	w.writeBool(s.Cgroup != nil)
	if s.Cgroup != nil {
		writeCgroup(w, s.Cgroup)
	}
	writePidMap(w, s.Processes)
	w.writeBool(s.Network != nil)
	if s.Network != nil {
		writeNetwork(w, s.Network)
	}
	w.writeBool(s.GPU != nil)
	if s.GPU != nil {
		writeGPU(w, s.GPU)
	}
	w.writeBool(s.Resctrl != nil)
	if s.Resctrl != nil {
		writeResctrl(w, s.Resctrl)
	}
	writeTCMap(w, s.TC)
	writeEthtoolMap(w, s.Ethtool)
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

func decodeLegacySample(raw []byte) (*sample.Sample, error) {
	r := &legacyReader{r: bytes.NewReader(raw)}
	ts := r.readI64()

	s := &sample.Sample{Timestamp: time.Unix(ts, 0).UTC()}
	s.System = readSystem(r)
	if r.readBool() {
		s.Cgroup = readCgroup(r)
	}
	s.Processes = readPidMap(r)
	if r.readBool() {
		s.Network = readNetwork(r)
	}
	if r.readBool() {
		s.GPU = readGPU(r)
	}
	if r.readBool() {
		s.Resctrl = readResctrl(r)
	}
	s.TC = readTCMap(r)
	s.Ethtool = readEthtoolMap(r)
	if r.err != nil {
		return nil, fmt.Errorf("store: legacy decode: %w", r.err)
	}
	return s, nil
}

func writeGPU(w *legacyWriter, g *sample.GPUSample) {
	keys := sortedStringKeysAny(g.Devices)
	w.writeU32(uint32(len(keys)))
	for _, name := range keys {
		w.writeString(name)
		d := g.Devices[name]
		w.writeF64(d.UtilizationPct)
		w.writeU64(d.MemUsedBytes)
		w.writeU64(d.MemTotalBytes)
		w.writeOptF64(d.TempCelsius)
	}
}

func readGPU(r *legacyReader) *sample.GPUSample {
	n := r.readU32()
	g := &sample.GPUSample{Devices: make(map[string]sample.GPUDeviceStat, n)}
	for i := uint32(0); i < n; i++ {
		name := r.readString()
		var d sample.GPUDeviceStat
		d.UtilizationPct = r.readF64()
		d.MemUsedBytes = r.readU64()
		d.MemTotalBytes = r.readU64()
		d.TempCelsius = r.readOptF64()
		g.Devices[name] = d
	}
	return g
}

func writeResctrl(w *legacyWriter, rc *sample.ResctrlSample) {
	keys := sortedStringKeysAny(rc.Groups)
	w.writeU32(uint32(len(keys)))
	for _, name := range keys {
		w.writeString(name)
		g := rc.Groups[name]
		w.writeU64(g.LLCOccupancyBytes)
		w.writeU64(g.MBMTotalBytes)
		w.writeU64(g.MBMLocalBytes)
	}
}

func readResctrl(r *legacyReader) *sample.ResctrlSample {
	n := r.readU32()
	rc := &sample.ResctrlSample{Groups: make(map[string]sample.ResctrlGroupStat, n)}
	for i := uint32(0); i < n; i++ {
		name := r.readString()
		var g sample.ResctrlGroupStat
		g.LLCOccupancyBytes = r.readU64()
		g.MBMTotalBytes = r.readU64()
		g.MBMLocalBytes = r.readU64()
		rc.Groups[name] = g
	}
	return rc
}

func writeTCMap(w *legacyWriter, m map[string]*sample.TCSample) {
	keys := sortedStringKeysAny(m)
	w.writeU32(uint32(len(keys)))
	for _, name := range keys {
		w.writeString(name)
		tc := m[name]
		w.writeU32(uint32(len(tc.Qdiscs)))
		for _, q := range tc.Qdiscs {
			w.writeString(q.Kind)
			w.writeString(q.Handle)
			w.writeU64(q.BytesSent)
			w.writeU64(q.PacketsSent)
			w.writeU64(q.Drops)
			w.writeU64(q.Overlimits)
		}
	}
}

func readTCMap(r *legacyReader) map[string]*sample.TCSample {
	n := r.readU32()
	if n == 0 {
		return nil
	}
	out := make(map[string]*sample.TCSample, n)
	for i := uint32(0); i < n; i++ {
		name := r.readString()
		qn := r.readU32()
		tc := &sample.TCSample{Qdiscs: make([]sample.QdiscStat, 0, qn)}
		for j := uint32(0); j < qn; j++ {
			var q sample.QdiscStat
			q.Kind = r.readString()
			q.Handle = r.readString()
			q.BytesSent = r.readU64()
			q.PacketsSent = r.readU64()
			q.Drops = r.readU64()
			q.Overlimits = r.readU64()
			tc.Qdiscs = append(tc.Qdiscs, q)
		}
		out[name] = tc
	}
	return out
}

func writeEthtoolMap(w *legacyWriter, m map[string]*sample.EthtoolSample) {
	keys := sortedStringKeysAny(m)
	w.writeU32(uint32(len(keys)))
	for _, name := range keys {
		w.writeString(name)
		eth := m[name]
		qKeys := sortedStringKeysAny(eth.Queues)
		w.writeU32(uint32(len(qKeys)))
		for _, qname := range qKeys {
			q := eth.Queues[qname]
			w.writeString(qname)
			w.writeU64(q.RxPackets)
			w.writeU64(q.TxPackets)
			w.writeU64(q.RxBytes)
			w.writeU64(q.TxBytes)
		}
	}
}

func readEthtoolMap(r *legacyReader) map[string]*sample.EthtoolSample {
	n := r.readU32()
	if n == 0 {
		return nil
	}
	out := make(map[string]*sample.EthtoolSample, n)
	for i := uint32(0); i < n; i++ {
		name := r.readString()
		qn := r.readU32()
		eth := &sample.EthtoolSample{Queues: make(map[string]sample.EthtoolQueueStat, qn)}
		for j := uint32(0); j < qn; j++ {
			qname := r.readString()
			var q sample.EthtoolQueueStat
			q.RxPackets = r.readU64()
			q.TxPackets = r.readU64()
			q.RxBytes = r.readU64()
			q.TxBytes = r.readU64()
			eth.Queues[qname] = q
		}
		out[name] = eth
	}
	return out
}

// --- primitive writer/reader ---

type legacyWriter struct {
	buf *bytes.Buffer
	err error
}

func (w *legacyWriter) writeBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *legacyWriter) writeU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *legacyWriter) writeI64(v int64) { w.writeU64(uint64(v)) }

func (w *legacyWriter) writeU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *legacyWriter) writeF64(v float64) {
	w.writeU64(math.Float64bits(v))
}

func (w *legacyWriter) writeString(v string) {
	w.writeU32(uint32(len(v)))
	w.buf.WriteString(v)
}

func (w *legacyWriter) writeOptU64(v *uint64) {
	w.writeBool(v != nil)
	if v != nil {
		w.writeU64(*v)
	}
}

func (w *legacyWriter) writeOptI64(v *int64) {
	w.writeBool(v != nil)
	if v != nil {
		w.writeI64(*v)
	}
}

func (w *legacyWriter) writeOptF64(v *float64) {
	w.writeBool(v != nil)
	if v != nil {
		w.writeF64(*v)
	}
}

func (w *legacyWriter) writeStrings(v []string) {
	w.writeU32(uint32(len(v)))
	for _, s := range v {
		w.writeString(s)
	}
}

type legacyReader struct {
	r   *bytes.Reader
	err error
}

func (r *legacyReader) readBool() bool {
	if r.err != nil {
		return false
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = err
		return false
	}
	return b != 0
}

func (r *legacyReader) readU64() uint64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.err = err
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (r *legacyReader) readI64() int64 { return int64(r.readU64()) }

func (r *legacyReader) readU32() uint32 {
	if r.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.err = err
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (r *legacyReader) readF64() float64 {
	return math.Float64frombits(r.readU64())
}

func (r *legacyReader) readString() string {
	n := r.readU32()
	if r.err != nil || n == 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
		return ""
	}
	return string(b)
}

func (r *legacyReader) readOptU64() *uint64 {
	if !r.readBool() {
		return nil
	}
	v := r.readU64()
	return &v
}

func (r *legacyReader) readOptI64() *int64 {
	if !r.readBool() {
		return nil
	}
	v := r.readI64()
	return &v
}

func (r *legacyReader) readOptF64() *float64 {
	if !r.readBool() {
		return nil
	}
	v := r.readF64()
	return &v
}

func (r *legacyReader) readStrings() []string {
	n := r.readU32()
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, r.readString())
	}
	return out
}

// --- subsystem codecs ---

func writeCPUStat(w *legacyWriter, s *sample.CPUStat) {
	w.writeU64(s.User)
	w.writeU64(s.Nice)
	w.writeU64(s.System)
	w.writeU64(s.Idle)
	w.writeOptU64(s.IOWait)
	w.writeOptU64(s.IRQ)
	w.writeOptU64(s.SoftIRQ)
	w.writeOptU64(s.Steal)
	w.writeOptU64(s.Guest)
	w.writeOptU64(s.GuestNice)
}

func readCPUStat(r *legacyReader) sample.CPUStat {
	var s sample.CPUStat
	s.User = r.readU64()
	s.Nice = r.readU64()
	s.System = r.readU64()
	s.Idle = r.readU64()
	s.IOWait = r.readOptU64()
	s.IRQ = r.readOptU64()
	s.SoftIRQ = r.readOptU64()
	s.Steal = r.readOptU64()
	s.Guest = r.readOptU64()
	s.GuestNice = r.readOptU64()
	return s
}

func writeSystem(w *legacyWriter, s *sample.System) {
	writeCPUStat(w, &s.Stat.TotalCPU)
	names := sortedKeysCPU(s.Stat.PerCPU)
	w.writeU32(uint32(len(names)))
	for _, name := range names {
		w.writeString(name)
		cpu := s.Stat.PerCPU[name]
		writeCPUStat(w, &cpu)
	}
	w.writeU64(s.Stat.Processes)
	w.writeU64(s.Stat.ProcsRunning)
	w.writeU64(s.Stat.ProcsBlocked)
	w.writeI64(s.Stat.BootTimeSec)

	w.writeU64(s.Mem.MemTotal)
	w.writeU64(s.Mem.MemFree)
	w.writeOptU64(s.Mem.MemAvailable)
	w.writeU64(s.Mem.Buffers)
	w.writeU64(s.Mem.Cached)
	w.writeU64(s.Mem.SwapCached)
	w.writeU64(s.Mem.Active)
	w.writeU64(s.Mem.Inactive)
	w.writeU64(s.Mem.SwapTotal)
	w.writeU64(s.Mem.SwapFree)
	w.writeU64(s.Mem.Dirty)
	w.writeU64(s.Mem.Writeback)
	w.writeU64(s.Mem.AnonPages)
	w.writeU64(s.Mem.Mapped)
	w.writeU64(s.Mem.Shmem)
	w.writeU64(s.Mem.Slab)
	w.writeU64(s.Mem.SReclaimable)
	w.writeU64(s.Mem.SUnreclaim)
	w.writeU64(s.Mem.KernelStack)
	w.writeU64(s.Mem.PageTables)
	w.writeU64(s.Mem.CommitLimit)
	w.writeU64(s.Mem.CommittedAS)
	w.writeU64(s.Mem.VmallocTotal)
	w.writeU64(s.Mem.VmallocUsed)
	w.writeU64(s.Mem.HugePagesTotal)
	w.writeU64(s.Mem.HugePagesFree)
	w.writeU64(s.Mem.HugePageSize)

	w.writeU64(s.VMStat.PgFault)
	w.writeU64(s.VMStat.PgMajFault)
	w.writeU64(s.VMStat.PgFree)
	w.writeU64(s.VMStat.PgScanKswapd)
	w.writeU64(s.VMStat.PgScanDirect)
	w.writeU64(s.VMStat.PgSteal)
	w.writeU64(s.VMStat.OOMKill)

	w.writeString(s.Hostname)
	w.writeString(s.Kernel)
	w.writeString(s.OSRelease)

	diskNames := sortedKeysDisk(s.Disks)
	w.writeU32(uint32(len(diskNames)))
	for _, name := range diskNames {
		w.writeString(name)
		d := s.Disks[name]
		w.writeU32(d.Major)
		w.writeU32(d.Minor)
		w.writeU64(d.ReadsCompleted)
		w.writeU64(d.ReadsMerged)
		w.writeU64(d.SectorsRead)
		w.writeU64(d.ReadTimeMs)
		w.writeU64(d.WritesCompleted)
		w.writeU64(d.WritesMerged)
		w.writeU64(d.SectorsWritten)
		w.writeU64(d.WriteTimeMs)
		w.writeU64(d.IOsInProgress)
		w.writeU64(d.IOTimeMs)
		w.writeU64(d.WeightedIOTimeMs)
	}

	btrfsNames := sortedKeysBtrfs(s.Btrfs)
	w.writeU32(uint32(len(btrfsNames)))
	for _, name := range btrfsNames {
		w.writeString(name)
		b := s.Btrfs[name]
		w.writeU64(b.DataBytes)
		w.writeU64(b.MetadataBytes)
		w.writeU64(b.SystemBytes)
	}

	slabNames := sortedKeysSlab(s.Slab)
	w.writeU32(uint32(len(slabNames)))
	for _, name := range slabNames {
		w.writeString(name)
		sl := s.Slab[name]
		w.writeU64(sl.ActiveObjs)
		w.writeU64(sl.NumObjs)
		w.writeU64(sl.ObjSize)
	}
}

func readSystem(r *legacyReader) sample.System {
	var s sample.System
	s.Stat.TotalCPU = readCPUStat(r)
	n := r.readU32()
	s.Stat.PerCPU = make(map[string]sample.CPUStat, n)
	for i := uint32(0); i < n; i++ {
		name := r.readString()
		s.Stat.PerCPU[name] = readCPUStat(r)
	}
	s.Stat.Processes = r.readU64()
	s.Stat.ProcsRunning = r.readU64()
	s.Stat.ProcsBlocked = r.readU64()
	s.Stat.BootTimeSec = r.readI64()

	s.Mem.MemTotal = r.readU64()
	s.Mem.MemFree = r.readU64()
	s.Mem.MemAvailable = r.readOptU64()
	s.Mem.Buffers = r.readU64()
	s.Mem.Cached = r.readU64()
	s.Mem.SwapCached = r.readU64()
	s.Mem.Active = r.readU64()
	s.Mem.Inactive = r.readU64()
	s.Mem.SwapTotal = r.readU64()
	s.Mem.SwapFree = r.readU64()
	s.Mem.Dirty = r.readU64()
	s.Mem.Writeback = r.readU64()
	s.Mem.AnonPages = r.readU64()
	s.Mem.Mapped = r.readU64()
	s.Mem.Shmem = r.readU64()
	s.Mem.Slab = r.readU64()
	s.Mem.SReclaimable = r.readU64()
	s.Mem.SUnreclaim = r.readU64()
	s.Mem.KernelStack = r.readU64()
	s.Mem.PageTables = r.readU64()
	s.Mem.CommitLimit = r.readU64()
	s.Mem.CommittedAS = r.readU64()
	s.Mem.VmallocTotal = r.readU64()
	s.Mem.VmallocUsed = r.readU64()
	s.Mem.HugePagesTotal = r.readU64()
	s.Mem.HugePagesFree = r.readU64()
	s.Mem.HugePageSize = r.readU64()

	s.VMStat.PgFault = r.readU64()
	s.VMStat.PgMajFault = r.readU64()
	s.VMStat.PgFree = r.readU64()
	s.VMStat.PgScanKswapd = r.readU64()
	s.VMStat.PgScanDirect = r.readU64()
	s.VMStat.PgSteal = r.readU64()
	s.VMStat.OOMKill = r.readU64()

	s.Hostname = r.readString()
	s.Kernel = r.readString()
	s.OSRelease = r.readString()

	dn := r.readU32()
	s.Disks = make(map[string]sample.DiskStat, dn)
	for i := uint32(0); i < dn; i++ {
		name := r.readString()
		var d sample.DiskStat
		d.Major = r.readU32()
		d.Minor = r.readU32()
		d.ReadsCompleted = r.readU64()
		d.ReadsMerged = r.readU64()
		d.SectorsRead = r.readU64()
		d.ReadTimeMs = r.readU64()
		d.WritesCompleted = r.readU64()
		d.WritesMerged = r.readU64()
		d.SectorsWritten = r.readU64()
		d.WriteTimeMs = r.readU64()
		d.IOsInProgress = r.readU64()
		d.IOTimeMs = r.readU64()
		d.WeightedIOTimeMs = r.readU64()
		s.Disks[name] = d
	}

	bn := r.readU32()
	s.Btrfs = make(map[string]sample.BtrfsAllocation, bn)
	for i := uint32(0); i < bn; i++ {
		name := r.readString()
		var b sample.BtrfsAllocation
		b.DataBytes = r.readU64()
		b.MetadataBytes = r.readU64()
		b.SystemBytes = r.readU64()
		s.Btrfs[name] = b
	}

	sn := r.readU32()
	s.Slab = make(map[string]sample.SlabStat, sn)
	for i := uint32(0); i < sn; i++ {
		name := r.readString()
		var sl sample.SlabStat
		sl.ActiveObjs = r.readU64()
		sl.NumObjs = r.readU64()
		sl.ObjSize = r.readU64()
		s.Slab[name] = sl
	}

	return s
}

func writeCgroup(w *legacyWriter, c *sample.CgroupSample) {
	w.writeString(c.Name)
	w.writeString(c.FullPath)
	w.writeU64(c.Inode)
	w.writeOptU64(c.CPUUsageUsec)
	w.writeBool(c.CPUStat != nil)
	if c.CPUStat != nil {
		writeCPUStat(w, c.CPUStat)
	}

	ioNames := sortedKeysIO(c.IO)
	w.writeU32(uint32(len(ioNames)))
	for _, dev := range ioNames {
		w.writeString(dev)
		io := c.IO[dev]
		w.writeOptU64(io.RBytes)
		w.writeOptU64(io.WBytes)
		w.writeOptU64(io.RIOs)
		w.writeOptU64(io.WIOs)
	}

	w.writeOptU64(c.MemCurrent)

	memStatKeys := sortedKeysU64Map(c.MemStat)
	w.writeU32(uint32(len(memStatKeys)))
	for _, k := range memStatKeys {
		w.writeString(k)
		w.writeU64(c.MemStat[k])
	}

	w.writeOptU64(c.PidsCurrent)

	w.writeBool(c.Pressure != nil)
	if c.Pressure != nil {
		p := c.Pressure
		w.writeF64(p.SomeAvg10)
		w.writeF64(p.SomeAvg60)
		w.writeF64(p.SomeAvg300)
		w.writeU64(p.SomeTotalUsec)
		w.writeF64(p.FullAvg10)
		w.writeF64(p.FullAvg60)
		w.writeF64(p.FullAvg300)
		w.writeU64(p.FullTotalUsec)
	}

	numaKeys := sortedKeysInt(c.NUMAStat)
	w.writeU32(uint32(len(numaKeys)))
	for _, node := range numaKeys {
		w.writeI64(int64(node))
		n := c.NUMAStat[node]
		w.writeU64(n.Anon)
		w.writeU64(n.File)
		w.writeU64(n.Unevictable)
	}

	w.writeStrings(c.Controllers)

	w.writeBool(c.CPUMax != nil)
	if c.CPUMax != nil {
		w.writeOptU64(c.CPUMax.QuotaUsec)
		w.writeU64(c.CPUMax.PeriodUsec)
	}
	w.writeString(c.CpusetCPUs)
	w.writeString(c.CpusetMems)

	childNames := sortedKeysCgroup(c.Children)
	w.writeU32(uint32(len(childNames)))
	for _, name := range childNames {
		writeCgroup(w, c.Children[name])
	}
}

func readCgroup(r *legacyReader) *sample.CgroupSample {
	c := &sample.CgroupSample{Children: make(map[string]*sample.CgroupSample)}
	c.Name = r.readString()
	c.FullPath = r.readString()
	c.Inode = r.readU64()
	c.CPUUsageUsec = r.readOptU64()
	if r.readBool() {
		cpu := readCPUStat(r)
		c.CPUStat = &cpu
	}

	ioN := r.readU32()
	if ioN > 0 {
		c.IO = make(map[string]sample.IOStat, ioN)
		for i := uint32(0); i < ioN; i++ {
			dev := r.readString()
			c.IO[dev] = sample.IOStat{
				RBytes: r.readOptU64(),
				WBytes: r.readOptU64(),
				RIOs:   r.readOptU64(),
				WIOs:   r.readOptU64(),
			}
		}
	}

	c.MemCurrent = r.readOptU64()

	msN := r.readU32()
	if msN > 0 {
		c.MemStat = make(map[string]uint64, msN)
		for i := uint32(0); i < msN; i++ {
			k := r.readString()
			c.MemStat[k] = r.readU64()
		}
	}

	c.PidsCurrent = r.readOptU64()

	if r.readBool() {
		p := &sample.PressureSample{}
		p.SomeAvg10 = r.readF64()
		p.SomeAvg60 = r.readF64()
		p.SomeAvg300 = r.readF64()
		p.SomeTotalUsec = r.readU64()
		p.FullAvg10 = r.readF64()
		p.FullAvg60 = r.readF64()
		p.FullAvg300 = r.readF64()
		p.FullTotalUsec = r.readU64()
		c.Pressure = p
	}

	numaN := r.readU32()
	if numaN > 0 {
		c.NUMAStat = make(map[int]sample.NUMAStat, numaN)
		for i := uint32(0); i < numaN; i++ {
			node := int(r.readI64())
			var n sample.NUMAStat
			n.Anon = r.readU64()
			n.File = r.readU64()
			n.Unevictable = r.readU64()
			c.NUMAStat[node] = n
		}
	}

	c.Controllers = r.readStrings()

	if r.readBool() {
		c.CPUMax = &sample.CPUMax{
			QuotaUsec:  r.readOptU64(),
			PeriodUsec: r.readU64(),
		}
	}
	c.CpusetCPUs = r.readString()
	c.CpusetMems = r.readString()

	childN := r.readU32()
	for i := uint32(0); i < childN; i++ {
		child := readCgroup(r)
		c.Children[child.Name] = child
	}

	return c
}

func writePidMap(w *legacyWriter, m map[int32]*sample.PidInfo) {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	w.writeU32(uint32(len(keys)))
	for _, pid := range keys {
		p := m[pid]
		w.writeI64(int64(p.Pid))
		w.writeI64(int64(p.Ppid))
		w.writeI64(int64(p.Pgrp))
		w.writeI64(int64(p.Session))
		w.writeString(p.Comm)
		w.buf.WriteByte(p.State)
		w.writeI64(p.StartTime.Unix())
		w.writeU64(p.UtimeTicks)
		w.writeU64(p.StimeTicks)
		w.writeI64(int64(p.NumThreads))
		w.writeU64(p.MinFlt)
		w.writeU64(p.MajFlt)
		w.writeI64(int64(p.Nice))
		w.writeI64(int64(p.Priority))
		w.writeU64(p.VSizeBytes)
		w.writeU64(p.RSSBytes)
		w.writeOptU64(p.VoluntaryCtxtSwitches)
		w.writeOptU64(p.NonvoluntaryCtxtSwitches)

		w.writeBool(p.IO != nil)
		if p.IO != nil {
			w.writeU64(p.IO.ReadBytes)
			w.writeU64(p.IO.WriteBytes)
			w.writeU64(p.IO.RChar)
			w.writeU64(p.IO.WChar)
			w.writeU64(p.IO.SyscR)
			w.writeU64(p.IO.SyscW)
		}

		w.writeString(p.CgroupPath)
		w.writeStrings(p.Cmdline)
		w.writeString(p.Exe)
	}
}

func readPidMap(r *legacyReader) map[int32]*sample.PidInfo {
	n := r.readU32()
	out := make(map[int32]*sample.PidInfo, n)
	for i := uint32(0); i < n; i++ {
		p := &sample.PidInfo{}
		p.Pid = int32(r.readI64())
		p.Ppid = int32(r.readI64())
		p.Pgrp = int32(r.readI64())
		p.Session = int32(r.readI64())
		p.Comm = r.readString()
		if r.err == nil {
			b, err := r.r.ReadByte()
			if err != nil {
				r.err = err
			} else {
				p.State = b
			}
		}
		p.StartTime = time.Unix(r.readI64(), 0).UTC()
		p.UtimeTicks = r.readU64()
		p.StimeTicks = r.readU64()
		p.NumThreads = int32(r.readI64())
		p.MinFlt = r.readU64()
		p.MajFlt = r.readU64()
		p.Nice = int32(r.readI64())
		p.Priority = int32(r.readI64())
		p.VSizeBytes = r.readU64()
		p.RSSBytes = r.readU64()
		p.VoluntaryCtxtSwitches = r.readOptU64()
		p.NonvoluntaryCtxtSwitches = r.readOptU64()

		if r.readBool() {
			io := &sample.PidIO{}
			io.ReadBytes = r.readU64()
			io.WriteBytes = r.readU64()
			io.RChar = r.readU64()
			io.WChar = r.readU64()
			io.SyscR = r.readU64()
			io.SyscW = r.readU64()
			p.IO = io
		}

		p.CgroupPath = r.readString()
		p.Cmdline = r.readStrings()
		p.Exe = r.readString()

		out[p.Pid] = p
	}
	return out
}

func writeNetwork(w *legacyWriter, n *sample.NetStats) {
	names := sortedKeysIface(n.Interfaces)
	w.writeU32(uint32(len(names)))
	for _, name := range names {
		w.writeString(name)
		iface := n.Interfaces[name]
		w.writeU64(iface.RxBytes)
		w.writeU64(iface.RxPackets)
		w.writeU64(iface.RxErrors)
		w.writeU64(iface.RxDropped)
		w.writeU64(iface.TxBytes)
		w.writeU64(iface.TxPackets)
		w.writeU64(iface.TxErrors)
		w.writeU64(iface.TxDropped)
		w.writeOptU64(iface.Speed)
		w.writeString(iface.Duplex)
		w.writeString(iface.OperState)
		w.writeBool(iface.LinkDetected)
	}

	t := n.TCP
	w.writeU64(t.ActiveOpens)
	w.writeU64(t.PassiveOpens)
	w.writeU64(t.AttemptFails)
	w.writeU64(t.EstabResets)
	w.writeU64(t.CurrEstab)
	w.writeU64(t.InSegs)
	w.writeU64(t.OutSegs)
	w.writeU64(t.RetransSegs)
	w.writeU64(t.InErrs)
	w.writeU64(t.OutRsts)

	u := n.UDP
	w.writeU64(u.InDatagrams)
	w.writeU64(u.NoPorts)
	w.writeU64(u.InErrors)
	w.writeU64(u.OutDatagrams)
	w.writeU64(u.RcvbufErrors)
	w.writeU64(u.SndbufErrors)

	ip := n.IP
	w.writeU64(ip.InReceives)
	w.writeU64(ip.InHdrErrors)
	w.writeU64(ip.InAddrErrors)
	w.writeU64(ip.ForwDatagrams)
	w.writeU64(ip.InDiscards)
	w.writeU64(ip.InDelivers)
	w.writeU64(ip.OutRequests)
	w.writeU64(ip.OutDiscards)
	w.writeU64(ip.OutNoRoutes)

	icmp := n.ICMP
	w.writeU64(icmp.InMsgs)
	w.writeU64(icmp.InErrors)
	w.writeU64(icmp.OutMsgs)
	w.writeU64(icmp.OutErrors)

	te := n.TCPExt
	w.writeU64(te.SyncookiesSent)
	w.writeU64(te.SyncookiesRecv)
	w.writeU64(te.SyncookiesFailed)
	w.writeU64(te.ListenOverflows)
	w.writeU64(te.ListenDrops)
	w.writeU64(te.TCPLostRetransmit)
	w.writeU64(te.InBytes)
	w.writeU64(te.OutBytes)
}

func readNetwork(r *legacyReader) *sample.NetStats {
	n := &sample.NetStats{}
	ifN := r.readU32()
	n.Interfaces = make(map[string]sample.InterfaceStat, ifN)
	for i := uint32(0); i < ifN; i++ {
		name := r.readString()
		var iface sample.InterfaceStat
		iface.RxBytes = r.readU64()
		iface.RxPackets = r.readU64()
		iface.RxErrors = r.readU64()
		iface.RxDropped = r.readU64()
		iface.TxBytes = r.readU64()
		iface.TxPackets = r.readU64()
		iface.TxErrors = r.readU64()
		iface.TxDropped = r.readU64()
		iface.Speed = r.readOptU64()
		iface.Duplex = r.readString()
		iface.OperState = r.readString()
		iface.LinkDetected = r.readBool()
		n.Interfaces[name] = iface
	}

	n.TCP.ActiveOpens = r.readU64()
	n.TCP.PassiveOpens = r.readU64()
	n.TCP.AttemptFails = r.readU64()
	n.TCP.EstabResets = r.readU64()
	n.TCP.CurrEstab = r.readU64()
	n.TCP.InSegs = r.readU64()
	n.TCP.OutSegs = r.readU64()
	n.TCP.RetransSegs = r.readU64()
	n.TCP.InErrs = r.readU64()
	n.TCP.OutRsts = r.readU64()

	n.UDP.InDatagrams = r.readU64()
	n.UDP.NoPorts = r.readU64()
	n.UDP.InErrors = r.readU64()
	n.UDP.OutDatagrams = r.readU64()
	n.UDP.RcvbufErrors = r.readU64()
	n.UDP.SndbufErrors = r.readU64()

	n.IP.InReceives = r.readU64()
	n.IP.InHdrErrors = r.readU64()
	n.IP.InAddrErrors = r.readU64()
	n.IP.ForwDatagrams = r.readU64()
	n.IP.InDiscards = r.readU64()
	n.IP.InDelivers = r.readU64()
	n.IP.OutRequests = r.readU64()
	n.IP.OutDiscards = r.readU64()
	n.IP.OutNoRoutes = r.readU64()

	n.ICMP.InMsgs = r.readU64()
	n.ICMP.InErrors = r.readU64()
	n.ICMP.OutMsgs = r.readU64()
	n.ICMP.OutErrors = r.readU64()

	n.TCPExt.SyncookiesSent = r.readU64()
	n.TCPExt.SyncookiesRecv = r.readU64()
	n.TCPExt.SyncookiesFailed = r.readU64()
	n.TCPExt.ListenOverflows = r.readU64()
	n.TCPExt.ListenDrops = r.readU64()
	n.TCPExt.TCPLostRetransmit = r.readU64()
	n.TCPExt.InBytes = r.readU64()
	n.TCPExt.OutBytes = r.readU64()

	return n
}

// --- sort helpers (map iteration order is randomized; the wire format
// must be deterministic) ---

func sortedKeysCPU(m map[string]sample.CPUStat) []string { return sortedStringKeysAny(m) }
func sortedKeysDisk(m map[string]sample.DiskStat) []string { return sortedStringKeysAny(m) }
func sortedKeysBtrfs(m map[string]sample.BtrfsAllocation) []string { return sortedStringKeysAny(m) }
func sortedKeysSlab(m map[string]sample.SlabStat) []string { return sortedStringKeysAny(m) }
func sortedKeysIO(m map[string]sample.IOStat) []string { return sortedStringKeysAny(m) }
func sortedKeysU64Map(m map[string]uint64) []string { return sortedStringKeysAny(m) }
func sortedKeysCgroup(m map[string]*sample.CgroupSample) []string { return sortedStringKeysAny(m) }
func sortedKeysIface(m map[string]sample.InterfaceStat) []string { return sortedStringKeysAny(m) }

func sortedKeysInt(m map[int]sample.NUMAStat) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// sortedStringKeysAny works for any map[string]V via a tiny reflection-free
// trick: each call site passes a concrete map type, so Go's generics infer V.
func sortedStringKeysAny[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
