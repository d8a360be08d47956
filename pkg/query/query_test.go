// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/below-sub000/pkg/model"
)

func fptr(v float64) *float64 { return &v }
func uptr(v uint64) *uint64   { return &v }

func TestParseFieldIdTopLevel(t *testing.T) {
	id, err := ParseFieldId("disks.sda.read_bytes_per_sec")
	require.NoError(t, err)
	assert.Nil(t, id.CgroupPath)
	assert.Equal(t, "disks.sda.read_bytes_per_sec", id.Leaf)
}

func TestParseFieldIdEmpty(t *testing.T) {
	_, err := ParseFieldId("")
	assert.Error(t, err)
}

func TestParseFieldIdCgroupRoot(t *testing.T) {
	id, err := ParseFieldId("path:/.cpu.usage_pct")
	require.NoError(t, err)
	assert.Equal(t, []string{}, id.CgroupPath)
	assert.Equal(t, "cpu.usage_pct", id.Leaf)
}

func TestParseFieldIdCgroupNested(t *testing.T) {
	id, err := ParseFieldId("path:/workload.slice/foo.scope/.mem_current_bytes")
	require.NoError(t, err)
	assert.Equal(t, []string{"workload.slice", "foo.scope"}, id.CgroupPath)
	assert.Equal(t, "mem_current_bytes", id.Leaf)
}

func TestParseFieldIdCgroupCollapsedSlashes(t *testing.T) {
	id, err := ParseFieldId("path://a///b/.count")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, id.CgroupPath)
	assert.Equal(t, "count", id.Leaf)
}

func TestParseFieldIdCgroupDottedNameUsesLastSlashDot(t *testing.T) {
	// A cgroup segment named ".hidden" must not be mistaken for the
	// /.<leaf> terminator; only the last "/." in the string counts.
	id, err := ParseFieldId("path:/.hidden/.count")
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden"}, id.CgroupPath)
	assert.Equal(t, "count", id.Leaf)
}

func TestParseFieldIdMissingTerminator(t *testing.T) {
	_, err := ParseFieldId("path:/workload.slice")
	assert.Error(t, err)
}

func TestParseFieldIdEmptyLeaf(t *testing.T) {
	_, err := ParseFieldId("path:/workload.slice/.")
	assert.Error(t, err)
}

func buildModel() *model.Model {
	return &model.Model{
		System: model.SystemModel{
			Hostname:          "host-1",
			Kernel:            "6.1.0",
			OSRelease:         "Test Linux",
			MemTotalBytes:     1000,
			MemFreeBytes:      500,
			MemAvailableBytes: uptr(700),
			CachedBytes:       100,
			PgFaultPerSec:     fptr(1.5),
			CPU:               model.CPUModel{UsagePct: fptr(42.0)},
			PerCPU: map[string]model.CPUModel{
				"0": {UsagePct: fptr(10.0)},
			},
			Disks: map[string]model.DiskModel{
				"sda": {ReadBytesPerSec: fptr(123.0)},
			},
		},
		Network: &model.NetworkModel{
			Interfaces: map[string]model.InterfaceModel{
				"eth0": {RxBytesPerSec: fptr(99.0)},
			},
			TCP: model.TCPModel{ActiveOpensPerSec: fptr(3.0)},
		},
		Cgroup: &model.CgroupModel{
			Name:            "",
			FullPath:        "/",
			Count:           2,
			MemCurrentBytes: uptr(2048),
			IOTotal:         model.IOModel{RBytesPerSec: fptr(5.0)},
			IO: map[string]model.IOModel{
				"8:0": {WBytesPerSec: fptr(7.0)},
			},
			Children: map[string]*model.CgroupModel{
				"workload.slice": {
					Name:            "workload.slice",
					FullPath:        "/workload.slice",
					Count:           1,
					CPUUsagePct:     fptr(13.5),
					MemCurrentBytes: uptr(512),
				},
			},
		},
	}
}

func TestQueryTopLevelFields(t *testing.T) {
	m := buildModel()

	f, ok, err := Query(m, FieldId{Leaf: "hostname"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "host-1", f.Str)

	f, ok, err = Query(m, FieldId{Leaf: "mem.available_bytes"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(700), f.U64)

	f, ok, err = Query(m, FieldId{Leaf: "cpu.usage_pct"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 42.0, f.F64, 0.0001)
}

func TestQueryIndexedSubpaths(t *testing.T) {
	m := buildModel()

	f, ok, err := Query(m, FieldId{Leaf: "cpus.0.usage_pct"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 10.0, f.F64, 0.0001)

	f, ok, err = Query(m, FieldId{Leaf: "disks.sda.read_bytes_per_sec"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 123.0, f.F64, 0.0001)

	f, ok, err = Query(m, FieldId{Leaf: "network.interfaces.eth0.rx_bytes_per_sec"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 99.0, f.F64, 0.0001)

	f, ok, err = Query(m, FieldId{Leaf: "network.tcp.active_opens_per_sec"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.0, f.F64, 0.0001)
}

func TestQueryNonexistentIndexedSubpathIsAbsentNotError(t *testing.T) {
	m := buildModel()

	_, ok, err := Query(m, FieldId{Leaf: "disks.sdz.read_bytes_per_sec"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = Query(m, FieldId{Leaf: "cpus.99.usage_pct"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryUnknownLeafIsError(t *testing.T) {
	m := buildModel()
	_, _, err := Query(m, FieldId{Leaf: "not_a_real_field"})
	assert.Error(t, err)

	_, _, err = Query(m, FieldId{Leaf: "disks.sda.not_a_real_field"})
	assert.Error(t, err)
}

func TestQueryFieldThatIsNoneOnModel(t *testing.T) {
	m := buildModel()
	m.System.PgMajFaultPerSec = nil
	_, ok, err := Query(m, FieldId{Leaf: "mem.pgmajfault_per_sec"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryCgroupRootAndNested(t *testing.T) {
	m := buildModel()

	f, ok, err := Query(m, FieldId{CgroupPath: []string{}, Leaf: "mem_current_bytes"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2048), f.U64)

	f, ok, err = Query(m, FieldId{CgroupPath: []string{"workload.slice"}, Leaf: "cpu.usage_pct"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 13.5, f.F64, 0.0001)
}

func TestQueryCgroupNonexistentPathIsAbsentNotError(t *testing.T) {
	m := buildModel()
	_, ok, err := Query(m, FieldId{CgroupPath: []string{"does-not-exist"}, Leaf: "count"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryCgroupIOSubpaths(t *testing.T) {
	m := buildModel()

	f, ok, err := Query(m, FieldId{CgroupPath: []string{}, Leaf: "io_total.r_bytes_per_sec"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 5.0, f.F64, 0.0001)

	f, ok, err = Query(m, FieldId{CgroupPath: []string{}, Leaf: "io.8:0.w_bytes_per_sec"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 7.0, f.F64, 0.0001)

	_, ok, err = Query(m, FieldId{CgroupPath: []string{}, Leaf: "io.9:0.w_bytes_per_sec"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenderConfigForTopLevel(t *testing.T) {
	rc, err := RenderConfigFor(FieldId{Leaf: "mem.total_bytes"})
	require.NoError(t, err)
	assert.Equal(t, "Mem Total", rc.Title)
	assert.Equal(t, FormatReadableSize, rc.Format.Kind)
}

func TestRenderConfigForIndexedSuffix(t *testing.T) {
	rc, err := RenderConfigFor(FieldId{Leaf: "disks.sda.read_bytes_per_sec"})
	require.NoError(t, err)
	assert.Equal(t, FormatReadableSize, rc.Format.Kind)
}

func TestRenderConfigForCgroupLeaf(t *testing.T) {
	rc, err := RenderConfigFor(FieldId{CgroupPath: []string{"workload.slice"}, Leaf: "pressure.cpu_avg10"})
	require.NoError(t, err)
	assert.Equal(t, "%", rc.Unit)
	assert.Equal(t, FormatPrecision, rc.Format.Kind)
	assert.Equal(t, 1, rc.Format.Precision)
}

func TestRenderConfigForUnknownFieldIsError(t *testing.T) {
	_, err := RenderConfigFor(FieldId{Leaf: "nonsense_field"})
	assert.Error(t, err)
}
