// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package query

import (
	"fmt"
	"strings"
)

// FormatKind is the format-specifier variant a RenderConfig carries.
type FormatKind int

const (
	FormatPrecision FormatKind = iota
	FormatReadableSize
	FormatPageReadableSize
	FormatSectorReadableSize
	FormatMaxOrReadableSize
)

// Format is {Precision(n), ReadableSize, PageReadableSize,
// SectorReadableSize, MaxOrReadableSize} from §4.6; Precision is only
// meaningful when Kind is FormatPrecision.
type Format struct {
	Kind      FormatKind
	Precision int
}

// RenderConfig is the display metadata for one field: a title, an
// optional column width, an optional unit suffix, and a format.
type RenderConfig struct {
	Title string
	Width *int
	Unit  string
	Format Format
}

func widthOf(n int) *int { return &n }

// renderEntry is the static part of a RenderConfig, keyed by leaf
// string; RenderConfigFor copies it unchanged, so the title does not
// depend on a cgroup path or device name.
type renderEntry struct {
	title  string
	width  *int
	unit   string
	format Format
}

var topLevelRender = map[string]renderEntry{
	"hostname":                {title: "Hostname", width: widthOf(20)},
	"kernel":                  {title: "Kernel", width: widthOf(20)},
	"os_release":              {title: "OS", width: widthOf(20)},
	"mem.total_bytes":         {title: "Mem Total", format: Format{Kind: FormatReadableSize}},
	"mem.free_bytes":          {title: "Mem Free", format: Format{Kind: FormatReadableSize}},
	"mem.available_bytes":     {title: "Mem Avail", format: Format{Kind: FormatReadableSize}},
	"mem.cached_bytes":        {title: "Mem Cached", format: Format{Kind: FormatReadableSize}},
	"mem.pgfault_per_sec":     {title: "PgFault/s", format: Format{Kind: FormatPrecision, Precision: 1}},
	"mem.pgmajfault_per_sec":  {title: "PgMajFault/s", format: Format{Kind: FormatPrecision, Precision: 1}},
	"cpu.usage_pct":           {title: "CPU Usage", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"cpu.user_pct":            {title: "CPU User", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"cpu.system_pct":          {title: "CPU Sys", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"cpu.iowait_pct":          {title: "CPU IOWait", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
}

var suffixRender = map[string]renderEntry{
	"usage_pct":            {title: "Usage", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"user_pct":             {title: "User", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"system_pct":           {title: "System", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"iowait_pct":           {title: "IOWait", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"read_bytes_per_sec":   {title: "Read", format: Format{Kind: FormatReadableSize}},
	"write_bytes_per_sec":  {title: "Write", format: Format{Kind: FormatReadableSize}},
	"iops":                 {title: "IOPS", format: Format{Kind: FormatPrecision, Precision: 0}},
	"utilization_pct":      {title: "Util", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"rx_bytes_per_sec":     {title: "RX", format: Format{Kind: FormatReadableSize}},
	"tx_bytes_per_sec":     {title: "TX", format: Format{Kind: FormatReadableSize}},
	"rx_packets_per_sec":   {title: "RX Pkt/s", format: Format{Kind: FormatPrecision, Precision: 0}},
	"tx_packets_per_sec":   {title: "TX Pkt/s", format: Format{Kind: FormatPrecision, Precision: 0}},
	"active_opens_per_sec":  {title: "Active Opens/s", format: Format{Kind: FormatPrecision, Precision: 1}},
	"passive_opens_per_sec": {title: "Passive Opens/s", format: Format{Kind: FormatPrecision, Precision: 1}},
	"retrans_segs_per_sec":  {title: "Retrans/s", format: Format{Kind: FormatPrecision, Precision: 1}},
	"mem_current_bytes":     {title: "Mem Current", format: Format{Kind: FormatReadableSize}},
	"pids_current":          {title: "Pids", format: Format{Kind: FormatPrecision, Precision: 0}},
	"count":                 {title: "Count", format: Format{Kind: FormatPrecision, Precision: 0}},
	"recreate_flag":         {title: "Recreated", format: Format{Kind: FormatPrecision, Precision: 0}},
	"r_bytes_per_sec":       {title: "Read", format: Format{Kind: FormatReadableSize}},
	"w_bytes_per_sec":       {title: "Write", format: Format{Kind: FormatReadableSize}},
	"r_io_per_sec":          {title: "Read IOPS", format: Format{Kind: FormatPrecision, Precision: 0}},
	"w_io_per_sec":          {title: "Write IOPS", format: Format{Kind: FormatPrecision, Precision: 0}},
	"pressure.cpu_avg10":    {title: "CPU Pressure", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"pressure.memory_avg10": {title: "Mem Pressure", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
	"pressure.io_avg10":     {title: "IO Pressure", unit: "%", format: Format{Kind: FormatPrecision, Precision: 1}},
}

// RenderConfigFor yields the display metadata for id. Cgroup-relative
// fields get their title derived from the leaf's suffix (the part
// after the last device/cpu/io-device segment), since the same leaf
// vocabulary is reused across every cgroup node.
func RenderConfigFor(id FieldId) (RenderConfig, error) {
	if id.CgroupPath != nil {
		if e, ok := suffixRender[id.Leaf]; ok {
			return toRenderConfig(e), nil
		}
		if e, ok := lookupSuffix(id.Leaf); ok {
			return toRenderConfig(e), nil
		}
		return RenderConfig{}, fmt.Errorf("query: no render config for cgroup leaf %q", id.Leaf)
	}

	if e, ok := topLevelRender[id.Leaf]; ok {
		return toRenderConfig(e), nil
	}
	if e, ok := lookupSuffix(id.Leaf); ok {
		return toRenderConfig(e), nil
	}
	return RenderConfig{}, fmt.Errorf("query: no render config for field %q", id.Leaf)
}

// lookupSuffix handles dotted leaves whose last segment names a rate
// or counter shared across subqueries (disks.sda.read_bytes_per_sec,
// network.interfaces.eth0.rx_bytes_per_sec, io.8:0.r_bytes_per_sec):
// the render metadata only depends on the final segment.
func lookupSuffix(leaf string) (renderEntry, bool) {
	idx := strings.LastIndex(leaf, ".")
	if idx < 0 {
		return renderEntry{}, false
	}
	e, ok := suffixRender[leaf[idx+1:]]
	return e, ok
}

func toRenderConfig(e renderEntry) RenderConfig {
	return RenderConfig{Title: e.title, Width: e.width, Unit: e.unit, Format: e.format}
}
