// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package query resolves a path string into a typed value inside a
// model.Model tree, plus the rendering metadata (title, width, unit,
// format) a dumper needs to print it (§4.6).
package query

import (
	"fmt"
	"strings"
)

// FieldId is a parsed path into the model tree. A non-nil CgroupPath
// means the field lives under that cgroup node (addressed by name,
// root-relative); Leaf is always the dotted field identifier, its
// vocabulary depending on whether CgroupPath is set.
type FieldId struct {
	CgroupPath []string
	Leaf       string
}

const cgroupPrefix = "path:/"

// ParseFieldId parses either form named in §4.6:
//
//	path:/<segment>/<segment>/.<leaf>   (cgroup-relative; empty path means root)
//	<leaf>                              (everything else, e.g. disks.sda.read_bytes_per_sec)
func ParseFieldId(raw string) (FieldId, error) {
	if !strings.HasPrefix(raw, cgroupPrefix) {
		if raw == "" {
			return FieldId{}, fmt.Errorf("query: empty field id")
		}
		return FieldId{Leaf: raw}, nil
	}

	// Keep the prefix's trailing slash so a root path ("path:/.<leaf>")
	// still has its "/." terminator.
	rest := raw[len(cgroupPrefix)-1:]
	// The "/." terminator is located via the *last* occurrence, since
	// cgroup names may themselves contain a leading dot (hidden cgroups).
	idx := strings.LastIndex(rest, "/.")
	if idx < 0 {
		return FieldId{}, fmt.Errorf("query: %q: missing /.<leaf> terminator", raw)
	}

	segPart := rest[:idx]
	leaf := rest[idx+2:]
	if leaf == "" {
		return FieldId{}, fmt.Errorf("query: %q: empty leaf field id", raw)
	}

	return FieldId{CgroupPath: splitCollapsed(segPart), Leaf: leaf}, nil
}

// splitCollapsed splits on "/", collapsing consecutive slashes and
// dropping leading/trailing empties, so both "/a/b" and "//a///b/"
// produce ["a", "b"]. An empty input yields an empty (non-nil) path.
func splitCollapsed(s string) []string {
	raw := strings.Split(s, "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Kind tags which of Field's value fields is populated.
type Kind int

const (
	KindU64 Kind = iota
	KindI64
	KindF64
	KindStr
)

// Field is a typed scalar resolved from the model tree.
type Field struct {
	Kind Kind
	U64  uint64
	I64  int64
	F64  float64
	Str  string
}

func fieldU64(v uint64) Field  { return Field{Kind: KindU64, U64: v} }
func fieldI64(v int64) Field   { return Field{Kind: KindI64, I64: v} }
func fieldF64(v float64) Field { return Field{Kind: KindF64, F64: v} }
func fieldStr(v string) Field  { return Field{Kind: KindStr, Str: v} }

// optU64 resolves a *uint64 counter field: nil means "None" (absent on
// this kernel/cgroup/subsystem this tick), not zero.
func optU64(v *uint64) (Field, bool) {
	if v == nil {
		return Field{}, false
	}
	return fieldU64(*v), true
}

func optF64(v *float64) (Field, bool) {
	if v == nil {
		return Field{}, false
	}
	return fieldF64(*v), true
}
