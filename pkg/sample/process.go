// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	pkgerrors "github.com/facebookincubator/below-sub000/pkg/errors"
	"github.com/facebookincubator/below-sub000/pkg/sample/procutils"
	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
)

func init() {
	Register(SubsystemProcess, func(logger logr.Logger, config Config) (Collector, error) {
		return NewProcessCollector(logger, config), nil
	})
}

var _ Collector = (*ProcessCollector)(nil)

// ProcessCollector walks /proc/<pid> for every running process. Cmdline
// reads are dispatched to a bounded worker pool with a per-pid timeout so
// one process stuck holding mmap_sem cannot stall collection of the rest.
type ProcessCollector struct {
	BaseCollector
	procUtils *procutils.ProcUtils
}

func NewProcessCollector(logger logr.Logger, config Config) *ProcessCollector {
	return &ProcessCollector{
		BaseCollector: NewBaseCollector(SubsystemProcess, "process", logger, config),
		procUtils:     procutils.New(config.HostProcPath),
	}
}

func (c *ProcessCollector) Collect(ctx context.Context) (any, error) {
	procPath := c.Config().HostProcPath
	entries, err := os.ReadDir(procPath)
	if err != nil {
		return nil, err
	}

	bootTime, err := c.procUtils.GetBootTime()
	if err != nil {
		return nil, err
	}
	clockTick, err := c.procUtils.GetUserHZ()
	if err != nil {
		return nil, err
	}
	pageSize, err := c.procUtils.GetPageSize()
	if err != nil {
		return nil, err
	}

	out := make(map[int32]*PidInfo)
	for _, e := range entries {
		pid, err := strconv.ParseInt(e.Name(), 10, 32)
		if err != nil || !e.IsDir() {
			continue
		}
		info, ok := c.collectOne(procPath, int32(pid), bootTime, uint64(clockTick), uint64(pageSize))
		if ok {
			out[int32(pid)] = info
		}
	}

	c.collectCmdlines(ctx, procPath, out)

	return out, nil
}

// collectOne reads the synchronous per-pid files. Any ENOENT during this
// walk means the process exited mid-scan; the pid is dropped silently
// rather than surfaced as an error (§4.1 ENOENT/ESRCH policy).
func (c *ProcessCollector) collectOne(procPath string, pid int32, bootTime time.Time, clockTick, pageSize uint64) (*PidInfo, bool) {
	dir := filepath.Join(procPath, strconv.Itoa(int(pid)))

	statBytes, err := os.ReadFile(filepath.Join(dir, "stat"))
	if isGoneErr(err) {
		return nil, false
	}
	if err != nil {
		c.Logger().V(2).Info("failed to read stat", "pid", pid, "error", err)
		return nil, false
	}

	info := parseStat(statBytes, bootTime, clockTick, pageSize)
	if info == nil {
		return nil, false
	}
	info.Pid = pid

	if statusBytes, err := os.ReadFile(filepath.Join(dir, "status")); err == nil {
		applyStatus(info, statusBytes)
	}

	if ioBytes, err := os.ReadFile(filepath.Join(dir, "io")); err == nil {
		info.IO = parsePidIO(ioBytes)
	} else if !os.IsPermission(err) && !isGoneErr(err) {
		c.Logger().V(2).Info("failed to read io", "pid", pid, "error", err)
	}

	if cg, err := os.ReadFile(filepath.Join(dir, "cgroup")); err == nil {
		info.CgroupPath = parseCgroupFile(cg)
	}

	if exe, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		info.Exe = exe
	}

	return info, true
}

// isGoneErr reports whether err means "the process exited while we were
// looking at it" — ENOENT is the common case when the /proc/<pid>
// directory itself vanished; ESRCH shows up on some kernel versions when
// the pid is reused or reaped mid-read. Both are treated as a silent
// drop, never a collection error (§4.1 ENOENT/ESRCH policy).
func isGoneErr(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}

// parseStat parses /proc/<pid>/stat. The comm field (index 1) is
// parenthesized and may itself contain spaces/parens, so it is located
// by the last ")" rather than by field-splitting.
func parseStat(raw []byte, bootTime time.Time, clockTick, pageSize uint64) *PidInfo {
	s := string(raw)
	open := strings.IndexByte(s, '(')
	close := strings.LastIndexByte(s, ')')
	if open < 0 || close < 0 || close < open {
		return nil
	}
	comm := s[open+1 : close]
	rest := strings.Fields(s[close+1:])
	if len(rest) < 20 {
		return nil
	}

	info := &PidInfo{Comm: comm}
	info.State = rest[0][0]

	if v, err := strconv.ParseInt(rest[1], 10, 32); err == nil {
		info.Ppid = int32(v)
	}
	if v, err := strconv.ParseInt(rest[2], 10, 32); err == nil {
		info.Pgrp = int32(v)
	}
	if v, err := strconv.ParseInt(rest[3], 10, 32); err == nil {
		info.Session = int32(v)
	}
	if v, err := strconv.ParseUint(rest[7], 10, 64); err == nil {
		info.MinFlt = v
	}
	if v, err := strconv.ParseUint(rest[9], 10, 64); err == nil {
		info.MajFlt = v
	}
	if v, err := strconv.ParseUint(rest[11], 10, 64); err == nil {
		info.UtimeTicks = v
	}
	if v, err := strconv.ParseUint(rest[12], 10, 64); err == nil {
		info.StimeTicks = v
	}
	if v, err := strconv.ParseInt(rest[15], 10, 32); err == nil {
		info.Priority = int32(v)
	}
	if v, err := strconv.ParseInt(rest[16], 10, 32); err == nil {
		info.Nice = int32(v)
	}
	if v, err := strconv.ParseInt(rest[17], 10, 32); err == nil {
		info.NumThreads = int32(v)
	}
	if clockTick > 0 {
		if v, err := strconv.ParseUint(rest[19], 10, 64); err == nil {
			startSec := float64(v) / float64(clockTick)
			info.StartTime = bootTime.Add(time.Duration(startSec * float64(time.Second)))
		}
	}
	if v, err := strconv.ParseUint(rest[20], 10, 64); err == nil {
		info.VSizeBytes = v
	}
	if v, err := strconv.ParseUint(rest[21], 10, 64); err == nil {
		info.RSSBytes = v * pageSize
	}

	return info
}

func applyStatus(info *PidInfo, raw []byte) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "voluntary_ctxt_switches:"):
			if v, err := strconv.ParseUint(strings.Fields(line)[1], 10, 64); err == nil {
				info.VoluntaryCtxtSwitches = &v
			}
		case strings.HasPrefix(line, "nonvoluntary_ctxt_switches:"):
			if v, err := strconv.ParseUint(strings.Fields(line)[1], 10, 64); err == nil {
				info.NonvoluntaryCtxtSwitches = &v
			}
		}
	}
}

func parsePidIO(raw []byte) *PidIO {
	io := &PidIO{}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "rchar":
			io.RChar = v
		case "wchar":
			io.WChar = v
		case "syscr":
			io.SyscR = v
		case "syscw":
			io.SyscW = v
		case "read_bytes":
			io.ReadBytes = v
		case "write_bytes":
			io.WriteBytes = v
		}
	}
	return io
}

// parseCgroupFile extracts the unified (v2) cgroup path from
// /proc/<pid>/cgroup, whose v2 line has the form "0::/path".
func parseCgroupFile(raw []byte) string {
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(line, "0::") {
			return strings.TrimPrefix(line, "0::")
		}
	}
	return ""
}

// collectCmdlines reads /proc/<pid>/cmdline for every pid in infos through
// a bounded worker pool. A pid whose read exceeds CmdlineTimeout is left
// with a nil Cmdline; the read goroutine is abandoned (not killed — Go has
// no way to cancel a blocked read syscall) and its result is discarded
// when it eventually returns.
func (c *ProcessCollector) collectCmdlines(ctx context.Context, procPath string, infos map[int32]*PidInfo) {
	cfg := c.Config()
	sem := semaphore.NewWeighted(int64(cfg.CmdlineWorkers))

	var wg sync.WaitGroup
	for pid, info := range infos {
		pid, info := pid, info
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			result := make(chan []string, 1)
			go func() {
				b, err := os.ReadFile(filepath.Join(procPath, strconv.Itoa(int(pid)), "cmdline"))
				if err != nil {
					result <- nil
					return
				}
				result <- splitCmdline(b)
			}()

			select {
			case cmdline := <-result:
				info.Cmdline = cmdline
			case <-time.After(cfg.CmdlineTimeout):
				c.Logger().V(2).Info("cmdline read timed out", "pid", pid,
					"error", pkgerrors.NewRetryable("cmdline read timeout"))
			}
		}()
	}
	wg.Wait()
}

func splitCmdline(raw []byte) []string {
	parts := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
