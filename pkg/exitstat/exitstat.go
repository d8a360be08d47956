// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package exitstat is the consumer-facing surface of the eBPF exit-stat
// external collaborator: a tracepoint attached to sched_process_exit,
// draining a ring buffer of exited pids into a mutex-guarded shared map
// that pkg/sample's Sampler merges in before returning each snapshot.
//
// The BPF program itself (the .bpf.c source, its compiled object, and
// its build step) is an external collaborator and out of scope here;
// this package only attaches a pre-built object, reads its ring buffer,
// and exposes the drain contract (sample.ExitedPidSource).
package exitstat

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/go-logr/logr"

	"github.com/facebookincubator/below-sub000/pkg/ebpf/core"
)

// exitEvent is the fixed-size record the BPF program pushes onto its
// ring buffer on every sched_process_exit: the pid and the exit time in
// nanoseconds, little-endian.
type exitEvent struct {
	Pid       int32
	_         int32 // padding to keep the struct 8-byte aligned
	ExitTsNs  uint64
}

const exitEventSize = 16

// Tracker attaches to the exit tracepoint and accumulates recently
// exited pids until DrainExited is called. Safe for concurrent use:
// the background reader goroutine and any number of DrainExited
// callers may run at once.
type Tracker struct {
	logger logr.Logger

	mu      sync.Mutex
	pending map[int32]struct{}

	objectPath string
	objs       *ebpf.Collection
	tpLink     link.Link
	reader     *ringbuf.Reader

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Tracker without starting it. objectPath is the path
// to the compiled BPF object exposing a "sched_process_exit" program
// and an "exits" ring buffer map; an empty path falls back to
// ANTIMETAL_BPF_PATH/exitstat.bpf.o, then a fixed system path, matching
// the teacher's execsnoop collector's lookup order.
func New(logger logr.Logger, objectPath string) *Tracker {
	if objectPath == "" {
		if envPath := os.Getenv("ANTIMETAL_BPF_PATH"); envPath != "" {
			objectPath = filepath.Join(envPath, "exitstat.bpf.o")
		} else {
			objectPath = "/usr/local/lib/antimetal/ebpf/exitstat.bpf.o"
		}
	}

	return &Tracker{
		logger:     logger.WithName("exitstat"),
		pending:    make(map[int32]struct{}),
		objectPath: objectPath,
		stopCh:     make(chan struct{}),
	}
}

// Start loads the BPF object, attaches it to the exit tracepoint, and
// begins draining its ring buffer in a background goroutine. Start is
// not safe to call twice on the same Tracker.
func (t *Tracker) Start(ctx context.Context) error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("exitstat: removing memlock: %w", err)
	}

	manager, err := core.NewManager(t.logger)
	if err != nil {
		return fmt.Errorf("exitstat: creating CO-RE manager: %w", err)
	}

	coll, err := manager.LoadCollection(t.objectPath)
	if err != nil {
		return fmt.Errorf("exitstat: loading BPF collection: %w", err)
	}
	t.objs = coll

	prog, ok := t.objs.Programs["sched_process_exit"]
	if !ok {
		t.cleanup()
		return errors.New("exitstat: sched_process_exit program not found")
	}

	t.tpLink, err = link.Tracepoint("sched", "sched_process_exit", prog, nil)
	if err != nil {
		t.cleanup()
		return fmt.Errorf("exitstat: attaching tracepoint: %w", err)
	}

	eventsMap, ok := t.objs.Maps["exits"]
	if !ok {
		t.cleanup()
		return errors.New("exitstat: exits map not found")
	}

	t.reader, err = ringbuf.NewReader(eventsMap)
	if err != nil {
		t.cleanup()
		return fmt.Errorf("exitstat: opening ring buffer: %w", err)
	}

	t.wg.Add(1)
	go t.readLoop(ctx)

	return nil
}

// Stop detaches the tracepoint, closes the ring buffer, and waits for
// the background reader to exit.
func (t *Tracker) Stop() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	// Closing the reader interrupts a readLoop blocked in Read.
	if t.reader != nil {
		t.reader.Close()
	}
	t.wg.Wait()
	t.cleanup()
	return nil
}

func (t *Tracker) cleanup() {
	if t.reader != nil {
		t.reader.Close()
		t.reader = nil
	}
	if t.tpLink != nil {
		t.tpLink.Close()
		t.tpLink = nil
	}
	if t.objs != nil {
		t.objs.Close()
		t.objs = nil
	}
}

func (t *Tracker) readLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		record, err := t.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			t.logger.Error(err, "reading exit event from ring buffer")
			continue
		}

		ev, err := parseExitEvent(record.RawSample)
		if err != nil {
			t.logger.V(1).Info("dropping malformed exit event", "error", err)
			continue
		}

		t.mu.Lock()
		t.pending[ev.Pid] = struct{}{}
		t.mu.Unlock()
	}
}

func parseExitEvent(data []byte) (exitEvent, error) {
	if len(data) < exitEventSize {
		return exitEvent{}, fmt.Errorf("exit event too small: %d bytes", len(data))
	}
	var raw exitEvent
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw); err != nil {
		return exitEvent{}, fmt.Errorf("reading exit event: %w", err)
	}
	return raw, nil
}

// DrainExited implements sample.ExitedPidSource: it returns every pid
// accumulated since the last drain and resets the internal set. The
// returned map is owned by the caller.
func (t *Tracker) DrainExited() map[int32]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) == 0 {
		return map[int32]struct{}{}
	}
	drained := t.pending
	t.pending = make(map[int32]struct{})
	return drained
}
