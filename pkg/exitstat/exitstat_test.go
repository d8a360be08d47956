// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package exitstat

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExitEventValid(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, exitEvent{Pid: 4242, ExitTsNs: 9000}))

	ev, err := parseExitEvent(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, int32(4242), ev.Pid)
	assert.Equal(t, uint64(9000), ev.ExitTsNs)
}

func TestParseExitEventTooSmall(t *testing.T) {
	_, err := parseExitEvent([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTrackerDrainExitedAccumulatesAndResets(t *testing.T) {
	tr := New(logr.Discard(), "")

	tr.mu.Lock()
	tr.pending[100] = struct{}{}
	tr.pending[200] = struct{}{}
	tr.mu.Unlock()

	drained := tr.DrainExited()
	assert.Equal(t, map[int32]struct{}{100: {}, 200: {}}, drained)

	// A second drain with nothing new pending returns an empty, non-nil map.
	second := tr.DrainExited()
	assert.Empty(t, second)
	assert.NotNil(t, second)
}

func TestNewDefaultsObjectPath(t *testing.T) {
	t.Setenv("ANTIMETAL_BPF_PATH", "")

	tr := New(logr.Discard(), "")
	assert.Equal(t, "/usr/local/lib/antimetal/ebpf/exitstat.bpf.o", tr.objectPath)

	tr = New(logr.Discard(), "/custom/path.o")
	assert.Equal(t, "/custom/path.o", tr.objectPath)
}
