// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"time"

	"github.com/facebookincubator/below-sub000/pkg/model"
	"github.com/facebookincubator/below-sub000/pkg/sample"
)

// advanceState tracks which direction Advance last moved in, since the
// caching policy flips depending on it (§4.5).
type advanceState int

const (
	stateUninitialized advanceState = iota
	stateForward
	stateReverse
)

// Advance is a two-sample windowed navigator sitting on top of a
// Cursor: it caches one sample between calls so the Modeler gets a
// (old, new) pair for the cost of one store read per step instead of
// two.
type Advance struct {
	cursor *Cursor
	state  advanceState

	// cached holds the sample that plays the role of "older" while
	// stepping Forward, or "newer" while stepping Reverse.
	cached   *sample.Sample
	cachedAt time.Time
	target   time.Time
}

// NewAdvance wraps a Cursor. Call Initialize before the first Advance.
func NewAdvance(cursor *Cursor) *Advance {
	return &Advance{cursor: cursor}
}

// Initialize positions on the first sample at or after start, populating
// the cache. Required before Advance. Direction starts at Forward, the
// same default the caching invariant assumes before any real step has
// happened.
func (a *Advance) Initialize(start time.Time) bool {
	ts, frame, ok := a.cursor.GetNext(start, Forward)
	if !ok {
		return false
	}
	a.cached = frame.Sample
	a.cachedAt = ts
	a.target = ts
	a.state = stateForward
	return true
}

// Advance steps one tick in dir and yields the resulting Model. On a
// direction flip, two reads happen internally — one to reposition onto
// the new caching invariant, one to emit the model — collapsed into a
// single logical step from the caller's perspective.
func (a *Advance) Advance(dir Direction) *model.Model {
	if a.state == stateUninitialized {
		a.state = directionState(dir)
		return a.stepSameDirection(dir)
	}

	if directionState(dir) != a.state {
		if !a.reposition(dir) {
			return nil
		}
		a.state = directionState(dir)
	}

	return a.stepSameDirection(dir)
}

func directionState(dir Direction) advanceState {
	if dir == Forward {
		return stateForward
	}
	return stateReverse
}

// stepSameDirection performs the one-read steady-state step: the cached
// sample plays "older" (Forward) or "newer" (Reverse), the cursor reads
// exactly once for the other half of the pair, and the cache is updated
// to the newly read sample.
func (a *Advance) stepSameDirection(dir Direction) *model.Model {
	ts, frame, ok := a.cursor.Next(dir)
	if !ok {
		return nil
	}

	var m *model.Model
	if dir == Forward {
		m = model.DiffPair(a.cached, frame.Sample)
	} else {
		m = model.DiffPair(frame.Sample, a.cached)
	}

	a.cached = frame.Sample
	a.cachedAt = ts
	a.target = ts
	return m
}

// reposition handles the flip case: it steps the cursor one entry in the
// new direction, moving the cache off the sample it was just displaying
// and onto its dir-neighbor, so the following stepSameDirection call
// reads the next entry past *that* to complete the pair. This mirrors
// the original's recursive flip step, which re-reads one sample ahead
// of the current target before falling through to the normal path.
// Reports false if the end is reached while repositioning.
func (a *Advance) reposition(dir Direction) bool {
	ts, frame, ok := a.cursor.Next(dir)
	if !ok {
		return false
	}
	a.cached = frame.Sample
	a.cachedAt = ts
	a.target = ts
	return true
}

// pairWithOlderNeighbor builds the Model for a seek landing on (ts,
// frame): it looks one entry back in time for an older neighbor to pair
// with, without disturbing the cursor's resting position, and degrades
// to a single-sample Model when no older neighbor exists (the seek
// landed on the very first sample in the store).
func (a *Advance) pairWithOlderNeighbor(ts time.Time, frame *DataFrame) *model.Model {
	saved := a.cursor.GetOffset()
	_, olderFrame, ok := a.cursor.GetNear(ts.Add(-time.Second), Reverse)
	a.cursor.SetOffset(saved)

	if ok {
		return model.DiffPair(olderFrame.Sample, frame.Sample)
	}
	return model.Diff(frame.Sample)
}

// JumpTo repositions the window at timestamp and yields a fresh model
// pairing the landed sample with its older neighbor. Prefers forward
// search; a timestamp later than the last sample falls back to reverse
// search so the latest available model is still returned. Direction
// always resets to Forward.
func (a *Advance) JumpTo(timestamp time.Time) *model.Model {
	if !a.cursor.JumpToKey(timestamp, Forward) {
		if !a.cursor.JumpToKey(timestamp, Reverse) {
			return nil
		}
	}
	ts, frame, ok := a.cursor.Get()
	if !ok {
		return nil
	}
	m := a.pairWithOlderNeighbor(ts, frame)
	a.cached = frame.Sample
	a.cachedAt = ts
	a.target = ts
	a.state = stateForward
	return m
}

// GetLatest jumps to the most recent sample in the store.
func (a *Advance) GetLatest() *model.Model {
	// An invalid position makes Advance(Reverse) seek to the store's end.
	a.cursor.pos = Position{}
	if !a.cursor.Advance(Reverse) {
		return nil
	}
	ts, frame, ok := a.cursor.Get()
	if !ok {
		return nil
	}
	m := a.pairWithOlderNeighbor(ts, frame)
	a.cached = frame.Sample
	a.cachedAt = ts
	a.target = ts
	a.state = stateForward
	return m
}

// JumpForward and JumpBackward are convenience derivatives of JumpTo
// relative to the current target timestamp.
func (a *Advance) JumpForward(delta time.Duration) *model.Model {
	return a.JumpTo(a.target.Add(delta))
}

func (a *Advance) JumpBackward(delta time.Duration) *model.Model {
	return a.JumpTo(a.target.Add(-delta))
}
