// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package buffer implements the per-channel reading queue that
// decouples meter readers from uploaders and the local view. The queue
// has no size limit; the keep hint only bounds what the local view sees.
package buffer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// AggMode selects how readings within one aggregation window collapse.
type AggMode int

const (
	None AggMode = iota
	Max
	Avg
	Sum
)

// ParseAggMode resolves the "aggmode" config option.
func ParseAggMode(s string) (AggMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "max":
		return Max, nil
	case "avg":
		return Avg, nil
	case "sum":
		return Sum, nil
	}
	return None, errors.Errorf("unknown aggmode %q", s)
}

func (m AggMode) String() string {
	switch m {
	case Max:
		return "MAX"
	case Avg:
		return "AVG"
	case Sum:
		return "SUM"
	default:
		return "NONE"
	}
}

// Buffer is an ordered sequence of readings appended at the tail. The
// reader goroutine pushes, the uploader flips delete marks and cleans;
// every access happens under the buffer's own lock. Waiters block on
// the condition variable until the reader notifies.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	readings  []reading.Reading
	newValues bool
	closed    bool

	keep    int // most-recent readings kept visible to the local view
	aggMode AggMode
}

// New returns an empty buffer with the default retention hint.
func New() *Buffer {
	b := &Buffer{keep: 32}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Buffer) SetAggMode(m AggMode) { b.aggMode = m }
func (b *Buffer) AggMode() AggMode     { return b.aggMode }

func (b *Buffer) SetKeep(n int) { b.keep = n }
func (b *Buffer) Keep() int     { return b.keep }

// Push appends a reading at the tail and raises the newValues flag.
func (b *Buffer) Push(r reading.Reading) {
	b.mu.Lock()
	b.readings = append(b.readings, r)
	b.newValues = true
	b.mu.Unlock()
}

// Notify wakes all goroutines blocked in Wait or WaitTimeout.
func (b *Buffer) Notify() {
	b.cond.Broadcast()
}

// Close wakes all waiters permanently; subsequent waits return false
// immediately. Used during shutdown.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Wait blocks until the next notification unless values were already
// pushed since the last wait. It returns false when the buffer was
// closed. A wake-up does not guarantee new values; callers handle the
// empty case.
func (b *Buffer) Wait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.newValues && !b.closed {
		b.cond.Wait()
	}
	b.newValues = false
	return !b.closed
}

// WaitTimeout is Wait bounded by d. It returns true only if new values
// arrived before the deadline or the buffer closed.
func (b *Buffer) WaitTimeout(d time.Duration) bool {
	expired := false
	t := time.AfterFunc(d, func() {
		b.mu.Lock()
		expired = true
		b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer t.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.newValues && !b.closed && !expired {
		b.cond.Wait()
	}
	got := b.newValues
	b.newValues = false
	return got || b.closed
}

// Each runs fn for every buffered reading under the buffer lock. The
// callback may flip delete marks but must not call back into the
// buffer.
func (b *Buffer) Each(fn func(r *reading.Reading)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.readings {
		fn(&b.readings[i])
	}
}

// Len returns the number of buffered readings, deleted ones included.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}

// Last copies the up to n most recent non-deleted readings, oldest
// first. Used by the local view only.
func (b *Buffer) Last(n int) []reading.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []reading.Reading
	for i := len(b.readings) - 1; i >= 0 && len(out) < n; i-- {
		if !b.readings[i].Deleted() {
			out = append(out, b.readings[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Aggregate collapses all non-deleted readings into a single survivor
// according to the configured mode, marking the others deleted. The
// survivor is the latest reading by timestamp; its value becomes the
// maximum, mean or sum of the window. With fixedInterval the surviving
// timestamps are snapped down to a multiple of window seconds.
// In mode None Aggregate returns without touching the buffer; in the
// other modes it cleans the buffer before returning.
func (b *Buffer) Aggregate(window int, fixedInterval bool) {
	if b.aggMode == None {
		return
	}

	b.mu.Lock()
	var latest *reading.Reading
	var aggvalue float64
	aggcount := 0

	for i := range b.readings {
		r := &b.readings[i]
		if r.Deleted() {
			continue
		}
		if latest == nil || r.Time().After(latest.Time()) {
			latest = r
		}
		switch b.aggMode {
		case Max:
			if aggcount == 0 || r.Value() > aggvalue {
				aggvalue = r.Value()
			}
		case Avg, Sum:
			aggvalue += r.Value()
		}
		aggcount++
	}

	if latest != nil {
		if b.aggMode == Avg {
			aggvalue /= float64(aggcount)
		}
		for i := range b.readings {
			r := &b.readings[i]
			if r.Deleted() {
				continue
			}
			if r == latest {
				r.SetValue(aggvalue)
			} else {
				r.MarkDeleted()
			}
		}
	}

	if fixedInterval && window > 0 {
		w := int64(window)
		for i := range b.readings {
			r := &b.readings[i]
			if !r.Deleted() {
				r.SetTime(time.Unix(w*(r.Time().Unix()/w), 0))
			}
		}
	}
	b.mu.Unlock()

	b.Clean()
}

// Clean drops all readings carrying the delete mark.
func (b *Buffer) Clean() {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.readings[:0]
	for i := range b.readings {
		if !b.readings[i].Deleted() {
			kept = append(kept, b.readings[i])
		}
	}
	b.readings = kept
}

// Undelete clears every delete mark, used to resend after a failed
// upload.
func (b *Buffer) Undelete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.readings {
		b.readings[i].Undelete()
	}
}

// Dump pretty-prints the buffered values as "{v1,v2,...}" into dst and
// reports whether they fit.
func (b *Buffer) Dump(dst []byte) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	sb.WriteByte('{')
	for i := range b.readings {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%.4f", b.readings[i].Value())
	}
	sb.WriteByte('}')

	s := sb.String()
	if len(s) > len(dst) {
		return "", false
	}
	copy(dst, s)
	return s, true
}
