// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reading holds the value/time/identifier triple every meter
// driver produces and every sink consumes.
package reading

import (
	"fmt"
	"math"
	"time"
)

// Reading is a single metered sample. Once placed into a channel buffer
// only aggregation changes it: the surviving reading takes the
// aggregated value (and, with a fixed interval, the snapped time) while
// the others get the delete marker, which also flips after an upload.
type Reading struct {
	value   float64
	time    time.Time
	id      Identifier
	deleted bool
}

// New returns a reading with the given value, timestamp and identifier.
func New(value float64, t time.Time, id Identifier) Reading {
	return Reading{value: value, time: t, id: id}
}

func (r *Reading) Value() float64      { return r.value }
func (r *Reading) SetValue(v float64)  { r.value = v }
func (r *Reading) Time() time.Time     { return r.time }
func (r *Reading) SetTime(t time.Time) { r.time = t }

// UnixMilli returns the timestamp as integer milliseconds since the
// Unix epoch, the unit of the middleware APIs.
func (r *Reading) UnixMilli() int64 { return r.time.UnixMilli() }

// Seconds returns the timestamp as whole seconds plus microseconds.
func (r *Reading) Seconds() (sec int64, usec int64) {
	return r.time.Unix(), int64(r.time.Nanosecond() / 1000)
}

func (r *Reading) Identifier() Identifier      { return r.id }
func (r *Reading) SetIdentifier(id Identifier) { r.id = id }

func (r *Reading) Deleted() bool { return r.deleted }
func (r *Reading) MarkDeleted()  { r.deleted = true }
func (r *Reading) Undelete()     { r.deleted = false }

func (r *Reading) String() string {
	return fmt.Sprintf("id=%s value=%.4f ts=%d", r.id, r.value, r.UnixMilli())
}

// TimeFromSeconds converts fractional seconds since the Unix epoch, the
// time representation of the OMS telegram decoder.
func TimeFromSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}
