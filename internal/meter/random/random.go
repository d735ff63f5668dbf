// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package random generates values with a bounded random walk, useful
// for testing pipelines without meter hardware.
package random

import (
	"math/rand"
	"time"

	"github.com/volkszaehler/vzlogger/internal/meter"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

func init() {
	meter.Register(meter.Details{
		Name:        "random",
		Description: "Generate random values with a random walk",
		MaxReadings: 1,
		Periodic:    true,
	}, NewFromOptions)
}

type Random struct {
	min, max float64
	last     float64
	rnd      *rand.Rand
}

func NewFromOptions(opts meter.Options) (meter.Protocol, error) {
	min, err := opts.Float("min", 0)
	if err != nil {
		return nil, err
	}
	max, err := opts.Float("max", 40)
	if err != nil {
		return nil, err
	}
	return &Random{
		min:  min,
		max:  max,
		last: (min + max) / 2,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (r *Random) AllowInterval() bool { return true }
func (r *Random) Open() error         { return nil }
func (r *Random) Close() error        { return nil }

func (r *Random) Read(rds []reading.Reading) (int, error) {
	if len(rds) == 0 {
		return 0, nil
	}

	step := (r.rnd.Float64() - 0.5) * (r.max - r.min) / 20
	r.last += step
	if r.last > r.max {
		r.last = r.max
	}
	if r.last < r.min {
		r.last = r.min
	}

	rds[0] = reading.New(r.last, time.Now(), reading.NilIdentifier())
	return 1, nil
}
